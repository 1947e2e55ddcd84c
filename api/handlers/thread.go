package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/vantris/erpagent/engine"
	"github.com/vantris/erpagent/types"
)

// InterruptEvent is one frame on the interrupt watch stream.
type InterruptEvent struct {
	// Event is "pending" or "cleared".
	Event     string                 `json:"event"`
	Interrupt *types.PendingToolCall `json:"interrupt,omitempty"`
}

// ThreadHandler serves the per-thread endpoints: interrupt status,
// interrupt watch, and deletion.
type ThreadHandler struct {
	engine Engine
	signal engine.Signal
	logger *zap.Logger
}

// NewThreadHandler creates the thread handler. signal may be nil, in
// which case the watch endpoint is unavailable.
func NewThreadHandler(eng Engine, signal engine.Signal, logger *zap.Logger) *ThreadHandler {
	return &ThreadHandler{engine: eng, signal: signal, logger: logger}
}

// HandleInterrupt reports the pending consent request for a thread.
// Data is null when nothing is pending.
func (h *ThreadHandler) HandleInterrupt(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if threadID == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "thread id is required"), h.logger)
		return
	}

	pending, err := h.engine.InterruptStatus(r.Context(), threadID)
	if err != nil {
		HandleEngineError(w, err, h.logger)
		return
	}
	WriteSuccess(w, pending)
}

// HandleDelete removes all persisted state for a thread.
func (h *ThreadHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if threadID == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "thread id is required"), h.logger)
		return
	}

	if err := h.engine.DeleteThread(r.Context(), threadID); err != nil {
		HandleEngineError(w, err, h.logger)
		return
	}
	h.logger.Info("thread deleted", zap.String("thread_id", threadID))
	WriteSuccess(w, map[string]string{"thread_id": threadID, "status": "deleted"})
}

// HandleWatch upgrades to a websocket and streams interrupt events
// for the thread until the client disconnects. The current status is
// sent first so clients need no separate poll.
func (h *ThreadHandler) HandleWatch(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if threadID == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "thread id is required"), h.logger)
		return
	}
	if h.signal == nil {
		WriteError(w, types.NewError(types.ErrServiceUnavailable,
			"interrupt watch is not available without a signal channel"), h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	events, err := h.signal.Subscribe(ctx, threadID)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}

	// Snapshot first, then deltas.
	if pending, err := h.engine.InterruptStatus(ctx, threadID); err == nil {
		if err := h.writeEvent(ctx, conn, pending); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case pending, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := h.writeEvent(ctx, conn, pending); err != nil {
				return
			}
		}
	}
}

func (h *ThreadHandler) writeEvent(ctx context.Context, conn *websocket.Conn, pending *types.PendingToolCall) error {
	event := InterruptEvent{Event: "cleared"}
	if pending != nil {
		event.Event = "pending"
		event.Interrupt = pending
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, event); err != nil {
		h.logger.Debug("interrupt watch write failed", zap.Error(err))
		return err
	}
	return nil
}
