package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vantris/erpagent/engine"
	"github.com/vantris/erpagent/types"
)

// Engine is the orchestration surface the handlers drive.
type Engine interface {
	HandleMessage(ctx context.Context, threadID, text string) (*engine.TurnResult, error)
	Resume(ctx context.Context, threadID string, resp types.ConsentResponse) (*engine.TurnResult, error)
	InterruptStatus(ctx context.Context, threadID string) (*types.PendingToolCall, error)
	DeleteThread(ctx context.Context, threadID string) error
}

// ChatRequest is one user turn on a thread. ThreadID may be empty on
// the first message; the handler mints one and the response carries it
// back so the client can continue the conversation.
type ChatRequest struct {
	ThreadID string `json:"thread_id,omitempty"`
	Message  string `json:"message"`
}

// maxMessageLen bounds a single user message.
const maxMessageLen = 32 * 1024

// ChatHandler serves POST /v1/chat.
type ChatHandler struct {
	engine Engine
	logger *zap.Logger
}

// NewChatHandler creates the chat handler.
func NewChatHandler(eng Engine, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{engine: eng, logger: logger}
}

// HandleChat runs one turn and returns the reply or the pending
// consent request.
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := h.validate(&req); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if strings.TrimSpace(req.ThreadID) == "" {
		req.ThreadID = "thread-" + uuid.NewString()
	}

	start := time.Now()
	result, err := h.engine.HandleMessage(r.Context(), req.ThreadID, req.Message)
	if err != nil {
		HandleEngineError(w, err, h.logger)
		return
	}

	h.logger.Info("chat turn",
		zap.String("thread_id", req.ThreadID),
		zap.Bool("awaiting_consent", result.AwaitingConsent),
		zap.Duration("duration", time.Since(start)),
	)
	WriteSuccess(w, result)
}

func (h *ChatHandler) validate(req *ChatRequest) *types.Error {
	if strings.TrimSpace(req.Message) == "" {
		return types.NewError(types.ErrInvalidRequest, "message is required")
	}
	if len(req.Message) > maxMessageLen {
		return types.NewError(types.ErrInvalidRequest, "message exceeds maximum length")
	}
	return nil
}
