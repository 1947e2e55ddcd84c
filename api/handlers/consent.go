package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/vantris/erpagent/types"
)

// ConsentRequest carries a human decision on a pending tool call.
type ConsentRequest struct {
	ThreadID string          `json:"thread_id"`
	Type     string          `json:"type"`
	NewArgs  json.RawMessage `json:"new_args,omitempty"`
	Text     string          `json:"text,omitempty"`
	Choice   string          `json:"choice,omitempty"`
}

// ConsentHandler serves POST /v1/consent.
type ConsentHandler struct {
	engine Engine
	logger *zap.Logger
}

// NewConsentHandler creates the consent handler.
func NewConsentHandler(eng Engine, logger *zap.Logger) *ConsentHandler {
	return &ConsentHandler{engine: eng, logger: logger}
}

// HandleResolve applies the decision and drives the suspended turn
// forward. Unknown decision types are treated as deny.
func (h *ConsentHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req ConsentRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.ThreadID) == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "thread_id is required"), h.logger)
		return
	}

	resp := types.ConsentResponse{
		Kind:    types.ConsentKind(req.Type),
		NewArgs: req.NewArgs,
		Text:    req.Text,
		Choice:  req.Choice,
	}

	result, err := h.engine.Resume(r.Context(), req.ThreadID, resp)
	if err != nil {
		HandleEngineError(w, err, h.logger)
		return
	}

	h.logger.Info("consent resolved",
		zap.String("thread_id", req.ThreadID),
		zap.String("decision", req.Type),
		zap.Bool("awaiting_consent", result.AwaitingConsent),
	)
	WriteSuccess(w, result)
}
