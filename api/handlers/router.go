package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/vantris/erpagent/engine"
)

// RouterConfig wires the handlers into one mux.
type RouterConfig struct {
	Engine Engine
	// Signal enables the interrupt watch websocket; may be nil.
	Signal engine.Signal
	Health *HealthHandler
	Logger *zap.Logger

	Version   string
	BuildTime string
	GitCommit string
}

// NewRouter builds the API mux. Middleware is layered on by the
// caller.
func NewRouter(cfg RouterConfig) *http.ServeMux {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	chat := NewChatHandler(cfg.Engine, logger)
	consent := NewConsentHandler(cfg.Engine, logger)
	thread := NewThreadHandler(cfg.Engine, cfg.Signal, logger)
	health := cfg.Health
	if health == nil {
		health = NewHealthHandler(logger)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", chat.HandleChat)
	mux.HandleFunc("POST /v1/consent", consent.HandleResolve)
	mux.HandleFunc("GET /v1/threads/{id}/interrupt", thread.HandleInterrupt)
	mux.HandleFunc("GET /v1/threads/{id}/interrupt/watch", thread.HandleWatch)
	mux.HandleFunc("DELETE /v1/threads/{id}", thread.HandleDelete)

	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(cfg.Version, cfg.BuildTime, cfg.GitCommit))

	return mux
}
