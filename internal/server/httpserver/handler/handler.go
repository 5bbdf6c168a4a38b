package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/yndnr/toolhost-go/internal/core/domain"
	"github.com/yndnr/toolhost-go/internal/core/service"
	"github.com/yndnr/toolhost-go/internal/server/inflight"
	"github.com/yndnr/toolhost-go/internal/server/session"
	"github.com/yndnr/toolhost-go/internal/telemetry/history"
	"github.com/yndnr/toolhost-go/internal/telemetry/logger"
	"github.com/yndnr/toolhost-go/internal/telemetry/usage"
)

// SessionHeader carries the connection id on /mcp.
const SessionHeader = "Mcp-Session-Id"

// Config holds the dependencies of Handler.
type Config struct {
	Tools    *service.Tools
	Sessions session.Store
	History  *history.Store
	Usage    *usage.Tracker
	Requests *inflight.Counter

	// Metrics serves /metrics. The route is absent when nil.
	Metrics http.Handler

	InstanceID string
	Category   string
	Server     ServerInfo
	StartedAt  time.Time

	// ShutdownState names the current shutdown phase.
	ShutdownState func() string
	// ShuttingDown reports whether shutdown has begun.
	ShuttingDown func() bool
	// ConnectionCleanup runs after a connection's telemetry is dropped.
	ConnectionCleanup func(ctx context.Context, connID string) error

	Logger *slog.Logger
}

// Handler is the main HTTP handler that routes requests to appropriate handlers.
type Handler struct {
	cfg    Config
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates a Handler and registers all routes.
func New(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Requests == nil {
		cfg.Requests = inflight.New()
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now()
	}
	if cfg.ShutdownState == nil {
		cfg.ShutdownState = func() string { return "running" }
	}
	if cfg.ShuttingDown == nil {
		cfg.ShuttingDown = func() bool { return false }
	}
	if cfg.Server.Name == "" {
		cfg.Server.Name = "toolhost"
	}

	h := &Handler{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "handler"),
		mux:    http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)
	h.mux.HandleFunc("GET /status", h.handleStatus)
	if h.cfg.Metrics != nil {
		h.mux.Handle("GET /metrics", h.cfg.Metrics)
	}

	h.mux.HandleFunc("POST /mcp", h.handleRPC)
	h.mux.HandleFunc("DELETE /mcp", h.handleDisconnect)

	h.mux.HandleFunc("DELETE /admin/v1/connections/{id}", h.handleDeleteConnection)
	h.mux.HandleFunc("GET /admin/v1/connections/{id}/history", h.handleHistory)
	h.mux.HandleFunc("GET /admin/v1/connections/{id}/usage", h.handleUsage)
}

// writeJSON writes a JSON response with standard envelope format.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	response := NewResponse(getRequestID(r), data)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes an error response with standard envelope format.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	response := NewErrorResponse(getRequestID(r), code, message, details)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

// handleServiceError converts service errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.DomainError
	if errors.As(err, &de) {
		var details any
		if de.Details != "" {
			details = de.Details
		}
		h.writeError(w, r, de.HTTPStatus(), de.Code, de.Message, details)
		return
	}

	logger.L(r.Context()).Error("internal error", "error", err)
	h.writeError(w, r, http.StatusInternalServerError, domain.ErrInternalServer.Code, domain.ErrInternalServer.Message, nil)
}

// getRequestID reads the id set by the RequestID middleware.
func getRequestID(r *http.Request) string {
	if id := logger.RequestIDFromContext(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}
