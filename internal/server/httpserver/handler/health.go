package handler

import (
	"net/http"
	"time"

	"github.com/yndnr/toolhost-go/internal/core/domain"
	"github.com/yndnr/toolhost-go/internal/infra/buildinfo"
	"github.com/yndnr/toolhost-go/internal/server/monitor"
)

// handleHealth handles GET /health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady handles GET /ready. It fails once shutdown has begun so load
// balancers stop routing here.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.cfg.ShuttingDown() {
		h.writeError(w, r, http.StatusServiceUnavailable,
			domain.ErrServiceUnavailable.Code, "shutting down",
			map[string]string{"shutdown_state": h.cfg.ShutdownState()})
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus handles GET /status.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	mem, _ := monitor.MemoryUsed()
	sessions := 0
	if h.cfg.Sessions != nil {
		sessions = h.cfg.Sessions.Len()
	}
	uptime := time.Since(h.cfg.StartedAt)
	if h.cfg.Usage != nil {
		uptime = h.cfg.Usage.Uptime()
	}

	h.writeJSON(w, r, http.StatusOK, StatusResponse{
		InstanceID:       h.cfg.InstanceID,
		Category:         h.cfg.Category,
		Version:          buildinfo.Get().Version,
		RequestsTotal:    h.cfg.Requests.Total(),
		RequestsInFlight: h.cfg.Requests.Active(),
		MemoryBytes:      mem,
		MemoryHuman:      monitor.FormatBytes(mem),
		UptimeSeconds:    uptime.Seconds(),
		Sessions:         sessions,
		ShutdownState:    h.cfg.ShutdownState(),
	})
}
