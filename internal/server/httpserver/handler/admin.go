package handler

import (
	"net/http"
	"strconv"

	"github.com/yndnr/toolhost-go/internal/core/domain"
	"github.com/yndnr/toolhost-go/internal/telemetry/history"
	"github.com/yndnr/toolhost-go/internal/telemetry/logger"
)

// teardown drops everything held for a connection. It reports whether a
// live session existed.
func (h *Handler) teardown(r *http.Request, connID string) bool {
	log := logger.L(r.Context())

	existed := h.cfg.Sessions != nil && h.cfg.Sessions.Close(connID)
	if h.cfg.History != nil {
		h.cfg.History.RemoveConnection(connID)
	}
	if h.cfg.Usage != nil {
		h.cfg.Usage.RemoveConnection(connID)
	}
	if h.cfg.ConnectionCleanup != nil {
		if err := h.cfg.ConnectionCleanup(r.Context(), connID); err != nil {
			log.Warn("connection cleanup failed", "connection_id", connID, "error", err)
		}
	}
	log.Info("connection torn down", "connection_id", connID, "had_session", existed)
	return existed
}

// handleDeleteConnection handles DELETE /admin/v1/connections/{id}.
func (h *Handler) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	h.teardown(r, r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// handleHistory handles GET /admin/v1/connections/{id}/history.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	connID := r.PathValue("id")
	query := r.URL.Query()

	q := history.Query{
		MaxResults: history.MaxEntries,
		ToolName:   query.Get("tool"),
		Since:      query.Get("since"),
	}
	if v := query.Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.handleServiceError(w, r, domain.ErrInvalidArgument.WithDetails("max must be a non-negative integer"))
			return
		}
		q.MaxResults = n
	}
	if v := query.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.handleServiceError(w, r, domain.ErrInvalidArgument.WithDetails("offset must be an integer"))
			return
		}
		q.Offset = n
	}

	recs := h.cfg.History.Recent(connID, q)
	h.writeJSON(w, r, http.StatusOK, HistoryResponse{
		ConnectionID: connID,
		Count:        len(recs),
		Records:      recs,
	})
}

// handleUsage handles GET /admin/v1/connections/{id}/usage.
func (h *Handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	connID := r.PathValue("id")
	stats, ok := h.cfg.Usage.Stats(connID)
	if !ok {
		h.handleServiceError(w, r, domain.ErrConnectionNotFound.WithDetails(connID))
		return
	}
	h.writeJSON(w, r, http.StatusOK, UsageResponse{ConnectionID: connID, Stats: stats})
}
