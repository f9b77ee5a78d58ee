package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/predictagent/internal/domain"
)

// AuditHandler serves the executor audit trail.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logHandler(logger, "audit")}
}

// ListAudit returns the most recent audit entries.
// GET /api/audit?limit=100
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100, 1000)
	entries, err := h.audit.List(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "limit": limit})
}
