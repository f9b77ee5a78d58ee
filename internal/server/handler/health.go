package handler

import (
	"net/http"
	"time"
)

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	venue   string
	started time.Time
}

// NewHealthHandler creates a HealthHandler for the active venue.
func NewHealthHandler(venue string) *HealthHandler {
	return &HealthHandler{venue: venue, started: time.Now().UTC()}
}

// HealthCheck responds with a simple JSON status indicating the server is alive.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"venue":      h.venue,
		"started_at": h.started.Format(time.RFC3339),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
