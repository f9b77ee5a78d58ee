package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves the agent status: mode, venue and last iteration.
type StatusHandler struct {
	Mode  string
	Venue string
	Live  bool
	runs  *RunHandler
}

// NewStatusHandler creates a StatusHandler. runs may be nil.
func NewStatusHandler(mode, venue string, live bool, runs *RunHandler) *StatusHandler {
	return &StatusHandler{Mode: mode, Venue: venue, Live: live, runs: runs}
}

// GetStatus responds with the current mode, venue and the last iteration.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":  h.Mode,
		"venue": h.Venue,
		"live":  h.Live,
	}
	if h.runs != nil {
		if res, errText, at, ok := h.runs.Last(); ok {
			last := map[string]any{
				"finished_at":    at.Format(time.RFC3339),
				"markets":        res.Markets,
				"open_positions": res.OpenPositions,
				"opened":         len(res.Opened),
				"closed":         len(res.Closed),
				"rejected":       len(res.Rejected),
				"skipped":        res.Skipped,
			}
			if errText != "" {
				last["error"] = errText
			}
			body["last_iteration"] = last
		}
	}
	writeJSON(w, http.StatusOK, body)
}
