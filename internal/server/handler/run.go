package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alanyoungcy/predictagent/internal/agent"
)

// Runner performs one agent iteration.
type Runner interface {
	RunOnce(ctx context.Context) (agent.IterationResult, error)
}

// RunHandler triggers agent iterations over HTTP, one at a time, and keeps
// the outcome of the last one.
type RunHandler struct {
	runner Runner
	logger *slog.Logger

	running sync.Mutex

	mu      sync.RWMutex
	last    *agent.IterationResult
	lastErr string
	lastAt  time.Time
}

// NewRunHandler creates a RunHandler.
func NewRunHandler(runner Runner, logger *slog.Logger) *RunHandler {
	return &RunHandler{runner: runner, logger: logHandler(logger, "run")}
}

// ErrRunInProgress is returned by Execute while another iteration runs.
var ErrRunInProgress = errors.New("an iteration is already running")

// Execute runs one iteration unless another is in progress, and records the
// outcome for Last.
func (h *RunHandler) Execute(ctx context.Context) (agent.IterationResult, error) {
	if !h.running.TryLock() {
		return agent.IterationResult{}, ErrRunInProgress
	}
	defer h.running.Unlock()

	res, err := h.runner.RunOnce(ctx)
	h.record(res, err)
	return res, err
}

// Run executes one iteration and returns its result. A request that arrives
// while an iteration is in progress gets 409. The iteration is not cancelled
// when the client disconnects.
// POST /api/run
func (h *RunHandler) Run(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	h.logger.InfoContext(ctx, "iteration requested", slog.String("remote_addr", r.RemoteAddr))

	res, err := h.Execute(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "message": err.Error()})
	case err != nil:
		h.logger.ErrorContext(ctx, "iteration failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": res})
	}
}

// Last returns the most recent iteration result, its error text and when it
// finished. ok is false before the first run.
func (h *RunHandler) Last() (res agent.IterationResult, errText string, at time.Time, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return agent.IterationResult{}, "", time.Time{}, false
	}
	return *h.last, h.lastErr, h.lastAt, true
}

func (h *RunHandler) record(res agent.IterationResult, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = &res
	h.lastErr = ""
	if err != nil {
		h.lastErr = err.Error()
	}
	h.lastAt = time.Now().UTC()
}
