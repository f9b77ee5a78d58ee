package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictagent/internal/agent"
	"github.com/alanyoungcy/predictagent/internal/domain"
	"github.com/alanyoungcy/predictagent/internal/server/handler"
	"github.com/alanyoungcy/predictagent/internal/server/middleware"
	"github.com/alanyoungcy/predictagent/internal/store/sqlite"
)

const testAPIKey = "cron-secret"

type fakeMarkets struct{}

func (fakeMarkets) GetTrendingMarkets(_ context.Context, limit int) ([]domain.PredictionMarket, error) {
	all := []domain.PredictionMarket{
		{ID: "m1", Name: "First", YesPrice: 6000, NoPrice: 4000, Volume24h: 10},
		{ID: "m2", Name: "Second", YesPrice: 3000, NoPrice: 7000, Volume24h: 5},
	}
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (fakeMarkets) GetMarketByID(_ context.Context, id string) (domain.PredictionMarket, error) {
	if id == "m1" {
		return domain.PredictionMarket{ID: "m1", Name: "First"}, nil
	}
	return domain.PredictionMarket{}, fmt.Errorf("catalog: market %q: %w", id, domain.ErrNotFound)
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   int
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeRunner) RunOnce(context.Context) (agent.IterationResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
		<-f.release
	}
	return agent.IterationResult{Venue: "fake", Markets: 7, OpenPositions: 1}, f.err
}

type harness struct {
	srv    *Server
	trades *sqlite.TradeStore
	audit  *sqlite.AuditStore
	runner *fakeRunner
}

func newHarness(t *testing.T, perMinute int) *harness {
	t.Helper()
	db, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		trades: sqlite.NewTradeStore(db),
		audit:  sqlite.NewAuditStore(db),
		runner: &fakeRunner{},
	}
	runs := handler.NewRunHandler(h.runner, logger)
	h.srv = New(Config{APIKey: testAPIKey, RequestsPerMin: perMinute, CORSOrigins: []string{"https://dash.example/"}}, Handlers{
		Health:  handler.NewHealthHandler("fake"),
		Status:  handler.NewStatusHandler("serve", "fake", false, runs),
		Markets: handler.NewMarketHandler(fakeMarkets{}, logger),
		Trades:  handler.NewTradeHandler(h.trades, logger),
		Audit:   handler.NewAuditHandler(h.audit, logger),
		Run:     runs,
	}, logger)
	return h
}

func (h *harness) do(t *testing.T, method, path string, authed bool) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if authed {
		req.Header.Set("Authorization", "Bearer "+testAPIKey)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)

	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec, body
}

func TestHealth_IsPublic(t *testing.T) {
	h := newHarness(t, 0)
	rec, body := h.do(t, http.MethodGet, "/api/health", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "fake", body["venue"])
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
}

func TestAuth(t *testing.T) {
	h := newHarness(t, 0)

	rec, _ := h.do(t, http.MethodGet, "/api/trades", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/trades", nil)
	req.Header.Set("X-API-Key", "wrong")
	rr := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/trades", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	rr = httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestTrades(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	created, err := h.trades.Create(ctx, domain.TradeRecord{
		Venue:          "fake",
		MarketID:       "m1",
		MarketName:     "First",
		Position:       domain.OutcomeYes,
		AmountEth:      0.01,
		AmountUsd:      30,
		EntryPrice:     6000,
		EntryTxHash:    "0xabc",
		EntryTimestamp: time.Now().UTC(),
		Status:         domain.TradeStatusOpen,
		Simulated:      true,
	})
	require.NoError(t, err)

	rec, body := h.do(t, http.MethodGet, "/api/trades?limit=5", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["trades"], 1)
	assert.EqualValues(t, 5, body["limit"])

	rec, body = h.do(t, http.MethodGet, "/api/trades/open", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	rec, body = h.do(t, http.MethodGet, "/api/trades/"+created.ID, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "m1", body["market_id"])
	assert.Equal(t, "OPEN", body["status"])

	rec, _ = h.do(t, http.MethodGet, "/api/trades/does-not-exist", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAudit(t *testing.T) {
	h := newHarness(t, 0)
	require.NoError(t, h.audit.Log(context.Background(), "trade_opened", map[string]any{"market": "m1"}))

	rec, body := h.do(t, http.MethodGet, "/api/audit", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["entries"], 1)
}

func TestMarkets(t *testing.T) {
	h := newHarness(t, 0)

	rec, body := h.do(t, http.MethodGet, "/api/markets?limit=1", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["markets"], 1)

	rec, body = h.do(t, http.MethodGet, "/api/markets/m1", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "First", body["name"])

	rec, _ = h.do(t, http.MethodGet, "/api/markets/zzz", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRun_RecordsLastIteration(t *testing.T) {
	h := newHarness(t, 0)

	rec, body := h.do(t, http.MethodGet, "/api/status", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, body, "last_iteration")

	rec, body = h.do(t, http.MethodPost, "/api/run", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])

	rec, body = h.do(t, http.MethodGet, "/api/run", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, h.runner.calls)

	rec, body = h.do(t, http.MethodGet, "/api/status", true)
	require.Equal(t, http.StatusOK, rec.Code)
	last, ok := body["last_iteration"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 7, last["markets"])
	assert.NotContains(t, last, "error")
}

func TestRun_Failure(t *testing.T) {
	h := newHarness(t, 0)
	h.runner.err = errors.New("catalog down")

	rec, body := h.do(t, http.MethodPost, "/api/run", true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "catalog down", body["message"])

	_, body = h.do(t, http.MethodGet, "/api/status", true)
	last := body["last_iteration"].(map[string]any)
	assert.Equal(t, "catalog down", last["error"])
}

func TestRun_RejectsConcurrentRequest(t *testing.T) {
	h := newHarness(t, 0)
	h.runner.started = make(chan struct{})
	h.runner.release = make(chan struct{})

	done := make(chan int, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/api/run", nil)
		req.Header.Set("Authorization", "Bearer "+testAPIKey)
		rec := httptest.NewRecorder()
		h.srv.Handler().ServeHTTP(rec, req)
		done <- rec.Code
	}()
	<-h.runner.started

	rec, body := h.do(t, http.MethodPost, "/api/run", true)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, false, body["ok"])

	close(h.runner.release)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, 2)
	for i := 0; i < 2; i++ {
		rec, _ := h.do(t, http.MethodGet, "/api/health", false)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ := h.do(t, http.MethodGet, "/api/health", false)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, 0)
	tests := []struct {
		name   string
		origin string
		want   string
	}{
		{"configured origin", "https://dash.example", "https://dash.example"},
		{"case-insensitive", "https://Dash.Example", "https://Dash.Example"},
		{"other origin", "https://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/run", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			rec := httptest.NewRecorder()
			h.srv.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusNoContent, rec.Code)
			assert.Equal(t, tt.want, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "Origin", rec.Header().Get("Vary"))
			if tt.want != "" {
				assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
				assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
			}
		})
	}
}

func TestCORS_NoOriginsSendsNoHeaders(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := middleware.CORS(nil)(next)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://dash.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	h = middleware.CORS([]string{"*"})(next)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, middleware.RequestIDHeader, rec.Header().Get("Access-Control-Expose-Headers"))
}
