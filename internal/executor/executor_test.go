package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictagent/internal/catalog"
	"github.com/alanyoungcy/predictagent/internal/chain"
	"github.com/alanyoungcy/predictagent/internal/domain"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeVenue struct {
	mu       sync.Mutex
	live     bool
	markets  []domain.PredictionMarket
	price    domain.PriceQuote
	orderErr error
	result   domain.OrderResult

	fetches int
	prices  int
	orders  []domain.OrderRequest
}

func (f *fakeVenue) Name() string { return "fake" }
func (f *fakeVenue) Live() bool   { return f.live }

func (f *fakeVenue) FetchMarkets(context.Context) ([]domain.PredictionMarket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.markets, nil
}

func (f *fakeVenue) GetPrice(context.Context, string, domain.Outcome) domain.PriceQuote {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices++
	return f.price
}

func (f *fakeVenue) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, req)
	if f.orderErr != nil {
		return domain.OrderResult{}, f.orderErr
	}
	return f.result, nil
}

func (f *fakeVenue) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches + f.prices + len(f.orders)
}

type fakeWallet struct{ wei *big.Int }

func (w fakeWallet) Balance(context.Context) (*big.Int, error) { return w.wei, nil }

type memTrades struct {
	mu   sync.Mutex
	rows map[string]domain.TradeRecord
	seq  int
}

func newMemTrades() *memTrades { return &memTrades{rows: map[string]domain.TradeRecord{}} }

func (m *memTrades) Create(_ context.Context, t domain.TradeRecord) (domain.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t.ID = fmt.Sprintf("t-%d", m.seq)
	m.rows[t.ID] = t
	return t, nil
}

func (m *memTrades) Update(_ context.Context, t domain.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[t.ID]; !ok {
		return domain.ErrNotFound
	}
	m.rows[t.ID] = t
	return nil
}

func (m *memTrades) GetByID(_ context.Context, id string) (domain.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	if !ok {
		return domain.TradeRecord{}, domain.ErrNotFound
	}
	return t, nil
}

func (m *memTrades) GetOpen(context.Context) ([]domain.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TradeRecord
	for _, t := range m.rows {
		if t.Status == domain.TradeStatusOpen {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTrades) List(ctx context.Context, _ int) ([]domain.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TradeRecord, 0, len(m.rows))
	for _, t := range m.rows {
		out = append(out, t)
	}
	return out, nil
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(context.Context, int) ([]domain.AuditEntry, error) { return nil, nil }

type harness struct {
	exec   *Executor
	venue  *fakeVenue
	trades *memTrades
	audit  *memAudit
}

func newHarness(venue *fakeVenue, balanceEth float64) *harness {
	h := &harness{venue: venue, trades: newMemTrades(), audit: &memAudit{}}
	resolver := catalog.NewResolver(venue, nil, catalog.PolicyWarn, nil)
	h.exec = New(Config{
		MaxPositionSize: 0.1,
		EthUsdPrice:     3000,
		StopLossBps:     1500,
		TakeProfitBps:   3000,
	}, Deps{
		Venue:    venue,
		Resolver: resolver,
		Wallet:   fakeWallet{wei: chain.EthToWei(balanceEth)},
		Trades:   h.trades,
		Audit:    h.audit,
	})
	h.exec.now = func() time.Time { return time.Unix(1_700_000_000, 0).UTC() }
	return h
}

func buyIntent(amount float64) domain.TradeIntent {
	return domain.TradeIntent{
		Action:     domain.ActionBuy,
		MarketID:   "stale-id",
		MarketName: "Will BTC close above 100k?",
		Position:   domain.OutcomeYes,
		AmountEth:  amount,
	}
}

// ---------------------------------------------------------------------------
// ExecuteTrade
// ---------------------------------------------------------------------------

func TestExecuteTrade_InsufficientBalanceTouchesNoVenue(t *testing.T) {
	venue := &fakeVenue{live: true}
	h := newHarness(venue, 0.03)

	res, err := h.exec.ExecuteTrade(context.Background(), buyIntent(0.05))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, domain.StateRejected, res.State)
	assert.Zero(t, venue.calls())
	assert.Empty(t, h.trades.rows)
	assert.Equal(t, []string{"trade.pending", "trade.rejected"}, h.audit.events)
}

func TestExecuteTrade_PositionTooLarge(t *testing.T) {
	venue := &fakeVenue{live: true}
	h := newHarness(venue, 0.5)

	_, err := h.exec.ExecuteTrade(context.Background(), buyIntent(0.06))
	require.ErrorIs(t, err, domain.ErrPositionTooLarge)
	assert.Zero(t, venue.calls())
}

func TestExecuteTrade_MockPath(t *testing.T) {
	venue := &fakeVenue{live: false, price: domain.ObservedPrice(4200)}
	h := newHarness(venue, 1)

	res, err := h.exec.ExecuteTrade(context.Background(), buyIntent(0.05))
	require.NoError(t, err)
	assert.True(t, res.Simulated)
	assert.Regexp(t, `^0x[0-9a-f]{64}$`, res.TxHash)
	assert.Equal(t, 4200, res.ActualPrice)
	assert.Equal(t, domain.StateOpen, res.State)
	assert.Empty(t, venue.orders)

	rec, err := h.trades.GetByID(context.Background(), res.TradeID)
	require.NoError(t, err)
	assert.True(t, rec.Simulated)
	assert.Equal(t, "stale-id", rec.MarketID)
	assert.Equal(t, domain.TradeStatusOpen, rec.Status)
	assert.Equal(t, 150.0, rec.AmountUsd)
}

func TestExecuteTrade_LivePathResolvesByName(t *testing.T) {
	venue := &fakeVenue{
		live: true,
		markets: []domain.PredictionMarket{
			{ID: "btc-100k-dec", Name: " Will BTC close above 100k? "},
			{ID: "eth-5k", Name: "ETH above 5k?"},
		},
		price:  domain.EstimatedPrice(),
		result: domain.OrderResult{OrderID: "ord-1"},
	}
	h := newHarness(venue, 1)

	res, err := h.exec.ExecuteTrade(context.Background(), buyIntent(0.01))
	require.NoError(t, err)
	assert.Equal(t, "btc-100k-dec", res.ResolvedMarketID)
	assert.Equal(t, "ord-1", res.TxHash)
	assert.Equal(t, domain.PriceEstimated, res.PriceSource)
	assert.False(t, res.Simulated)
	assert.Equal(t, chain.EthToWei(0.01).String(), res.AmountWei)

	require.Len(t, venue.orders, 1)
	order := venue.orders[0]
	assert.Equal(t, "btc-100k-dec", order.MarketID)
	assert.Equal(t, domain.OrderSideBuy, order.Side)
	assert.Equal(t, 5000, order.PriceBps)
	assert.InDelta(t, 30.0, order.AmountUsd, 1e-9)

	rec, err := h.trades.GetByID(context.Background(), res.TradeID)
	require.NoError(t, err)
	assert.Equal(t, "btc-100k-dec", rec.MarketID)
	assert.Equal(t, "fake", rec.Venue)
	assert.Equal(t, 5000, rec.EntryPrice)
	assert.Equal(t, []string{"trade.pending", "trade.submitted", "trade.open"}, h.audit.events)
}

func TestExecuteTrade_ExpectedPriceSkipsLookup(t *testing.T) {
	venue := &fakeVenue{live: true, result: domain.OrderResult{OrderID: "x", Simulated: true}}
	h := newHarness(venue, 1)

	in := buyIntent(0.01)
	in.ExpectedPrice = 6100
	res, err := h.exec.ExecuteTrade(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 6100, res.ActualPrice)
	assert.Zero(t, venue.prices)
	assert.True(t, res.Simulated)
}

func TestExecuteTrade_VenueErrorRejects(t *testing.T) {
	venue := &fakeVenue{live: true, price: domain.ObservedPrice(5000), orderErr: errors.New("boom")}
	h := newHarness(venue, 1)

	res, err := h.exec.ExecuteTrade(context.Background(), buyIntent(0.01))
	require.Error(t, err)
	assert.Equal(t, domain.StateRejected, res.State)
	assert.Empty(t, h.trades.rows)
	assert.Equal(t, []string{"trade.pending", "trade.rejected"}, h.audit.events)
}

func TestExecuteTrade_DuplicateDropped(t *testing.T) {
	venue := &fakeVenue{live: false, price: domain.ObservedPrice(5000)}
	h := newHarness(venue, 1)

	_, err := h.exec.ExecuteTrade(context.Background(), buyIntent(0.01))
	require.NoError(t, err)
	_, err = h.exec.ExecuteTrade(context.Background(), buyIntent(0.01))
	require.ErrorIs(t, err, domain.ErrDuplicateIntent)
	assert.Len(t, h.trades.rows, 1)
}

func TestExecuteTrade_RejectedIntentCanRetry(t *testing.T) {
	venue := &fakeVenue{live: false, price: domain.ObservedPrice(5000)}
	h := newHarness(venue, 0.03)

	_, err := h.exec.ExecuteTrade(context.Background(), buyIntent(0.05))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// funds arrive; the same intent runs instead of being dropped
	h.exec.wallet = fakeWallet{wei: chain.EthToWei(1)}
	res, err := h.exec.ExecuteTrade(context.Background(), buyIntent(0.05))
	require.NoError(t, err)
	assert.Equal(t, domain.StateOpen, res.State)
	assert.Len(t, h.trades.rows, 1)
}

func TestExecuteTrade_LockTimeout(t *testing.T) {
	venue := &fakeVenue{live: false}
	h := newHarness(venue, 1)

	locks := NewLocalLocker()
	unlock, err := locks.Acquire(context.Background(), DefaultLockKey, time.Minute)
	require.NoError(t, err)
	defer unlock()
	h.exec.locks = locks

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.exec.ExecuteTrade(ctx, buyIntent(0.01))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// the intent was never attempted, so it is not a duplicate
	assert.False(t, h.exec.Dedup().IsDuplicate(IntentKey(buyIntent(0.01))))
}

// ---------------------------------------------------------------------------
// ClosePosition
// ---------------------------------------------------------------------------

func openTrade(t *testing.T, h *harness) domain.TradeRecord {
	t.Helper()
	rec, err := h.trades.Create(context.Background(), domain.TradeRecord{
		Venue:      "fake",
		MarketID:   "old-slug",
		MarketName: "ETH above 5k?",
		Position:   domain.OutcomeNo,
		AmountUsd:  30,
		EntryPrice: 4000,
		Status:     domain.TradeStatusOpen,
	})
	require.NoError(t, err)
	return rec
}

func TestClosePosition_InsufficientSharesCloses(t *testing.T) {
	venue := &fakeVenue{
		live:    true,
		markets: []domain.PredictionMarket{{ID: "eth-5k", Name: "ETH above 5k?"}},
		result:  domain.OrderResult{OrderID: "sell-1", InsufficientShares: true},
	}
	h := newHarness(venue, 1)
	trade := openTrade(t, h)

	res, err := h.exec.ClosePosition(context.Background(), CloseRequest{Trade: trade, Exit: domain.ObservedPrice(5000)})
	require.NoError(t, err)
	assert.True(t, res.InsufficientShares)
	assert.Equal(t, 2500, res.PnlBps)
	assert.Equal(t, domain.StateClosed, res.State)

	require.Len(t, venue.orders, 1)
	sell := venue.orders[0]
	assert.Equal(t, "eth-5k", sell.MarketID)
	assert.Equal(t, domain.OrderSideSell, sell.Side)
	assert.InDelta(t, 75.0, sell.Shares, 1e-9)

	stored, err := h.trades.GetByID(context.Background(), trade.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusClosed, stored.Status)
	require.NotNil(t, stored.PnlBps)
	assert.Equal(t, 2500, *stored.PnlBps)
	assert.Equal(t, "sell-1", *stored.ExitTxHash)
	assert.Equal(t, []string{"trade.closing", "trade.closed"}, h.audit.events)
}

func TestClosePosition_FailureLeavesTradeOpen(t *testing.T) {
	venue := &fakeVenue{live: true, price: domain.ObservedPrice(3000), orderErr: errors.New("venue down")}
	h := newHarness(venue, 1)
	trade := openTrade(t, h)

	res, err := h.exec.ClosePosition(context.Background(), CloseRequest{Trade: trade})
	require.Error(t, err)
	assert.Equal(t, domain.StateCloseFailed, res.State)
	assert.Equal(t, -2500, res.PnlBps)
	assert.Equal(t, 1, venue.prices)

	stored, err := h.trades.GetByID(context.Background(), trade.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusOpen, stored.Status)
	assert.Nil(t, stored.ExitPrice)
	assert.Equal(t, []string{"trade.closing", "trade.close_failed", "trade.open"}, h.audit.events)
}

func TestClosePosition_MockPath(t *testing.T) {
	venue := &fakeVenue{live: false}
	h := newHarness(venue, 1)
	trade := openTrade(t, h)

	res, err := h.exec.ClosePosition(context.Background(), CloseRequest{Trade: trade, Exit: domain.ObservedPrice(4000)})
	require.NoError(t, err)
	assert.True(t, res.Simulated)
	assert.Zero(t, res.PnlBps)
	assert.Empty(t, venue.orders)
}

func TestClosePosition_EstimatedExitKeepsTag(t *testing.T) {
	venue := &fakeVenue{live: false, price: domain.ObservedPrice(7000)}
	h := newHarness(venue, 1)
	trade := openTrade(t, h)

	res, err := h.exec.ClosePosition(context.Background(), CloseRequest{Trade: trade, Exit: domain.EstimatedPrice()})
	require.NoError(t, err)
	assert.Equal(t, domain.PriceEstimated, res.PriceSource)
	assert.Equal(t, domain.NeutralPriceBps, res.ActualPrice)
	assert.Equal(t, 2500, res.PnlBps)
	assert.Zero(t, venue.prices)
}

func TestClosePosition_RequiresOpenTrade(t *testing.T) {
	h := newHarness(&fakeVenue{}, 1)
	trade := openTrade(t, h)
	trade.Status = domain.TradeStatusClosed

	_, err := h.exec.ClosePosition(context.Background(), CloseRequest{Trade: trade, Exit: domain.ObservedPrice(1)})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Empty(t, h.audit.events)
}

// ---------------------------------------------------------------------------
// Dedup
// ---------------------------------------------------------------------------

func TestDedup_WindowAndCleanup(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Unix(0, 0)
	d.now = func() time.Time { return now }

	assert.False(t, d.IsDuplicate("k"))
	assert.True(t, d.IsDuplicate("k"))

	now = now.Add(time.Minute)
	assert.False(t, d.IsDuplicate("k"))

	now = now.Add(2 * time.Minute)
	d.Cleanup()
	assert.Empty(t, d.seen)
}
