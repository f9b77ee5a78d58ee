package agent

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictagent/internal/catalog"
	"github.com/alanyoungcy/predictagent/internal/chain"
	"github.com/alanyoungcy/predictagent/internal/decision"
	"github.com/alanyoungcy/predictagent/internal/domain"
	"github.com/alanyoungcy/predictagent/internal/executor"
	"github.com/alanyoungcy/predictagent/internal/nft"
	"github.com/alanyoungcy/predictagent/internal/notify"
	"github.com/alanyoungcy/predictagent/internal/store/sqlite"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeVenue struct {
	mu       sync.Mutex
	markets  []domain.PredictionMarket
	prices   map[string]int
	fetchErr error
}

func (f *fakeVenue) Name() string { return "fake" }
func (f *fakeVenue) Live() bool   { return false }

func (f *fakeVenue) FetchMarkets(context.Context) ([]domain.PredictionMarket, error) {
	return f.markets, f.fetchErr
}

func (f *fakeVenue) GetPrice(_ context.Context, id string, _ domain.Outcome) domain.PriceQuote {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.prices[id]; ok {
		return domain.ObservedPrice(p)
	}
	return domain.EstimatedPrice()
}

func (f *fakeVenue) PlaceOrder(context.Context, domain.OrderRequest) (domain.OrderResult, error) {
	return domain.OrderResult{}, errors.New("not live")
}

type fakeWallet struct{ eth float64 }

func (w fakeWallet) Balance(context.Context) (*big.Int, error) { return chain.EthToWei(w.eth), nil }

type recordingSender struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingSender) Name() string { return "recording" }

type countingArchiver struct{ calls int }

func (c *countingArchiver) ArchiveLedger(context.Context) (string, int, error) {
	c.calls++
	return "trades/x.jsonl", 2, nil
}

type countingGenerator struct {
	calls int
	inner decision.Generator
	hook  func()
}

func (g *countingGenerator) Analyze(ctx context.Context, in decision.Input) (decision.Analysis, error) {
	g.calls++
	if g.hook != nil {
		g.hook()
	}
	return g.inner.Analyze(ctx, in)
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	agent    *Agent
	trades   *sqlite.TradeStore
	sender   *recordingSender
	archiver *countingArchiver
	gen      *countingGenerator
}

func newHarness(t *testing.T, cfg Config, balance float64, venue *fakeVenue, analysis decision.Analysis) *harness {
	t.Helper()
	db, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	trades := sqlite.NewTradeStore(db)

	resolver := catalog.NewResolver(venue, nil, catalog.PolicyWarn, nil)
	wallet := fakeWallet{eth: balance}
	exec := executor.New(executor.Config{EthUsdPrice: 3000}, executor.Deps{
		Venue:    venue,
		Resolver: resolver,
		Wallet:   wallet,
		Trades:   trades,
		Audit:    sqlite.NewAuditStore(db),
	})
	sender := &recordingSender{}
	archiver := &countingArchiver{}
	gen := &countingGenerator{inner: decision.Static{Analysis: analysis}}

	a := New(cfg, Deps{
		Venue:     venue,
		Markets:   resolver,
		Executor:  exec,
		Wallet:    wallet,
		Trades:    trades,
		Generator: gen,
		NFT:       nft.NewChecker(nil, common.Address{}, 2000, nil),
		Notifier:  notify.NewNotifier([]notify.Sender{sender}, nil, nil),
		Archiver:  archiver,
	})
	return &harness{agent: a, trades: trades, sender: sender, archiver: archiver, gen: gen}
}

func seedOpen(t *testing.T, s domain.TradeStore, id, name string, entry int) domain.TradeRecord {
	t.Helper()
	rec, err := s.Create(context.Background(), domain.TradeRecord{
		Venue:          "fake",
		MarketID:       id,
		MarketName:     name,
		Position:       domain.OutcomeYes,
		AmountEth:      0.01,
		AmountUsd:      30,
		EntryPrice:     entry,
		EntryTxHash:    "0xentry",
		EntryTimestamp: time.Now().Add(-time.Hour),
		Status:         domain.TradeStatusOpen,
		Simulated:      true,
	})
	require.NoError(t, err)
	return rec
}

func testVenue() *fakeVenue {
	return &fakeVenue{
		markets: []domain.PredictionMarket{
			{ID: "m-new", Name: "New market", YesPrice: 5000, NoPrice: 5000, Volume24h: 10},
			{ID: "m-old", Name: "Old market", YesPrice: 6000, NoPrice: 4000, Volume24h: 5},
		},
		prices: map[string]int{"m-new": 5000, "m-old": 6000},
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRunOnce_OpensAndCloses(t *testing.T) {
	analysis := decision.Analysis{
		MarketCommentary: "mixed",
		RiskAssessment:   decision.RiskLow,
		Decisions: []domain.TradeIntent{
			{Action: domain.ActionBuy, MarketID: "m-new", MarketName: "New market", Position: domain.OutcomeYes, AmountEth: 0.01, Confidence: 70},
			{Action: domain.ActionSell, MarketName: "Old market", Position: domain.OutcomeYes, AmountEth: 0.01},
			{Action: domain.ActionHold, MarketID: "m-new", Position: domain.OutcomeNo, AmountEth: 0.01},
		},
	}
	h := newHarness(t, Config{}, 1, testVenue(), analysis)
	old := seedOpen(t, h.trades, "m-old", "Old market", 4000)
	ctx := context.Background()

	res, err := h.agent.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Markets)
	assert.Equal(t, 1, res.OpenPositions)
	assert.InDelta(t, 1.0, res.PortfolioEth, 1e-9)
	require.Len(t, res.Opened, 1)
	require.Len(t, res.Closed, 1)
	assert.Empty(t, res.Rejected)

	assert.Equal(t, "m-new", res.Opened[0].ResolvedMarketID)
	assert.True(t, res.Opened[0].Simulated)
	assert.Equal(t, 5000, res.Closed[0].PnlBps)
	assert.Equal(t, domain.PriceObserved, res.Closed[0].PriceSource)
	assert.Equal(t, []string{old.ID}, res.NFTEligible)
	assert.Equal(t, 1, h.archiver.calls)
	assert.Equal(t, "trades/x.jsonl", res.ArchivePath)

	closed, err := h.trades.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusClosed, closed.Status)
	require.NotNil(t, closed.ExitPrice)
	assert.Equal(t, 6000, *closed.ExitPrice)

	open, err := h.trades.GetOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "m-new", open[0].MarketID)

	assert.Equal(t, []string{"Trade opened (simulated)", "Trade closed (simulated)", "Notable trade"}, h.sender.titles)
}

func TestRunOnce_CloseWithoutVenuePriceIsEstimated(t *testing.T) {
	analysis := decision.Analysis{Decisions: []domain.TradeIntent{
		{Action: domain.ActionSell, MarketID: "m-gone", Position: domain.OutcomeYes, AmountEth: 0.01},
	}}
	h := newHarness(t, Config{}, 1, testVenue(), analysis)
	gone := seedOpen(t, h.trades, "m-gone", "Delisted market", 4000)

	res, err := h.agent.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Closed, 1)
	assert.Equal(t, domain.PriceEstimated, res.Closed[0].PriceSource)
	assert.Equal(t, domain.NeutralPriceBps, res.Closed[0].ActualPrice)
	assert.Equal(t, 2500, res.Closed[0].PnlBps)
	// 2500 bps clears the 2000 threshold, but an estimated exit never mints.
	assert.Empty(t, res.NFTEligible)
	assert.NotContains(t, h.sender.titles, "Notable trade")

	closed, err := h.trades.GetByID(context.Background(), gone.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusClosed, closed.Status)
}

func TestRunOnce_BuyUsesSnapshotPrice(t *testing.T) {
	v := testVenue()
	v.markets = append(v.markets, domain.PredictionMarket{ID: "m-thin", Name: "Thin market", YesPrice: 7000, NoPrice: 3000})
	analysis := decision.Analysis{Decisions: []domain.TradeIntent{
		{Action: domain.ActionBuy, MarketID: "m-thin", Position: domain.OutcomeNo, AmountEth: 0.01},
	}}
	h := newHarness(t, Config{}, 1, v, analysis)

	res, err := h.agent.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Opened, 1)
	assert.Equal(t, 3000, res.Opened[0].ActualPrice)
	assert.Equal(t, domain.PriceObserved, res.Opened[0].PriceSource)
}

func TestRunOnce_BelowMinBalanceSkipsTrading(t *testing.T) {
	analysis := decision.Analysis{Decisions: []domain.TradeIntent{
		{Action: domain.ActionBuy, MarketID: "m-new", Position: domain.OutcomeYes, AmountEth: 0.001},
	}}
	h := newHarness(t, Config{MinEthBalance: 0.01}, 0.005, testVenue(), analysis)

	res, err := h.agent.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Contains(t, res.Skipped, "below")
	assert.Zero(t, h.gen.calls)
	assert.Empty(t, res.Opened)
	assert.Equal(t, []string{"Trading skipped"}, h.sender.titles)
}

func TestRunOnce_MaxOpenPositions(t *testing.T) {
	analysis := decision.Analysis{Decisions: []domain.TradeIntent{
		{Action: domain.ActionBuy, MarketID: "m-new", Position: domain.OutcomeYes, AmountEth: 0.01},
	}}
	h := newHarness(t, Config{MaxOpenPositions: 1}, 1, testVenue(), analysis)
	seedOpen(t, h.trades, "m-old", "Old market", 4000)

	res, err := h.agent.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Opened)
	require.Len(t, res.Rejected, 1)
	assert.Contains(t, res.Rejected[0].Error, ErrMaxOpenPositions.Error())
	assert.Equal(t, []string{"Trade rejected"}, h.sender.titles)
	assert.Zero(t, h.archiver.calls)
}

func TestRunOnce_ExecutorRejection(t *testing.T) {
	analysis := decision.Analysis{Decisions: []domain.TradeIntent{
		{Action: domain.ActionBuy, MarketID: "m-new", Position: domain.OutcomeYes, AmountEth: 0.05},
	}}
	// 0.05 ETH is more than 10% of a 0.2 ETH wallet.
	h := newHarness(t, Config{}, 0.2, testVenue(), analysis)

	res, err := h.agent.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Rejected, 1)
	assert.Contains(t, res.Rejected[0].Error, domain.ErrPositionTooLarge.Error())
}

func TestRunOnce_SellWithoutOpenPositionIsIgnored(t *testing.T) {
	analysis := decision.Analysis{Decisions: []domain.TradeIntent{
		{Action: domain.ActionSell, MarketID: "m-new", Position: domain.OutcomeYes, AmountEth: 0.01},
	}}
	h := newHarness(t, Config{}, 1, testVenue(), analysis)

	res, err := h.agent.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Closed)
	assert.Empty(t, res.Rejected)
	assert.Empty(t, h.sender.titles)
}

func TestRunOnce_CatalogFailure(t *testing.T) {
	v := testVenue()
	v.fetchErr = errors.New("venue down")
	h := newHarness(t, Config{}, 1, v, decision.Analysis{})

	_, err := h.agent.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "venue down")
	assert.Zero(t, h.gen.calls)
}

func TestRunLoop_StopsOnCancel(t *testing.T) {
	h := newHarness(t, Config{LoopInterval: time.Hour}, 1, testVenue(), decision.Analysis{})
	ctx, cancel := context.WithCancel(context.Background())
	h.gen.hook = cancel

	done := make(chan error, 1)
	go func() { done <- h.agent.RunLoop(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunLoop did not return after cancel")
	}
	assert.Equal(t, 1, h.gen.calls)
}

func TestMatchOpen(t *testing.T) {
	open := []domain.TradeRecord{
		{MarketID: "a", MarketName: "Alpha", Position: domain.OutcomeYes},
		{MarketID: "b", MarketName: "Beta ", Position: domain.OutcomeNo},
	}
	tests := []struct {
		name   string
		intent domain.TradeIntent
		want   int
	}{
		{"by id", domain.TradeIntent{MarketID: "b"}, 1},
		{"by trimmed name", domain.TradeIntent{MarketName: " Beta"}, 1},
		{"outcome mismatch", domain.TradeIntent{MarketID: "a", Position: domain.OutcomeNo}, -1},
		{"unknown", domain.TradeIntent{MarketID: "z", MarketName: "Zeta"}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchOpen(open, tt.intent))
		})
	}
}

func TestReportAndStats(t *testing.T) {
	h := newHarness(t, Config{}, 1, testVenue(), decision.Analysis{})
	ctx := context.Background()
	seedOpen(t, h.trades, "m-new", "New market", 5000)
	closed := seedOpen(t, h.trades, "m-old", "Old market", 4000)
	require.NoError(t, closed.Close(5000, "0xexit", time.Now()))
	require.NoError(t, h.trades.Update(ctx, closed))

	var buf bytes.Buffer
	require.NoError(t, Report(ctx, &buf, h.trades, 10))
	out := buf.String()
	assert.Contains(t, out, "OPEN POSITIONS (1)")
	assert.Contains(t, out, "RECENT TRADES (2)")
	assert.Contains(t, out, "New market")
	assert.Contains(t, out, "+25.00%")

	all, err := h.trades.List(ctx, 0)
	require.NoError(t, err)
	s := Stats(all)
	assert.Equal(t, 1, s.Open)
	assert.Equal(t, 1, s.Closed)
	assert.Equal(t, 1, s.Wins)
	assert.InDelta(t, 2500.0, s.AvgPnlBps, 1e-9)
	assert.Equal(t, 2, s.Simulated)
}

func TestWriteIteration(t *testing.T) {
	var buf bytes.Buffer
	WriteIteration(&buf, IterationResult{Venue: "fake", Skipped: "balance too low"})
	assert.Contains(t, buf.String(), "skipped: balance too low")

	buf.Reset()
	WriteIteration(&buf, IterationResult{
		Venue:    "fake",
		Opened:   []domain.TradeResult{{TradeID: "t1", ResolvedMarketID: "m-new", ActualPrice: 5000, TxHash: "0xabc"}},
		Rejected: []Rejection{{Intent: domain.TradeIntent{MarketName: "Old market"}, Error: "insufficient balance"}},
	})
	out := buf.String()
	assert.Contains(t, out, "m-new")
	assert.Contains(t, out, "insufficient balance")
}
