// Package agent runs the trading iteration: fetch the catalog, mark open
// positions to market, ask the decision generator for intents, and hand
// them to the executor.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/predictagent/internal/catalog"
	"github.com/alanyoungcy/predictagent/internal/chain"
	"github.com/alanyoungcy/predictagent/internal/decision"
	"github.com/alanyoungcy/predictagent/internal/domain"
	"github.com/alanyoungcy/predictagent/internal/executor"
	"github.com/alanyoungcy/predictagent/internal/notify"
)

const (
	DefaultLoopInterval     = 3 * time.Minute
	DefaultMarketLimit      = 20
	DefaultPriceConcurrency = 4
)

// ErrMaxOpenPositions rejects a BUY when the open position cap is reached.
var ErrMaxOpenPositions = errors.New("open position limit reached")

// MarketSource fetches the active venue's catalog.
type MarketSource interface {
	FetchMarkets(ctx context.Context) (domain.MarketSnapshot, error)
}

// Executor opens and closes positions.
type Executor interface {
	ExecuteTrade(ctx context.Context, intent domain.TradeIntent) (domain.TradeResult, error)
	ClosePosition(ctx context.Context, req executor.CloseRequest) (domain.TradeResult, error)
	Dedup() *executor.Dedup
}

// MintChecker decides whether a closed trade is notable.
type MintChecker interface {
	ShouldMint(ctx context.Context, t domain.TradeRecord) bool
}

// Config holds the iteration's risk rules and pacing.
type Config struct {
	LoopInterval     time.Duration
	MarketLimit      int
	MaxPositionPct   float64
	StopLossBps      int
	TakeProfitBps    int
	MinEthBalance    float64
	MaxOpenPositions int
	PriceConcurrency int
}

// Deps are the agent's collaborators. NFT, Notifier and Archiver may be nil.
type Deps struct {
	Venue     domain.Venue
	Markets   MarketSource
	Executor  Executor
	Wallet    executor.Wallet
	Trades    domain.TradeStore
	Generator decision.Generator
	NFT       MintChecker
	Notifier  *notify.Notifier
	Archiver  domain.Archiver
	Logger    *slog.Logger
}

// Rejection is an intent the agent or executor refused.
type Rejection struct {
	Intent domain.TradeIntent `json:"intent"`
	Error  string             `json:"error"`
}

// IterationResult summarises one RunOnce call.
type IterationResult struct {
	StartedAt     time.Time            `json:"startedAt"`
	Duration      time.Duration        `json:"duration"`
	Venue         string               `json:"venue"`
	Markets       int                  `json:"markets"`
	PortfolioEth  float64              `json:"portfolioEth"`
	OpenPositions int                  `json:"openPositions"`
	Skipped       string               `json:"skipped,omitempty"`
	Analysis      decision.Analysis    `json:"analysis"`
	Opened        []domain.TradeResult `json:"opened"`
	Closed        []domain.TradeResult `json:"closed"`
	Rejected      []Rejection          `json:"rejected"`
	NFTEligible   []string             `json:"nftEligible"`
	ArchivePath   string               `json:"archivePath,omitempty"`
}

// Agent runs trading iterations against one venue.
type Agent struct {
	cfg       Config
	venue     domain.Venue
	markets   MarketSource
	exec      Executor
	wallet    executor.Wallet
	trades    domain.TradeStore
	generator decision.Generator
	nft       MintChecker
	notifier  *notify.Notifier
	archiver  domain.Archiver
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an Agent.
func New(cfg Config, d Deps) *Agent {
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = DefaultLoopInterval
	}
	if cfg.MarketLimit <= 0 {
		cfg.MarketLimit = DefaultMarketLimit
	}
	if cfg.MinEthBalance < 0 {
		cfg.MinEthBalance = 0
	}
	if cfg.PriceConcurrency <= 0 {
		cfg.PriceConcurrency = DefaultPriceConcurrency
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Agent{
		cfg:       cfg,
		venue:     d.Venue,
		markets:   d.Markets,
		exec:      d.Executor,
		wallet:    d.Wallet,
		trades:    d.Trades,
		generator: d.Generator,
		nft:       d.NFT,
		notifier:  d.Notifier,
		archiver:  d.Archiver,
		logger:    d.Logger.With(slog.String("component", "agent")),
		now:       time.Now,
	}
}

// RunLoop runs an iteration immediately and then every LoopInterval until
// ctx is cancelled. Iteration errors are logged and do not stop the loop.
func (a *Agent) RunLoop(ctx context.Context) error {
	a.logger.InfoContext(ctx, "agent loop starting",
		slog.String("venue", a.venue.Name()),
		slog.Duration("interval", a.cfg.LoopInterval),
	)
	ticker := time.NewTicker(a.cfg.LoopInterval)
	defer ticker.Stop()

	for {
		if _, err := a.RunOnce(ctx); err != nil && ctx.Err() == nil {
			a.logger.ErrorContext(ctx, "iteration failed", slog.String("error", err.Error()))
			a.notify(ctx, notify.EventAgentError, "Agent iteration failed", err.Error())
		}
		select {
		case <-ctx.Done():
			a.logger.InfoContext(ctx, "agent loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs one iteration. It fails only when the catalog, the
// ledger or the wallet cannot be read; individual intent failures are
// reported in the result.
func (a *Agent) RunOnce(ctx context.Context) (IterationResult, error) {
	res := IterationResult{
		StartedAt:   a.now(),
		Venue:       a.venue.Name(),
		Opened:      []domain.TradeResult{},
		Closed:      []domain.TradeResult{},
		Rejected:    []Rejection{},
		NFTEligible: []string{},
	}
	defer func() { res.Duration = a.now().Sub(res.StartedAt) }()
	defer a.exec.Dedup().Cleanup()

	snap, err := a.markets.FetchMarkets(ctx)
	if err != nil {
		return res, fmt.Errorf("agent: %w", err)
	}
	res.Markets = len(snap.Markets)

	open, err := a.trades.GetOpen(ctx)
	if err != nil {
		return res, fmt.Errorf("agent: load open trades: %w", err)
	}
	positions, err := a.markToMarket(ctx, open)
	if err != nil {
		return res, err
	}
	res.OpenPositions = len(open)

	balance, err := a.wallet.Balance(ctx)
	if err != nil {
		return res, fmt.Errorf("agent: read balance: %w", err)
	}
	res.PortfolioEth = chain.WeiToEth(balance)

	a.logger.InfoContext(ctx, "iteration started",
		slog.Int("markets", res.Markets),
		slog.Int("open_positions", res.OpenPositions),
		slog.Float64("portfolio_eth", res.PortfolioEth),
	)

	if res.PortfolioEth < a.cfg.MinEthBalance {
		res.Skipped = fmt.Sprintf("balance %.6f ETH is below the %.6f ETH minimum", res.PortfolioEth, a.cfg.MinEthBalance)
		a.logger.WarnContext(ctx, "skipping trading", slog.String("reason", res.Skipped))
		a.notify(ctx, notify.EventAgentError, "Trading skipped", res.Skipped)
		return res, nil
	}

	analysis, err := a.generator.Analyze(ctx, decision.Input{
		PortfolioEth:  res.PortfolioEth,
		OpenPositions: positions,
		Markets:       catalog.Trending(snap.Markets, a.cfg.MarketLimit),
		Limits: decision.Limits{
			MaxPositionPct:   a.cfg.MaxPositionPct,
			StopLossBps:      a.cfg.StopLossBps,
			TakeProfitBps:    a.cfg.TakeProfitBps,
			MinEthBalance:    a.cfg.MinEthBalance,
			MaxOpenPositions: a.cfg.MaxOpenPositions,
		},
	})
	if err != nil {
		a.logger.WarnContext(ctx, "decision generator failed, using fallback", slog.String("error", err.Error()))
		analysis = decision.Fallback()
	}
	res.Analysis = analysis

	openCount := len(open)
	for _, intent := range analysis.Decisions {
		switch intent.Action {
		case domain.ActionBuy:
			if a.cfg.MaxOpenPositions > 0 && openCount >= a.cfg.MaxOpenPositions {
				a.reject(ctx, &res, intent, fmt.Errorf("agent: %d open: %w", openCount, ErrMaxOpenPositions))
				continue
			}
			if intent.ExpectedPrice <= 0 {
				intent.ExpectedPrice = snapshotPrice(snap.Markets, intent)
			}
			tr, err := a.exec.ExecuteTrade(ctx, intent)
			if err != nil {
				a.reject(ctx, &res, intent, err)
				continue
			}
			openCount++
			res.Opened = append(res.Opened, tr)
			title, msg := notify.TradeOpened(a.venue.Name(), intent, tr)
			a.notify(ctx, notify.EventTradeOpened, title, msg)

		case domain.ActionSell:
			idx := matchOpen(open, intent)
			if idx < 0 {
				a.logger.InfoContext(ctx, "sell intent without an open position",
					slog.String("market_id", intent.MarketID),
					slog.String("market", intent.MarketName),
				)
				continue
			}
			trade := open[idx]
			tr, err := a.exec.ClosePosition(ctx, executor.CloseRequest{Trade: trade, Exit: positions[idx].Current})
			if err != nil {
				a.reject(ctx, &res, intent, err)
				continue
			}
			open = append(open[:idx], open[idx+1:]...)
			positions = append(positions[:idx], positions[idx+1:]...)
			openCount--
			res.Closed = append(res.Closed, tr)
			a.afterClose(ctx, &res, trade, tr)

		default:
			a.logger.DebugContext(ctx, "holding", slog.String("market", intent.MarketName))
		}
	}

	if len(res.Closed) > 0 && a.archiver != nil {
		path, n, err := a.archiver.ArchiveLedger(ctx)
		if err != nil {
			a.logger.ErrorContext(ctx, "ledger archive failed", slog.String("error", err.Error()))
		} else {
			res.ArchivePath = path
			a.logger.InfoContext(ctx, "ledger archived", slog.String("path", path), slog.Int("trades", n))
		}
	}

	a.logger.InfoContext(ctx, "iteration finished",
		slog.Int("decisions", len(analysis.Decisions)),
		slog.Int("opened", len(res.Opened)),
		slog.Int("closed", len(res.Closed)),
		slog.Int("rejected", len(res.Rejected)),
		slog.String("risk", analysis.RiskAssessment),
	)
	return res, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// markToMarket quotes every open trade concurrently. Results keep the order
// of open.
func (a *Agent) markToMarket(ctx context.Context, open []domain.TradeRecord) ([]decision.OpenPosition, error) {
	positions := make([]decision.OpenPosition, len(open))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.PriceConcurrency)
	for i, t := range open {
		g.Go(func() error {
			quote := a.venue.GetPrice(gctx, t.MarketID, t.Position)
			positions[i] = decision.OpenPosition{
				MarketID:   t.MarketID,
				MarketName: t.MarketName,
				Position:   t.Position,
				EntryPrice: t.EntryPrice,
				Current:    quote,
				PnlBps:     domain.CalculateBps(t.EntryPrice, quote.Bps),
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("agent: refresh prices: %w", err)
	}
	return positions, nil
}

// afterClose reloads the closed trade and notifies. NFT eligibility is only
// checked when the exit price was observed.
func (a *Agent) afterClose(ctx context.Context, res *IterationResult, trade domain.TradeRecord, tr domain.TradeResult) {
	closed, err := a.trades.GetByID(ctx, trade.ID)
	if err != nil {
		a.logger.WarnContext(ctx, "reload closed trade", slog.String("trade_id", trade.ID), slog.String("error", err.Error()))
		closed = trade
	}
	title, msg := notify.TradeClosed(closed, tr)
	a.notify(ctx, notify.EventTradeClosed, title, msg)

	if a.nft == nil {
		return
	}
	if tr.PriceSource == domain.PriceEstimated {
		a.logger.InfoContext(ctx, "nft check skipped for estimated exit price", slog.String("trade_id", closed.ID))
		return
	}
	if !a.nft.ShouldMint(ctx, closed) {
		return
	}
	res.NFTEligible = append(res.NFTEligible, closed.ID)
	a.logger.InfoContext(ctx, "trade eligible for nft", slog.String("trade_id", closed.ID))
	title, msg = notify.NFTEligible(closed)
	a.notify(ctx, notify.EventNFTEligible, title, msg)
}

func (a *Agent) reject(ctx context.Context, res *IterationResult, intent domain.TradeIntent, err error) {
	res.Rejected = append(res.Rejected, Rejection{Intent: intent, Error: err.Error()})
	if errors.Is(err, domain.ErrDuplicateIntent) {
		return
	}
	a.logger.WarnContext(ctx, "intent not executed",
		slog.String("action", string(intent.Action)),
		slog.String("market", intent.MarketName),
		slog.String("error", err.Error()),
	)
	title, msg := notify.TradeRejected(intent, err)
	a.notify(ctx, notify.EventTradeRejected, title, msg)
}

func (a *Agent) notify(ctx context.Context, event, title, msg string) {
	if err := a.notifier.Notify(ctx, event, title, msg); err != nil {
		a.logger.WarnContext(ctx, "notification failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

// snapshotPrice is the catalog price of the intent's outcome when the
// snapshot lists its market id, else zero.
func snapshotPrice(markets []domain.PredictionMarket, intent domain.TradeIntent) int {
	for _, m := range markets {
		if intent.MarketID != "" && m.ID == intent.MarketID {
			return m.Price(intent.Position)
		}
	}
	return 0
}

// matchOpen finds the open trade a SELL intent refers to: same market id,
// or same trimmed name, and the same outcome when the intent names one.
func matchOpen(open []domain.TradeRecord, intent domain.TradeIntent) int {
	name := strings.TrimSpace(intent.MarketName)
	for i, t := range open {
		if intent.Position != "" && t.Position != intent.Position {
			continue
		}
		if intent.MarketID != "" && t.MarketID == intent.MarketID {
			return i
		}
		if name != "" && strings.TrimSpace(t.MarketName) == name {
			return i
		}
	}
	return -1
}
