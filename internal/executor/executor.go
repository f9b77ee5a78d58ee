// Package executor turns trade intents into venue orders and ledger rows.
// Every execution runs under the trade lock, re-validates the wallet
// balance and position size before touching the venue, and walks the
// PENDING -> SUBMITTED -> OPEN -> CLOSING -> CLOSED state machine with each
// transition logged and audited.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/alanyoungcy/predictagent/internal/chain"
	"github.com/alanyoungcy/predictagent/internal/crypto"
	"github.com/alanyoungcy/predictagent/internal/domain"
)

const (
	DefaultTradeTimeout    = 2 * time.Minute
	DefaultLockKey         = "predictagent:trade"
	DefaultLockTTL         = 3 * time.Minute
	DefaultMaxPositionSize = 0.1
)

// Wallet reads the native balance of the trading wallet.
type Wallet interface {
	Balance(ctx context.Context) (*big.Int, error)
}

// MarketResolver maps intent identifiers to venue market ids.
type MarketResolver interface {
	ResolveMarketID(ctx context.Context, id, name string) (string, error)
	ResolveForClose(ctx context.Context, id, name string) (string, error)
}

// Config holds the executor's risk and timing parameters.
type Config struct {
	// MaxPositionSize is the largest fraction of the wallet balance a single
	// trade may use.
	MaxPositionSize float64
	EthUsdPrice     float64
	StopLossBps     int
	TakeProfitBps   int
	TradeTimeout    time.Duration
	DedupWindow     time.Duration
	LockKey         string
	LockTTL         time.Duration
}

// Deps are the executor's collaborators. Audit may be nil; Locks defaults
// to an in-process LocalLocker.
type Deps struct {
	Venue    domain.Venue
	Resolver MarketResolver
	Wallet   Wallet
	Trades   domain.TradeStore
	Audit    domain.AuditStore
	Locks    domain.LockManager
	Logger   *slog.Logger
}

// CloseRequest asks for an open ledger trade to be exited at Exit. A zero
// Exit is looked up from the venue; an estimated one keeps its tag.
type CloseRequest struct {
	Trade domain.TradeRecord
	Exit  domain.PriceQuote
}

// Executor executes and closes trades against the single active venue.
type Executor struct {
	cfg      Config
	venue    domain.Venue
	resolver MarketResolver
	wallet   Wallet
	trades   domain.TradeStore
	audit    domain.AuditStore
	locks    domain.LockManager
	dedup    *Dedup
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Executor.
func New(cfg Config, d Deps) *Executor {
	if cfg.MaxPositionSize <= 0 {
		cfg.MaxPositionSize = DefaultMaxPositionSize
	}
	if cfg.TradeTimeout <= 0 {
		cfg.TradeTimeout = DefaultTradeTimeout
	}
	if cfg.LockKey == "" {
		cfg.LockKey = DefaultLockKey
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if d.Locks == nil {
		d.Locks = NewLocalLocker()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Executor{
		cfg:      cfg,
		venue:    d.Venue,
		resolver: d.Resolver,
		wallet:   d.Wallet,
		trades:   d.Trades,
		audit:    d.Audit,
		locks:    d.Locks,
		dedup:    NewDedup(cfg.DedupWindow),
		logger:   d.Logger.With(slog.String("component", "executor")),
		now:      time.Now,
	}
}

// Dedup exposes the intent deduplicator so the caller can clean it up.
func (e *Executor) Dedup() *Dedup { return e.dedup }

// ExecuteTrade buys intent.Position on the active venue and records an OPEN
// ledger row. Balance and position-size checks run before any venue call
// and are hard failures. When the venue is not live a mock execution with
// a pseudo transaction hash is recorded instead.
func (e *Executor) ExecuteTrade(ctx context.Context, intent domain.TradeIntent) (domain.TradeResult, error) {
	key := IntentKey(intent)
	if e.dedup.IsDuplicate(key) {
		e.logger.InfoContext(ctx, "duplicate intent dropped", slog.String("intent", key))
		return domain.TradeResult{}, fmt.Errorf("executor: %s: %w", key, domain.ErrDuplicateIntent)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.TradeTimeout)
	defer cancel()

	unlock, err := e.locks.Acquire(ctx, e.cfg.LockKey, e.cfg.LockTTL)
	if err != nil {
		e.dedup.Forget(key)
		return domain.TradeResult{}, fmt.Errorf("executor: acquire trade lock: %w", err)
	}
	defer unlock()

	res, err := e.execute(ctx, intent)
	if err != nil && res.State == domain.StateRejected {
		// nothing reached the venue, so the intent may be retried
		e.dedup.Forget(key)
	}
	return res, err
}

func (e *Executor) execute(ctx context.Context, intent domain.TradeIntent) (domain.TradeResult, error) {
	log := e.logger.With(
		slog.String("market", intent.MarketName),
		slog.String("market_id", intent.MarketID),
		slog.String("position", string(intent.Position)),
		slog.Float64("amount_eth", intent.AmountEth),
	)
	ref := map[string]any{"market_id": intent.MarketID, "position": string(intent.Position), "amount_eth": intent.AmountEth}
	e.enter(ctx, "", domain.StatePending, ref)

	reject := func(err error) (domain.TradeResult, error) {
		log.WarnContext(ctx, "trade rejected", slog.String("error", err.Error()))
		e.transition(ctx, "", domain.StatePending, domain.StateRejected, with(ref, "error", err.Error()))
		return domain.TradeResult{State: domain.StateRejected}, err
	}

	balance, err := e.wallet.Balance(ctx)
	if err != nil {
		return reject(fmt.Errorf("executor: read balance: %w", err))
	}
	amountWei := chain.EthToWei(intent.AmountEth)
	if balance.Cmp(amountWei) < 0 {
		return reject(fmt.Errorf("executor: required %.6f ETH, available %.6f ETH: %w",
			intent.AmountEth, chain.WeiToEth(balance), domain.ErrInsufficientBalance))
	}
	portfolioEth := chain.WeiToEth(balance)
	if intent.AmountEth > e.cfg.MaxPositionSize*portfolioEth {
		return reject(fmt.Errorf("executor: %.6f ETH is above %.0f%% of a %.6f ETH portfolio: %w",
			intent.AmountEth, e.cfg.MaxPositionSize*100, portfolioEth, domain.ErrPositionTooLarge))
	}

	log.InfoContext(ctx, "executing trade")
	result := domain.TradeResult{
		AmountWei: amountWei.String(),
		AmountUsd: intent.AmountEth * e.cfg.EthUsdPrice,
	}

	marketID := intent.MarketID
	if !e.venue.Live() {
		quote := e.entryPrice(ctx, log, marketID, intent)
		result.TxHash = crypto.PseudoTxHash()
		result.ActualPrice, result.PriceSource = quote.Bps, quote.Source
		result.Simulated = true
		log.WarnContext(ctx, "trading disabled, using mock trade execution",
			slog.String("tx_hash", result.TxHash),
			slog.Bool("simulated", true),
		)
	} else {
		marketID, err = e.resolver.ResolveMarketID(ctx, intent.MarketID, intent.MarketName)
		if err != nil {
			return reject(err)
		}
		quote := e.entryPrice(ctx, log, marketID, intent)
		order, err := e.venue.PlaceOrder(ctx, domain.OrderRequest{
			MarketID:  marketID,
			Outcome:   intent.Position,
			Side:      domain.OrderSideBuy,
			PriceBps:  quote.Bps,
			AmountUsd: result.AmountUsd,
		})
		if err != nil {
			return reject(err)
		}
		result.TxHash = order.OrderID
		if result.TxHash == "" {
			result.TxHash = crypto.PseudoTxHash()
		}
		result.ActualPrice, result.PriceSource = quote.Bps, quote.Source
		result.Simulated = order.Simulated
		if order.Simulated {
			log.WarnContext(ctx, "venue returned a simulated fill",
				slog.String("order_id", order.OrderID),
				slog.Bool("simulated", true),
			)
		}
	}
	result.ResolvedMarketID = marketID
	result.Timestamp = e.now()
	e.transition(ctx, "", domain.StatePending, domain.StateSubmitted, with(ref, "tx_hash", result.TxHash))
	result.State = domain.StateSubmitted

	rec, err := e.trades.Create(ctx, domain.TradeRecord{
		Venue:          e.venue.Name(),
		MarketID:       marketID,
		MarketName:     intent.MarketName,
		Position:       intent.Position,
		AmountEth:      intent.AmountEth,
		AmountUsd:      result.AmountUsd,
		EntryPrice:     result.ActualPrice,
		EntryTxHash:    result.TxHash,
		EntryTimestamp: result.Timestamp,
		Status:         domain.TradeStatusOpen,
		Simulated:      result.Simulated,
	})
	if err != nil {
		log.ErrorContext(ctx, "order submitted but ledger write failed",
			slog.String("tx_hash", result.TxHash),
			slog.String("error", err.Error()),
		)
		return result, fmt.Errorf("executor: record trade: %w", err)
	}
	result.TradeID = rec.ID
	e.transition(ctx, rec.ID, domain.StateSubmitted, domain.StateOpen, with(ref, "tx_hash", result.TxHash))
	result.State = domain.StateOpen

	log.InfoContext(ctx, "trade open",
		slog.String("trade_id", rec.ID),
		slog.String("tx_hash", result.TxHash),
		slog.Int("entry_price", result.ActualPrice),
		slog.String("price_source", string(result.PriceSource)),
		slog.Bool("simulated", result.Simulated),
	)
	return result, nil
}

// ClosePosition sells an open ledger trade and marks it CLOSED. Stop-loss
// and take-profit breaches are only logged. A venue refusal for lack of
// shares closes the trade like a fill; any other failure leaves it OPEN.
func (e *Executor) ClosePosition(ctx context.Context, req CloseRequest) (domain.TradeResult, error) {
	trade := req.Trade
	if trade.Status != domain.TradeStatusOpen {
		return domain.TradeResult{}, fmt.Errorf("executor: close trade %s in status %s: %w",
			trade.ID, trade.Status, domain.ErrInvalidTransition)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.TradeTimeout)
	defer cancel()

	unlock, err := e.locks.Acquire(ctx, e.cfg.LockKey, e.cfg.LockTTL)
	if err != nil {
		return domain.TradeResult{}, fmt.Errorf("executor: acquire trade lock: %w", err)
	}
	defer unlock()

	log := e.logger.With(
		slog.String("trade_id", trade.ID),
		slog.String("market", trade.MarketName),
		slog.String("position", string(trade.Position)),
	)
	ref := map[string]any{"market_id": trade.MarketID, "position": string(trade.Position)}
	e.transition(ctx, trade.ID, domain.StateOpen, domain.StateClosing, ref)

	quote := req.Exit
	if quote == (domain.PriceQuote{}) {
		quote = e.venue.GetPrice(ctx, trade.MarketID, trade.Position)
	}
	pnl := domain.CalculateBps(trade.EntryPrice, quote.Bps)
	log.InfoContext(ctx, "closing position",
		slog.Int("entry_price", trade.EntryPrice),
		slog.Int("exit_price", quote.Bps),
		slog.Bool("exit_price_estimated", quote.Estimated()),
		slog.Int("pnl_bps", pnl),
	)
	if e.cfg.StopLossBps > 0 && pnl <= -e.cfg.StopLossBps {
		log.WarnContext(ctx, "stop loss triggered", slog.Int("pnl_bps", pnl))
	}
	if e.cfg.TakeProfitBps > 0 && pnl >= e.cfg.TakeProfitBps {
		log.InfoContext(ctx, "take profit triggered", slog.Int("pnl_bps", pnl))
	}

	fail := func(err error) (domain.TradeResult, error) {
		log.ErrorContext(ctx, "close failed", slog.String("error", err.Error()))
		e.transition(ctx, trade.ID, domain.StateClosing, domain.StateCloseFailed, with(ref, "error", err.Error()))
		e.transition(ctx, trade.ID, domain.StateCloseFailed, domain.StateOpen, ref)
		return domain.TradeResult{TradeID: trade.ID, State: domain.StateCloseFailed, PnlBps: pnl}, err
	}

	result := domain.TradeResult{
		TradeID:          trade.ID,
		ActualPrice:      quote.Bps,
		PriceSource:      quote.Source,
		AmountUsd:        trade.AmountUsd,
		ResolvedMarketID: trade.MarketID,
		PnlBps:           pnl,
	}

	if !e.venue.Live() {
		result.TxHash = crypto.PseudoTxHash()
		result.Simulated = true
		log.WarnContext(ctx, "trading disabled, using mock close execution",
			slog.String("tx_hash", result.TxHash),
			slog.Bool("simulated", true),
		)
	} else {
		marketID, err := e.resolver.ResolveForClose(ctx, trade.MarketID, trade.MarketName)
		if err != nil {
			return fail(err)
		}
		order, err := e.venue.PlaceOrder(ctx, domain.OrderRequest{
			MarketID:  marketID,
			Outcome:   trade.Position,
			Side:      domain.OrderSideSell,
			PriceBps:  quote.Bps,
			AmountUsd: trade.AmountUsd,
			Shares:    trade.Shares(),
		})
		if err != nil {
			return fail(err)
		}
		result.ResolvedMarketID = marketID
		result.TxHash = order.OrderID
		if result.TxHash == "" {
			result.TxHash = crypto.PseudoTxHash()
		}
		result.Simulated = order.Simulated
		if order.InsufficientShares {
			result.InsufficientShares = true
			log.WarnContext(ctx, "venue holds no shares, marking trade closed")
		}
	}
	result.Timestamp = e.now()

	if err := trade.Close(quote.Bps, result.TxHash, result.Timestamp); err != nil {
		return fail(err)
	}
	if err := e.trades.Update(ctx, trade); err != nil {
		return fail(fmt.Errorf("executor: record close: %w", err))
	}
	e.transition(ctx, trade.ID, domain.StateClosing, domain.StateClosed, with(ref, "pnl_bps", pnl))
	result.State = domain.StateClosed

	log.InfoContext(ctx, "position closed",
		slog.String("tx_hash", result.TxHash),
		slog.Int("pnl_bps", pnl),
		slog.Bool("simulated", result.Simulated),
	)
	return result, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// entryPrice is the intent's expected price, else the venue quote.
func (e *Executor) entryPrice(ctx context.Context, log *slog.Logger, marketID string, intent domain.TradeIntent) domain.PriceQuote {
	if intent.ExpectedPrice > 0 {
		return domain.ObservedPrice(intent.ExpectedPrice)
	}
	quote := e.venue.GetPrice(ctx, marketID, intent.Position)
	if quote.Estimated() {
		log.WarnContext(ctx, "entry price estimated",
			slog.Bool("entry_price_estimated", true),
			slog.Int("price_bps", quote.Bps),
		)
	}
	return quote
}

func (e *Executor) enter(ctx context.Context, tradeID string, state domain.ExecutionState, detail map[string]any) {
	e.logger.DebugContext(ctx, "trade state", slog.String("trade_id", tradeID), slog.String("state", string(state)))
	e.writeAudit(ctx, tradeID, state, detail)
}

func (e *Executor) transition(ctx context.Context, tradeID string, from, to domain.ExecutionState, detail map[string]any) {
	if !domain.CanTransition(from, to) {
		e.logger.ErrorContext(ctx, "illegal state transition",
			slog.String("trade_id", tradeID),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		return
	}
	e.logger.InfoContext(ctx, "trade state",
		slog.String("trade_id", tradeID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	e.writeAudit(ctx, tradeID, to, with(detail, "from", string(from)))
}

func (e *Executor) writeAudit(ctx context.Context, tradeID string, state domain.ExecutionState, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if tradeID != "" {
		detail = with(detail, "trade_id", tradeID)
	}
	event := "trade." + strings.ToLower(string(state))
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "audit write failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// with returns a copy of m with k set to v.
func with(m map[string]any, k string, v any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for key, val := range m {
		out[key] = val
	}
	out[k] = v
	return out
}
