package domain

import (
	"math"
	"time"
)

// TradeAction is the decision generator's verdict for one market.
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
	ActionHold TradeAction = "HOLD"
)

// Bounds applied to TradeIntent before it reaches the executor.
const (
	MinIntentAmountEth = 0.001
	MaxIntentAmountEth = 0.1
)

// TradeIntent is a structured trade decision produced upstream of the
// executor.
type TradeIntent struct {
	Action     TradeAction `json:"action"`
	MarketID   string      `json:"marketId"`
	MarketName string      `json:"marketName"`
	Position   Outcome     `json:"position"`
	AmountEth  float64     `json:"amountEth"`
	Reasoning  string      `json:"reasoning"`
	Confidence float64     `json:"confidence"`

	// ExpectedPrice is the bps price the decision was based on. Zero means
	// the executor looks it up.
	ExpectedPrice int `json:"expectedPrice,omitempty"`
}

// Normalize clamps AmountEth and Confidence into their accepted ranges.
func (t TradeIntent) Normalize() TradeIntent {
	t.AmountEth = math.Min(math.Max(t.AmountEth, MinIntentAmountEth), MaxIntentAmountEth)
	t.Confidence = math.Min(math.Max(t.Confidence, 0), 100)
	return t
}

// TradeStatus is the persisted ledger status.
type TradeStatus string

const (
	TradeStatusOpen      TradeStatus = "OPEN"
	TradeStatusClosed    TradeStatus = "CLOSED"
	TradeStatusCancelled TradeStatus = "CANCELLED"
)

// TradeRecord is a position ledger row. Exit fields and PnlBps are either
// all set (CLOSED) or all nil.
type TradeRecord struct {
	ID             string      `json:"id"`
	Venue          string      `json:"venue"`
	MarketID       string      `json:"market_id"`
	MarketName     string      `json:"market_name"`
	Position       Outcome     `json:"position"`
	AmountEth      float64     `json:"amount_eth"`
	AmountUsd      float64     `json:"amount_usd"`
	EntryPrice     int         `json:"entry_price"`
	EntryTxHash    string      `json:"entry_tx_hash"`
	EntryTimestamp time.Time   `json:"entry_timestamp"`
	ExitPrice      *int        `json:"exit_price,omitempty"`
	ExitTxHash     *string     `json:"exit_tx_hash,omitempty"`
	ExitTimestamp  *time.Time  `json:"exit_timestamp,omitempty"`
	PnlBps         *int        `json:"pnl_bps,omitempty"`
	Status         TradeStatus `json:"status"`
	NftTokenID     *int64      `json:"nft_token_id,omitempty"`
	Simulated      bool        `json:"simulated"`
}

// Close records the exit of an OPEN trade. It returns ErrInvalidTransition
// for any other status.
func (r *TradeRecord) Close(exitPrice int, txHash string, at time.Time) error {
	if r.Status != TradeStatusOpen {
		return ErrInvalidTransition
	}
	pnl := CalculateBps(r.EntryPrice, exitPrice)
	r.ExitPrice = &exitPrice
	r.ExitTxHash = &txHash
	r.ExitTimestamp = &at
	r.PnlBps = &pnl
	r.Status = TradeStatusClosed
	return nil
}

// Shares is the outcome-token quantity bought at entry.
func (r TradeRecord) Shares() float64 {
	if r.EntryPrice <= 0 {
		return 0
	}
	return r.AmountUsd / (float64(r.EntryPrice) / BpsScale)
}

// CalculateBps returns round((exit-entry)/entry*10000), or 0 when entry is 0.
func CalculateBps(entry, exit int) int {
	if entry == 0 {
		return 0
	}
	return int(math.Round(float64(exit-entry) / float64(entry) * BpsScale))
}

// ExecutionState is the executor's per-trade state machine.
type ExecutionState string

const (
	StatePending     ExecutionState = "PENDING"
	StateSubmitted   ExecutionState = "SUBMITTED"
	StateRejected    ExecutionState = "REJECTED"
	StateOpen        ExecutionState = "OPEN"
	StateClosing     ExecutionState = "CLOSING"
	StateClosed      ExecutionState = "CLOSED"
	StateCloseFailed ExecutionState = "CLOSE_FAILED"
)

var allowedTransitions = map[ExecutionState][]ExecutionState{
	StatePending:   {StateSubmitted, StateRejected},
	StateSubmitted: {StateOpen},
	StateOpen:      {StateClosing},
	StateClosing:   {StateClosed, StateCloseFailed},
	// a failed close leaves the position open
	StateCloseFailed: {StateOpen},
}

// CanTransition reports whether from -> to is a legal executor transition.
func CanTransition(from, to ExecutionState) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TradeResult is what ExecuteTrade and ClosePosition return, for live and
// simulated executions alike.
type TradeResult struct {
	// TradeID is the ledger row written for this execution, if any.
	TradeID          string
	TxHash           string
	ActualPrice      int
	PriceSource      PriceSource
	AmountWei        string
	AmountUsd        float64
	Timestamp        time.Time
	ResolvedMarketID string
	PnlBps           int
	State            ExecutionState
	Simulated        bool

	// InsufficientShares marks a close that the venue refused for lack of
	// shares; it still counts as closed.
	InsufficientShares bool
}
