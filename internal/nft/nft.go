// Package nft decides whether a closed trade is notable enough to mint.
// Minting itself happens elsewhere.
package nft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictagent/internal/domain"
)

// DefaultThresholdBps is the local notability cut-off.
const DefaultThresholdBps = 2000

var notableABI abi.ABI

func init() {
	var err error
	notableABI, err = abi.JSON(strings.NewReader(`[{
		"name": "isNotableTrade",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "pnlBps", "type": "int256"}],
		"outputs": [{"name": "", "type": "bool"}]
	}]`))
	if err != nil {
		panic("nft abi parse: " + err.Error())
	}
}

// Caller performs read-only contract calls; *chain.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Checker implements the mint-eligibility predicate.
type Checker struct {
	caller       Caller
	contract     common.Address
	thresholdBps int
	logger       *slog.Logger
}

// NewChecker creates a Checker. With a nil caller or a zero contract
// address only the local threshold is used.
func NewChecker(caller Caller, contract common.Address, thresholdBps int, logger *slog.Logger) *Checker {
	if thresholdBps <= 0 {
		thresholdBps = DefaultThresholdBps
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		caller:       caller,
		contract:     contract,
		thresholdBps: thresholdBps,
		logger:       logger.With(slog.String("component", "nft")),
	}
}

// ShouldMint reports whether t is CLOSED with a non-zero pnl, has no token
// yet, and is notable per the contract's isNotableTrade. If the contract
// call fails the local |pnl| >= threshold rule decides.
func (c *Checker) ShouldMint(ctx context.Context, t domain.TradeRecord) bool {
	if t.Status != domain.TradeStatusClosed || t.PnlBps == nil || *t.PnlBps == 0 {
		return false
	}
	if t.NftTokenID != nil {
		return false
	}
	pnl := *t.PnlBps

	notable, err := c.isNotable(ctx, pnl)
	if err != nil {
		c.logger.WarnContext(ctx, "notable check failed, using local threshold",
			slog.String("trade_id", t.ID),
			slog.Int("threshold_bps", c.thresholdBps),
			slog.String("error", err.Error()),
		)
		return abs(pnl) >= c.thresholdBps
	}
	return notable
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

var errNoContract = errors.New("nft: no contract configured")

func (c *Checker) isNotable(ctx context.Context, pnlBps int) (bool, error) {
	if c.caller == nil || c.contract == (common.Address{}) {
		return false, errNoContract
	}
	data, err := notableABI.Pack("isNotableTrade", big.NewInt(int64(pnlBps)))
	if err != nil {
		return false, fmt.Errorf("nft: pack isNotableTrade: %w", err)
	}
	out, err := c.caller.Call(ctx, c.contract, data)
	if err != nil {
		return false, err
	}
	vals, err := notableABI.Unpack("isNotableTrade", out)
	if err != nil || len(vals) == 0 {
		return false, fmt.Errorf("nft: unpack isNotableTrade: %w", err)
	}
	notable, ok := vals[0].(bool)
	if !ok {
		return false, errors.New("nft: unexpected isNotableTrade result type")
	}
	return notable, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
