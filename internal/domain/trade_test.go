package domain

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateBps(t *testing.T) {
	tests := []struct {
		name        string
		entry, exit int
		want        int
	}{
		{"gain", 4000, 6000, 5000},
		{"loss", 4000, 3000, -2500},
		{"rounds to nearest", 3000, 3001, 3},
		{"to zero", 5000, 0, -10000},
		{"zero entry", 0, 7000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalculateBps(tt.entry, tt.exit))
		})
	}
}

func TestCalculateBps_IdentityAndZeroEntry(t *testing.T) {
	for v := 0; v <= BpsScale; v += 37 {
		assert.Zero(t, CalculateBps(v, v), "entry=exit=%d", v)
		assert.Zero(t, CalculateBps(0, v), "entry=0 exit=%d", v)
	}
}

func TestTradeRecord_Close(t *testing.T) {
	r := TradeRecord{ID: "t-1", EntryPrice: 4000, Status: TradeStatusOpen}
	assert.Nil(t, r.PnlBps)
	assert.Nil(t, r.ExitPrice)
	assert.Nil(t, r.ExitTxHash)
	assert.Nil(t, r.ExitTimestamp)

	at := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, r.Close(5000, "0xexit", at))

	assert.Equal(t, TradeStatusClosed, r.Status)
	require.NotNil(t, r.ExitPrice)
	require.NotNil(t, r.ExitTxHash)
	require.NotNil(t, r.ExitTimestamp)
	require.NotNil(t, r.PnlBps)
	assert.Equal(t, 5000, *r.ExitPrice)
	assert.Equal(t, "0xexit", *r.ExitTxHash)
	assert.Equal(t, at, *r.ExitTimestamp)
	assert.Equal(t, 2500, *r.PnlBps)
}

func TestTradeRecord_CloseOnlyFromOpen(t *testing.T) {
	for _, status := range []TradeStatus{TradeStatusClosed, TradeStatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			r := TradeRecord{EntryPrice: 4000, Status: status}
			err := r.Close(5000, "0xexit", time.Now())
			require.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, status, r.Status)
			assert.Nil(t, r.ExitPrice)
			assert.Nil(t, r.ExitTxHash)
			assert.Nil(t, r.ExitTimestamp)
			assert.Nil(t, r.PnlBps)
		})
	}

	r := TradeRecord{EntryPrice: 4000, Status: TradeStatusOpen}
	require.NoError(t, r.Close(4400, "a", time.Now()))
	require.ErrorIs(t, r.Close(9000, "b", time.Now()), ErrInvalidTransition)
	assert.Equal(t, 4400, *r.ExitPrice)
	assert.Equal(t, "a", *r.ExitTxHash)
}

func TestTradeRecord_Shares(t *testing.T) {
	assert.InDelta(t, 75.0, TradeRecord{AmountUsd: 30, EntryPrice: 4000}.Shares(), 1e-9)
	assert.Zero(t, TradeRecord{AmountUsd: 30}.Shares())
}

func TestTradeIntent_Normalize(t *testing.T) {
	in := TradeIntent{AmountEth: 5, Confidence: 140}.Normalize()
	assert.Equal(t, MaxIntentAmountEth, in.AmountEth)
	assert.Equal(t, 100.0, in.Confidence)

	in = TradeIntent{AmountEth: 0, Confidence: -3}.Normalize()
	assert.Equal(t, MinIntentAmountEth, in.AmountEth)
	assert.Zero(t, in.Confidence)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatePending, StateSubmitted))
	assert.True(t, CanTransition(StateClosing, StateCloseFailed))
	assert.True(t, CanTransition(StateCloseFailed, StateOpen))
	assert.False(t, CanTransition(StateOpen, StateClosed))
	assert.False(t, CanTransition(StateClosed, StateOpen))
	assert.False(t, CanTransition(StateRejected, StateSubmitted))
}

func TestPriceQuote(t *testing.T) {
	assert.Equal(t, PriceQuote{Bps: BpsScale, Source: PriceObserved}, ObservedPrice(12000))
	assert.Equal(t, 0, ObservedPrice(-5).Bps)
	assert.False(t, ObservedPrice(5000).Estimated())

	est := EstimatedPrice()
	assert.True(t, est.Estimated())
	assert.Equal(t, NeutralPriceBps, est.Bps)
}

func TestTruncateName(t *testing.T) {
	assert.Equal(t, "short", TruncateName("short", 10))
	assert.Equal(t, "日本", TruncateName("日本語", 2))
	assert.Equal(t, "", TruncateName("日本語", 0))

	long := strings.Repeat("€", 300)
	got := TruncateName(long, MaxMarketNameLen)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, MaxMarketNameLen, utf8.RuneCountInString(got))
}
