package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictagent/internal/domain"
)

func openMemory(t *testing.T) *Client {
	t.Helper()
	c, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func newTrade(market string, entry time.Time) domain.TradeRecord {
	return domain.TradeRecord{
		Venue:          domain.VenuePolymarket,
		MarketID:       market,
		MarketName:     "Market " + market,
		Position:       domain.OutcomeNo,
		AmountEth:      0.02,
		AmountUsd:      60,
		EntryPrice:     3000,
		EntryTxHash:    "0x" + market,
		EntryTimestamp: entry,
		Status:         domain.TradeStatusOpen,
		Simulated:      true,
	}
}

func TestTradeStore_CreateAndGet(t *testing.T) {
	s := NewTradeStore(openMemory(t))
	ctx := context.Background()
	entry := time.UnixMilli(1_700_000_000_123).UTC()

	rec, err := s.Create(ctx, newTrade("0xaaa", entry))
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)

	got, err := s.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Nil(t, got.PnlBps)
	assert.Nil(t, got.ExitTimestamp)
	assert.True(t, got.Simulated)
}

func TestTradeStore_CloseUpdatesExitFields(t *testing.T) {
	s := NewTradeStore(openMemory(t))
	ctx := context.Background()
	entry := time.UnixMilli(1_700_000_000_000).UTC()

	rec, err := s.Create(ctx, newTrade("0xaaa", entry))
	require.NoError(t, err)
	require.NoError(t, rec.Close(3600, "0xexit", entry.Add(time.Hour)))
	token := int64(7)
	rec.NftTokenID = &token
	require.NoError(t, s.Update(ctx, rec))

	got, err := s.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusClosed, got.Status)
	require.NotNil(t, got.PnlBps)
	assert.Equal(t, 2000, *got.PnlBps)
	assert.Equal(t, 3600, *got.ExitPrice)
	assert.Equal(t, "0xexit", *got.ExitTxHash)
	assert.True(t, got.ExitTimestamp.Equal(entry.Add(time.Hour)))
	assert.Equal(t, int64(7), *got.NftTokenID)

	open, err := s.GetOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestTradeStore_ListOrderAndLimit(t *testing.T) {
	s := NewTradeStore(openMemory(t))
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000).UTC()

	for i, m := range []string{"a", "b", "c"} {
		_, err := s.Create(ctx, newTrade(m, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].MarketID)

	two, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)

	open, err := s.GetOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 3)
	assert.Equal(t, "a", open[0].MarketID)
}

func TestTradeStore_NotFound(t *testing.T) {
	s := NewTradeStore(openMemory(t))
	ctx := context.Background()

	_, err := s.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	err = s.Update(ctx, domain.TradeRecord{ID: "nope", Status: domain.TradeStatusClosed})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAuditStore_LogAndList(t *testing.T) {
	a := NewAuditStore(openMemory(t))
	ctx := context.Background()

	require.NoError(t, a.Log(ctx, "trade.pending", map[string]any{"market_id": "x"}))
	require.NoError(t, a.Log(ctx, "trade.open", map[string]any{"trade_id": "t-1"}))

	entries, err := a.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "trade.open", entries[0].Event)
	assert.Equal(t, "t-1", entries[0].Detail["trade_id"])
	assert.False(t, entries[0].CreatedAt.IsZero())

	one, err := a.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}
