package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictagent/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/ledger?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "ledger", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://u:p@db:6543/ledger?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, Database: "ledger", User: "u", Password: "p", SSLMode: "require"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_ledger.sql"}, names)
}

// TestLedgerRoundTrip runs against a live database when
// PREDICTAGENT_TEST_POSTGRES_DSN is set.
func TestLedgerRoundTrip(t *testing.T) {
	dsn := os.Getenv("PREDICTAGENT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PREDICTAGENT_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.RunMigrations(ctx))
	require.NoError(t, c.RunMigrations(ctx))

	trades := NewTradeStore(c.Pool())
	entry := time.Now().UTC().Truncate(time.Microsecond)
	rec, err := trades.Create(ctx, domain.TradeRecord{
		Venue: domain.VenueLimitless, MarketID: "btc-100k", MarketName: "BTC 100k",
		Position: domain.OutcomeYes, AmountEth: 0.01, AmountUsd: 30,
		EntryPrice: 4000, EntryTxHash: "0xabc", EntryTimestamp: entry,
	})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)

	require.NoError(t, rec.Close(5000, "0xdef", entry.Add(time.Hour)))
	require.NoError(t, trades.Update(ctx, rec))

	got, err := trades.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusClosed, got.Status)
	require.NotNil(t, got.PnlBps)
	assert.Equal(t, 2500, *got.PnlBps)
	assert.True(t, got.EntryTimestamp.Equal(entry))

	_, err = trades.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	audit := NewAuditStore(c.Pool())
	require.NoError(t, audit.Log(ctx, "trade.closed", map[string]any{"trade_id": rec.ID}))
	entries, err := audit.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, rec.ID, entries[0].Detail["trade_id"])
}
