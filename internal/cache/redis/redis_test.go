package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictagent/internal/domain"
)

func TestKeyPrefix(t *testing.T) {
	assert.Equal(t, "catalog:limitless", (&Client{}).key("catalog", "limitless"))
	assert.Equal(t, "agent1:lock:predictagent:trade", (&Client{prefix: "agent1"}).key("lock", "predictagent:trade"))
}

// liveClient connects to PREDICTAGENT_TEST_REDIS_ADDR with a unique key
// prefix, or skips.
func liveClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("PREDICTAGENT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PREDICTAGENT_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr, KeyPrefix: "test-" + uuid.NewString()})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSnapshotCache_RoundTrip(t *testing.T) {
	c := liveClient(t)
	cache := NewSnapshotCache(c)
	ctx := context.Background()

	_, err := cache.Get(ctx, domain.VenueOpinion)
	require.ErrorIs(t, err, domain.ErrNotFound)

	snap := domain.MarketSnapshot{
		Venue:     domain.VenueOpinion,
		Markets:   []domain.PredictionMarket{{ID: "101", Name: "BTC ATH", YesPrice: 5000, NoPrice: 5000}},
		FetchedAt: time.UnixMilli(1_700_000_000_000).UTC(),
	}
	require.NoError(t, cache.Set(ctx, snap, time.Minute))

	got, err := cache.Get(ctx, domain.VenueOpinion)
	require.NoError(t, err)
	assert.Equal(t, snap.Markets, got.Markets)
	assert.True(t, snap.FetchedAt.Equal(got.FetchedAt))
}

func TestLockManager_ExclusiveUntilUnlock(t *testing.T) {
	c := liveClient(t)
	lm := NewLockManager(c)
	lm.retry = 10 * time.Millisecond
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "trade", time.Minute)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = lm.Acquire(short, "trade", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	again, err := lm.Acquire(ctx, "trade", time.Minute)
	require.NoError(t, err)
	again()
}
