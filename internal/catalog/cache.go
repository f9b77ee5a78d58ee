package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/predictagent/internal/domain"
)

// Cache holds the last snapshot per venue for a fixed TTL. Every successful
// fetch replaces the venue's entry wholesale. An optional mirror keeps the
// snapshot across restarts.
type Cache struct {
	ttl    time.Duration
	mirror domain.SnapshotCache
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	snaps map[string]domain.MarketSnapshot
}

// NewCache creates a Cache. mirror may be nil.
func NewCache(ttl time.Duration, mirror domain.SnapshotCache, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		ttl:    ttl,
		mirror: mirror,
		logger: logger,
		now:    time.Now,
		snaps:  make(map[string]domain.MarketSnapshot),
	}
}

// Store replaces the venue's snapshot and mirrors it. Mirror failures are
// logged only.
func (c *Cache) Store(ctx context.Context, snap domain.MarketSnapshot) {
	c.mu.Lock()
	c.snaps[snap.Venue] = snap
	c.mu.Unlock()

	if c.mirror == nil {
		return
	}
	if err := c.mirror.Set(ctx, snap, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "snapshot mirror write failed",
			slog.String("venue", snap.Venue),
			slog.String("error", err.Error()),
		)
	}
}

// Load returns the venue's snapshot if it is younger than the TTL, falling
// back to the mirror.
func (c *Cache) Load(ctx context.Context, venue string) (domain.MarketSnapshot, bool) {
	c.mu.RLock()
	snap, ok := c.snaps[venue]
	c.mu.RUnlock()
	if ok && c.fresh(snap) {
		return snap, true
	}
	if c.mirror == nil {
		return domain.MarketSnapshot{}, false
	}
	snap, err := c.mirror.Get(ctx, venue)
	if err != nil || !c.fresh(snap) {
		return domain.MarketSnapshot{}, false
	}
	c.mu.Lock()
	c.snaps[venue] = snap
	c.mu.Unlock()
	return snap, true
}

// Market looks a market up by id in the venue's cached snapshot.
func (c *Cache) Market(ctx context.Context, venue, id string) (domain.PredictionMarket, bool) {
	snap, ok := c.Load(ctx, venue)
	if !ok {
		return domain.PredictionMarket{}, false
	}
	for _, m := range snap.Markets {
		if m.ID == id {
			return m, true
		}
	}
	return domain.PredictionMarket{}, false
}

func (c *Cache) fresh(snap domain.MarketSnapshot) bool {
	return c.ttl <= 0 || c.now().Sub(snap.FetchedAt) < c.ttl
}

// TokenIndex maps venue market ids to their YES/NO outcome token ids. Each
// venue's map is replaced on every fetch.
type TokenIndex struct {
	mu     sync.RWMutex
	tokens map[string]map[string][2]string
}

// NewTokenIndex creates an empty index.
func NewTokenIndex() *TokenIndex {
	return &TokenIndex{tokens: make(map[string]map[string][2]string)}
}

// Replace swaps the venue's whole token map.
func (x *TokenIndex) Replace(venue string, m map[string][2]string) {
	cp := make(map[string][2]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	x.mu.Lock()
	x.tokens[venue] = cp
	x.mu.Unlock()
}

// Lookup returns the token id for the outcome of a market.
func (x *TokenIndex) Lookup(venue, marketID string, outcome domain.Outcome) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	pair, ok := x.tokens[venue][marketID]
	if !ok {
		return "", false
	}
	tok := pair[outcome.Index()]
	return tok, tok != ""
}

// Len returns the number of markets indexed for venue.
func (x *TokenIndex) Len(venue string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.tokens[venue])
}
