package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predictagent/internal/domain"
)

// SnapshotCache mirrors the last catalog snapshot per venue as a JSON
// string under {prefix}:catalog:{venue}.
type SnapshotCache struct {
	c *Client
}

// NewSnapshotCache creates a SnapshotCache backed by c.
func NewSnapshotCache(c *Client) *SnapshotCache {
	return &SnapshotCache{c: c}
}

// Set stores snap with the given TTL; zero means no expiry.
func (s *SnapshotCache) Set(ctx context.Context, snap domain.MarketSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snap.Venue, err)
	}
	if err := s.c.rdb.Set(ctx, s.c.key("catalog", snap.Venue), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.Venue, err)
	}
	return nil
}

// Get returns the mirrored snapshot or domain.ErrNotFound.
func (s *SnapshotCache) Get(ctx context.Context, venue string) (domain.MarketSnapshot, error) {
	data, err := s.c.rdb.Get(ctx, s.c.key("catalog", venue)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: snapshot %s: %w", venue, domain.ErrNotFound)
	}
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", venue, err)
	}
	var snap domain.MarketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: unmarshal snapshot %s: %w", venue, err)
	}
	return snap, nil
}

var _ domain.SnapshotCache = (*SnapshotCache)(nil)
