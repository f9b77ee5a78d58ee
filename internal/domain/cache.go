package domain

import (
	"context"
	"time"
)

// SnapshotCache mirrors the last catalog snapshot per venue outside the
// process.
type SnapshotCache interface {
	Set(ctx context.Context, snap MarketSnapshot, ttl time.Duration) error
	Get(ctx context.Context, venue string) (MarketSnapshot, error)
}

// LockManager provides mutual exclusion across agent processes sharing a
// wallet.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
