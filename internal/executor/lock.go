package executor

import (
	"context"
	"sync"
	"time"
)

// LocalLocker is the in-process domain.LockManager used when no Redis is
// configured. All keys share one slot; the ttl is ignored.
type LocalLocker struct {
	sem chan struct{}
}

// NewLocalLocker creates an unlocked LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{sem: make(chan struct{}, 1)}
}

// Acquire blocks until the lock is free or ctx is done.
func (l *LocalLocker) Acquire(ctx context.Context, _ string, _ time.Duration) (func(), error) {
	select {
	case l.sem <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-l.sem }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
