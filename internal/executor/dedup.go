package executor

import (
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/predictagent/internal/domain"
)

// DefaultDedupWindow is how long a repeated intent is suppressed.
const DefaultDedupWindow = 2 * time.Minute

// Dedup prevents the same trade intent from being executed more than once
// within a configurable time-to-live window. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // intent key -> last seen time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup instance that considers an intent a duplicate if
// it has been seen within the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = DefaultDedupWindow
	}
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IntentKey identifies an intent by action, market, outcome and amount.
func IntentKey(in domain.TradeIntent) string {
	return fmt.Sprintf("%s|%s|%s|%.6f", in.Action, in.MarketID, in.Position, in.AmountEth)
}

// IsDuplicate returns true if key has been seen within the TTL window. If
// it has not been seen (or has expired), it is recorded and false is
// returned.
func (d *Dedup) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if lastSeen, ok := d.seen[key]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[key] = now
	return false
}

// Forget drops key so a failed execution can be retried immediately.
func (d *Dedup) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}

// Cleanup removes entries that have expired beyond the TTL. The agent
// calls it once per iteration to bound memory.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
