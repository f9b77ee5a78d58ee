package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/predictagent/internal/domain"
)

// Policy decides what ResolveMarketID does when neither the id nor the name
// matches the current catalog.
type Policy string

const (
	// PolicyWarn proceeds with the caller-supplied id and logs a warning.
	PolicyWarn Policy = "warn"
	// PolicyStrict fails with domain.ErrMarketUnresolved.
	PolicyStrict Policy = "strict"
)

// ParsePolicy maps a config string to a Policy, defaulting to PolicyWarn.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyWarn:
		return PolicyWarn, nil
	case PolicyStrict:
		return PolicyStrict, nil
	}
	return "", fmt.Errorf("catalog: unknown resolve policy %q", s)
}

// Resolver fetches the active venue's catalog and resolves trade intents
// to venue-native market ids.
type Resolver struct {
	venue  domain.Venue
	cache  *Cache
	policy Policy
	logger *slog.Logger
	now    func() time.Time
}

// NewResolver creates a Resolver for venue. cache may be shared with the
// adapters that read prices from the last snapshot.
func NewResolver(venue domain.Venue, cache *Cache, policy Policy, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		venue:  venue,
		cache:  cache,
		policy: policy,
		logger: logger.With(slog.String("component", "catalog")),
		now:    time.Now,
	}
}

// FetchMarkets performs one venue fetch and replaces the cached snapshot.
func (r *Resolver) FetchMarkets(ctx context.Context) (domain.MarketSnapshot, error) {
	markets, err := r.venue.FetchMarkets(ctx)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("catalog: fetch %s markets: %w", r.venue.Name(), err)
	}
	snap := domain.MarketSnapshot{
		Venue:     r.venue.Name(),
		Markets:   markets,
		FetchedAt: r.now(),
	}
	if r.cache != nil {
		r.cache.Store(ctx, snap)
	}
	r.logger.DebugContext(ctx, "catalog fetched",
		slog.String("venue", snap.Venue),
		slog.Int("markets", len(markets)),
	)
	return snap, nil
}

// GetMarketByID fetches the catalog once and returns the matching market.
func (r *Resolver) GetMarketByID(ctx context.Context, id string) (domain.PredictionMarket, error) {
	snap, err := r.FetchMarkets(ctx)
	if err != nil {
		return domain.PredictionMarket{}, err
	}
	for _, m := range snap.Markets {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.PredictionMarket{}, fmt.Errorf("catalog: market %q: %w", id, domain.ErrNotFound)
}

// GetTrendingMarkets fetches the catalog once and returns up to limit
// markets by descending 24h volume.
func (r *Resolver) GetTrendingMarkets(ctx context.Context, limit int) ([]domain.PredictionMarket, error) {
	snap, err := r.FetchMarkets(ctx)
	if err != nil {
		return nil, err
	}
	return Trending(snap.Markets, limit), nil
}

// Trending sorts a copy of markets by descending volume and truncates it.
func Trending(markets []domain.PredictionMarket, limit int) []domain.PredictionMarket {
	out := make([]domain.PredictionMarket, len(markets))
	copy(out, markets)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Volume24h > out[j].Volume24h })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ResolveMarketID maps an intent's market to the venue-native id: exact id
// match first, then exact trimmed name match.
func (r *Resolver) ResolveMarketID(ctx context.Context, id, name string) (string, error) {
	return r.resolve(ctx, id, name, false)
}

// ResolveForClose is ResolveMarketID with the name tried before the id, as
// stored ledger ids may predate the current catalog.
func (r *Resolver) ResolveForClose(ctx context.Context, id, name string) (string, error) {
	return r.resolve(ctx, id, name, true)
}

func (r *Resolver) resolve(ctx context.Context, id, name string, nameFirst bool) (string, error) {
	snap, err := r.FetchMarkets(ctx)
	if err != nil {
		return r.unresolved(ctx, id, name, err)
	}

	byID := func() (string, bool) {
		for _, m := range snap.Markets {
			if m.ID == id {
				return m.ID, true
			}
		}
		return "", false
	}
	byName := func() (string, bool) {
		want := strings.TrimSpace(name)
		if want == "" {
			return "", false
		}
		for _, m := range snap.Markets {
			if m.Name == name || strings.TrimSpace(m.Name) == want {
				return m.ID, true
			}
		}
		return "", false
	}

	lookups := []func() (string, bool){byID, byName}
	if nameFirst {
		lookups = []func() (string, bool){byName, byID}
	}
	for _, f := range lookups {
		if resolved, ok := f(); ok {
			r.logger.InfoContext(ctx, "market resolved",
				slog.String("name", name),
				slog.String("market_id", resolved),
			)
			return resolved, nil
		}
	}
	return r.unresolved(ctx, id, name, nil)
}

func (r *Resolver) unresolved(ctx context.Context, id, name string, cause error) (string, error) {
	attrs := []any{
		slog.String("market_id", id),
		slog.String("name", name),
		slog.String("policy", string(r.policy)),
	}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	if r.policy == PolicyStrict {
		r.logger.ErrorContext(ctx, "market unresolved", attrs...)
		return "", fmt.Errorf("catalog: resolve %q (%s): %w", id, name, domain.ErrMarketUnresolved)
	}
	r.logger.WarnContext(ctx, "market unresolved, using supplied id", attrs...)
	if id == "" {
		return "", fmt.Errorf("catalog: resolve %q: %w", name, domain.ErrMarketUnresolved)
	}
	return id, nil
}
