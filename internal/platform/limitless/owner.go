package limitless

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/alanyoungcy/predictagent/internal/domain"
)

const maxIDSearchDepth = 5

var idFields = []string{"id", "profileId", "userId", "ownerId", "profile_id", "user_id", "owner_id", "accountId", "userAccountId"}

// OwnerResolver finds the numeric profile id Limitless requires as
// ownerId. The first resolved id is kept for the life of the resolver.
type OwnerResolver struct {
	client   *Client
	wallet   string
	override int64
	logger   *slog.Logger

	mu     sync.Mutex
	cached int64
}

// NewOwnerResolver creates a resolver for wallet. A non-zero override is
// returned without any lookup.
func NewOwnerResolver(client *Client, wallet string, override int64, logger *slog.Logger) *OwnerResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &OwnerResolver{client: client, wallet: strings.ToLower(wallet), override: override, logger: logger}
}

// Resolve returns the owner id or an error wrapping domain.ErrOwnerUnresolved
// that tells the operator how to configure it.
func (r *OwnerResolver) Resolve(ctx context.Context) (int64, error) {
	if r.override > 0 {
		return r.override, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached > 0 {
		return r.cached, nil
	}

	for _, p := range r.candidates() {
		data, err := r.client.profileLookup(ctx, p.method, p.url)
		if err != nil {
			r.logger.DebugContext(ctx, "profile lookup failed",
				slog.String("method", p.method),
				slog.String("url", p.url),
				slog.String("error", err.Error()),
			)
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			continue
		}
		if id, ok := findNumericID(data, 0); ok {
			r.cached = id
			r.logger.InfoContext(ctx, "limitless owner id resolved",
				slog.Int64("owner_id", id),
				slog.String("url", p.url),
			)
			return id, nil
		}
	}

	return 0, fmt.Errorf("limitless: no profile endpoint returned a numeric id for wallet %s; "+
		"find the numeric profile id in your Limitless account settings and set limitless.owner_id "+
		"(PREDICTAGENT_LIMITLESS_OWNER_ID): %w", r.wallet, domain.ErrOwnerUnresolved)
}

type profileEndpoint struct {
	method string
	url    string
}

func (r *OwnerResolver) candidates() []profileEndpoint {
	b := r.client.base
	paths := []string{
		"/profile",
		"/api-v1/profile",
		"/users/profile",
		"/api-v1/users/profile",
		"/user/profile",
		"/api-v1/user/profile",
		"/portfolio",
		"/api-v1/portfolio",
		"/balance",
		"/api-v1/balance",
		"/accounts/" + r.wallet,
		"/api-v1/accounts/" + r.wallet,
		"/users/" + r.wallet,
		"/api-v1/users/" + r.wallet,
		"/users/me",
		"/api-v1/users/me",
		"/auth/verify-auth",
		"/api-v1/auth/verify-auth",
	}
	out := make([]profileEndpoint, 0, len(paths)+2)
	for _, p := range paths {
		out = append(out, profileEndpoint{http.MethodGet, b + p})
	}
	out = append(out,
		profileEndpoint{http.MethodPost, b + "/api-v1/profile"},
		profileEndpoint{http.MethodPost, b + "/profile"},
	)
	return out
}

// findNumericID looks for a positive integer under one of idFields,
// descending into nested objects and arrays up to maxIDSearchDepth.
func findNumericID(v any, depth int) (int64, bool) {
	if depth > maxIDSearchDepth || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if id, ok := findNumericID(item, depth+1); ok {
				return id, true
			}
		}
	case map[string]any:
		for _, f := range idFields {
			if id, ok := positiveInt(t[f]); ok {
				return id, true
			}
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch t[k].(type) {
			case map[string]any, []any:
				if id, ok := findNumericID(t[k], depth+1); ok {
					return id, true
				}
			}
		}
	}
	return 0, false
}

func positiveInt(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		if t > 0 && t == math.Trunc(t) {
			return int64(t), true
		}
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}
