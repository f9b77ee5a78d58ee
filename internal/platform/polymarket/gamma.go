package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/alanyoungcy/predictagent/internal/domain"
	"github.com/alanyoungcy/predictagent/internal/platform/rest"
)

const (
	listLimit       = "50"
	defaultCategory = "polymarket"
)

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides market discovery.
type GammaClient struct {
	baseURL string
	rest    *rest.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, rc *rest.Client) *GammaClient {
	return &GammaClient{baseURL: strings.TrimRight(baseURL, "/"), rest: rc}
}

// GetEvents returns the open events ordered by 24h volume.
func (g *GammaClient) GetEvents(ctx context.Context) ([]APIEvent, error) {
	params := url.Values{}
	params.Set("order", "volume24hr")
	params.Set("ascending", "false")
	params.Set("closed", "false")
	params.Set("limit", listLimit)

	var events []APIEvent
	if err := g.getList(ctx, "/events?"+params.Encode(), &events); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get events: %w", err)
	}
	return events, nil
}

// GetMarkets returns open markets without event grouping.
func (g *GammaClient) GetMarkets(ctx context.Context) ([]APIMarket, error) {
	params := url.Values{}
	params.Set("closed", "false")
	params.Set("limit", listLimit)

	var markets []APIMarket
	if err := g.getList(ctx, "/markets?"+params.Encode(), &markets); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get markets: %w", err)
	}
	return markets, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// getList decodes a JSON array response; any other JSON shape is an empty
// list.
func (g *GammaClient) getList(ctx context.Context, path string, out any) error {
	raw, err := g.rest.DoRaw(ctx, rest.Request{URL: g.baseURL + path})
	if err != nil {
		return err
	}
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "[") {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// toMarket converts a Gamma market to the domain form plus its YES/NO
// token ids. Markets without a condition id, closed markets and markets
// with fewer than two token ids are skipped.
func toMarket(m APIMarket, eventTitle, category string) (domain.PredictionMarket, [2]string, bool) {
	if m.ConditionID == "" || bool(m.Closed) || len(m.ClobTokenIDs) < 2 {
		return domain.PredictionMarket{}, [2]string{}, false
	}

	name := firstNonEmpty(m.Question, eventTitle, "Unknown Market")
	name = domain.TruncateName(name, domain.MaxMarketNameLen)
	if category == "" {
		category = defaultCategory
	}

	prices := m.OutcomePrices.floats()
	yes := domain.NeutralPriceBps
	if len(prices) >= 1 {
		yes = toBps(prices[0])
	}
	no := domain.BpsScale - yes
	if len(prices) >= 2 {
		no = toBps(prices[1])
	}

	return domain.PredictionMarket{
		ID:          m.ConditionID,
		Name:        name,
		Description: m.Description,
		YesPrice:    yes,
		NoPrice:     no,
		Volume24h:   firstFloat(m.Volume24hr, m.Volume),
		Liquidity:   firstFloat(m.LiquidityNum, m.Liquidity),
		Category:    category,
	}, [2]string{m.ClobTokenIDs[0], m.ClobTokenIDs[1]}, true
}

// toBps converts a 0..1 probability to clamped basis points.
func toBps(p float64) int {
	p = math.Max(0, math.Min(1, p))
	return int(math.Round(p * domain.BpsScale))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstFloat(vals ...*flexFloat) float64 {
	for _, v := range vals {
		if v != nil {
			return float64(*v)
		}
	}
	return 0
}
