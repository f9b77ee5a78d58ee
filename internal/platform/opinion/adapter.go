// Package opinion is the read-only venue adapter for Opinion Lab. Market
// data is live; orders are simulated locally.
package opinion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/predictagent/internal/catalog"
	"github.com/alanyoungcy/predictagent/internal/crypto"
	"github.com/alanyoungcy/predictagent/internal/domain"
	"github.com/alanyoungcy/predictagent/internal/platform/rest"
)

const (
	DefaultBaseURL = "https://openapi.opinion.trade/openapi"

	category = "opinion"
)

// Config carries the Opinion Lab settings from the application config.
type Config struct {
	BaseURL    string
	APIKey     string
	RatePerSec float64
	RetryDelay time.Duration
}

// Adapter implements domain.Venue for Opinion Lab.
type Adapter struct {
	base   string
	rest   *rest.Client
	tokens *catalog.TokenIndex
	logger *slog.Logger
}

// NewAdapter creates the Opinion Lab venue. tokens receives the YES/NO
// token ids of every fetched market.
func NewAdapter(cfg Config, tokens *catalog.TokenIndex, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "venue"), slog.String("venue", domain.VenueOpinion))
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if tokens == nil {
		tokens = catalog.NewTokenIndex()
	}
	var headers map[string]string
	if cfg.APIKey != "" {
		headers = map[string]string{"apikey": cfg.APIKey}
	}
	return &Adapter{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		rest: rest.New(rest.Options{
			RatePerSec: cfg.RatePerSec,
			Burst:      2,
			BaseDelay:  cfg.RetryDelay,
			Headers:    headers,
			Logger:     logger,
		}),
		tokens: tokens,
		logger: logger,
	}
}

func (a *Adapter) Name() string { return domain.VenueOpinion }

// Live is true so trades flow through PlaceOrder, which labels every fill
// as simulated.
func (a *Adapter) Live() bool { return true }

// FetchMarkets lists activated markets. Listing prices are not provided, so
// every market starts at 5000/5000 until GetPrice is asked.
func (a *Adapter) FetchMarkets(ctx context.Context) ([]domain.PredictionMarket, error) {
	params := url.Values{}
	params.Set("status", "activated")
	params.Set("sortBy", "5")
	params.Set("limit", "20")

	var env envelope[marketList]
	if err := a.get(ctx, "/market?"+params.Encode(), &env); err != nil {
		return nil, fmt.Errorf("opinion: fetch markets: %w", err)
	}

	markets := make([]domain.PredictionMarket, 0, len(env.Result.List))
	tokens := make(map[string][2]string)
	for _, m := range env.Result.List {
		id := string(m.MarketID)
		yes, no := strings.TrimSpace(string(m.YesTokenID)), strings.TrimSpace(string(m.NoTokenID))
		if id == "" || (yes == "" && no == "") {
			continue
		}
		if yes != "" {
			tokens[id] = [2]string{yes, no}
		}
		name := firstNonEmpty(m.MarketTitle, m.Name, "Unknown Market")
		name = domain.TruncateName(name, domain.MaxMarketNameLen)
		volume := m.Volume
		if m.Volume24h != nil {
			volume = m.Volume24h
		}
		markets = append(markets, domain.PredictionMarket{
			ID:          id,
			Name:        name,
			Description: m.Rules,
			YesPrice:    domain.NeutralPriceBps,
			NoPrice:     domain.NeutralPriceBps,
			Volume24h:   volume.float(),
			Category:    category,
		})
	}

	a.tokens.Replace(domain.VenueOpinion, tokens)
	a.logger.InfoContext(ctx, "markets fetched", slog.Int("count", len(markets)))
	return markets, nil
}

// GetPrice reads the latest traded price of the outcome token.
func (a *Adapter) GetPrice(ctx context.Context, marketID string, outcome domain.Outcome) domain.PriceQuote {
	tokenID, ok := a.tokens.Lookup(domain.VenueOpinion, marketID, outcome)
	if !ok || tokenID == "" {
		a.logger.WarnContext(ctx, "no token id for market, using estimate",
			slog.String("market_id", marketID),
			slog.String("outcome", string(outcome)),
		)
		return domain.EstimatedPrice()
	}

	var env envelope[latestPrice]
	if err := a.get(ctx, "/token/latest-price?token_id="+url.QueryEscape(tokenID), &env); err != nil {
		a.logger.WarnContext(ctx, "latest price unavailable, using estimate",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return domain.EstimatedPrice()
	}
	p, ok := env.Result.Price.number()
	if !ok {
		a.logger.WarnContext(ctx, "latest price missing, using estimate",
			slog.String("market_id", marketID),
			slog.String("token_id", tokenID),
		)
		return domain.EstimatedPrice()
	}
	p = math.Max(0, math.Min(1, p))
	return domain.ObservedPrice(int(math.Round(p * domain.BpsScale)))
}

// PlaceOrder never reaches the network. It returns a simulated fill with a
// pseudo transaction hash as the order id.
func (a *Adapter) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	id := crypto.PseudoTxHash()
	a.logger.InfoContext(ctx, "simulated order",
		slog.String("market", req.MarketID),
		slog.String("side", string(req.Side)),
		slog.String("outcome", string(req.Outcome)),
		slog.Float64("amount_usd", req.AmountUsd),
		slog.Int("price_bps", req.PriceBps),
		slog.String("order_id", id),
	)
	return domain.OrderResult{OrderID: id, Simulated: true}, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// get decodes the {code,msg,result} envelope and fails on a non-zero code.
func (a *Adapter) get(ctx context.Context, path string, out interface{ status() (int, string, bool) }) error {
	if err := a.rest.Get(ctx, a.base+path, out); err != nil {
		return err
	}
	if code, msg, set := out.status(); set && code != 0 {
		if msg == "" {
			msg = "unknown"
		}
		return fmt.Errorf("api error %q (code %d): %w", msg, code, domain.ErrBadResponse)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// --------------------------------------------------------------------------
// Wire types
// --------------------------------------------------------------------------

type envelope[T any] struct {
	Code   *int   `json:"code"`
	Msg    string `json:"msg"`
	Result T      `json:"result"`
}

func (e *envelope[T]) status() (int, string, bool) {
	if e.Code == nil {
		return 0, e.Msg, false
	}
	return *e.Code, e.Msg, true
}

type marketList struct {
	Total int         `json:"total"`
	List  []apiMarket `json:"list"`
}

type apiMarket struct {
	MarketID    text   `json:"marketId"`
	MarketTitle string `json:"marketTitle"`
	Name        string `json:"name"`
	Rules       string `json:"rules"`
	YesTokenID  text   `json:"yesTokenId"`
	NoTokenID   text   `json:"noTokenId"`
	Volume24h   *text  `json:"volume24h"`
	Volume      *text  `json:"volume"`
}

type latestPrice struct {
	Price *text `json:"price"`
}

// text decodes a JSON string or number into its string form.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		*t = ""
		return nil
	}
	*t = text(n.String())
	return nil
}

func (t *text) float() float64 {
	f, _ := t.number()
	return f
}

// number parses t, reporting false when it is absent or not numeric.
func (t *text) number() (float64, bool) {
	if t == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(string(*t)), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
