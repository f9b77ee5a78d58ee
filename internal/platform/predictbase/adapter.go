// Package predictbase is the venue adapter for PredictBase, a USDC
// prediction market on Base with an API-key trading endpoint.
package predictbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/predictagent/internal/domain"
	"github.com/alanyoungcy/predictagent/internal/platform/rest"
)

const (
	DefaultBaseURL = "https://api.predictbase.app"

	priceScale          = 1e6
	defaultCategory     = "predictbase"
	minQty              = 0.01
	minOrderPrice       = 0.01
	maxOrderPrice       = 0.99
	insufficientSharesM = "Insufficient available shares"
)

// Config carries the PredictBase settings from the application config.
type Config struct {
	BaseURL        string
	APIKey         string
	TradingEnabled bool
	// UserID is sent as order.userId; the wallet address.
	UserID     string
	RatePerSec float64
	RetryDelay time.Duration
}

// Adapter implements domain.Venue for PredictBase. Prices come from the
// last market fetch; there is no per-market price endpoint.
type Adapter struct {
	cfg    Config
	base   string
	rest   *rest.Client
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	prices map[string][2]int
	byName map[string]string
}

// NewAdapter creates the PredictBase venue.
func NewAdapter(cfg Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "venue"), slog.String("venue", domain.VenuePredictBase))
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	var headers map[string]string
	if cfg.APIKey != "" {
		headers = map[string]string{"x-api-key": cfg.APIKey}
	}
	return &Adapter{
		cfg:  cfg,
		base: strings.TrimRight(cfg.BaseURL, "/"),
		rest: rest.New(rest.Options{
			RatePerSec: cfg.RatePerSec,
			Burst:      2,
			BaseDelay:  cfg.RetryDelay,
			Headers:    headers,
			Logger:     logger,
		}),
		logger: logger,
		now:    time.Now,
		prices: map[string][2]int{},
		byName: map[string]string{},
	}
}

func (a *Adapter) Name() string { return domain.VenuePredictBase }

func (a *Adapter) Live() bool { return a.cfg.TradingEnabled }

// FetchMarkets returns the markets with status 0. Option prices are on a
// 1e6 scale and default to one half.
func (a *Adapter) FetchMarkets(ctx context.Context) ([]domain.PredictionMarket, error) {
	raw, err := a.rest.DoRaw(ctx, rest.Request{URL: a.base + "/get_active_markets"})
	if err != nil {
		return nil, fmt.Errorf("predictbase: fetch markets: %w", err)
	}
	var rows []apiMarket
	if strings.HasPrefix(strings.TrimSpace(string(raw)), "[") {
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("predictbase: decode markets: %w", err)
		}
	}

	prices := make(map[string][2]int, len(rows))
	byName := make(map[string]string, len(rows))
	markets := make([]domain.PredictionMarket, 0, len(rows))
	for _, m := range rows {
		if !m.Status.valid || m.Status.value != 0 {
			continue
		}
		id := string(m.ID)
		if id == "" {
			continue
		}
		yes := optionBps(m.OptionPrices, 0)
		no := optionBps(m.OptionPrices, 1)

		name := m.Question
		if name == "" {
			name = "Unknown Market"
		}
		name = domain.TruncateName(name, domain.MaxMarketNameLen)
		name = strings.TrimSpace(name)

		category := defaultCategory
		if len(m.Categories) > 0 && m.Categories[0] != "" {
			category = m.Categories[0]
		}

		prices[id] = [2]int{yes, no}
		if name != "" {
			byName[name] = id
		}
		markets = append(markets, domain.PredictionMarket{
			ID:          id,
			Name:        name,
			Description: m.Details,
			YesPrice:    yes,
			NoPrice:     no,
			Volume24h:   m.Volume.value,
			Category:    category,
		})
	}

	a.mu.Lock()
	a.prices, a.byName = prices, byName
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "markets fetched", slog.Int("count", len(markets)))
	return markets, nil
}

// GetPrice looks the market up by id, then by trimmed name, in the last
// fetch.
func (a *Adapter) GetPrice(ctx context.Context, marketID string, outcome domain.Outcome) domain.PriceQuote {
	a.mu.RLock()
	p, ok := a.prices[marketID]
	if !ok {
		if id, found := a.byName[strings.TrimSpace(marketID)]; found {
			p, ok = a.prices[id]
		}
	}
	a.mu.RUnlock()
	if !ok {
		a.logger.WarnContext(ctx, "no cached price for market, using estimate",
			slog.String("market_id", marketID),
		)
		return domain.EstimatedPrice()
	}
	return domain.ObservedPrice(p[outcome.Index()])
}

// PlaceOrder posts a GTC limit order. BUY quantity is the USD amount over
// the price; SELL quantity is the held shares. A SELL the venue refuses for
// lack of shares is reported through InsufficientShares, not an error.
func (a *Adapter) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if !a.cfg.TradingEnabled {
		return domain.OrderResult{}, fmt.Errorf("predictbase: %w", domain.ErrTradingDisabled)
	}
	if a.cfg.APIKey == "" {
		return domain.OrderResult{}, fmt.Errorf("predictbase: api_key is required for trading: %w", domain.ErrUnauthorized)
	}

	price := math.Max(minOrderPrice, math.Min(maxOrderPrice, float64(req.PriceBps)/domain.BpsScale))
	qty := req.Shares
	if req.Side == domain.OrderSideBuy || qty <= 0 {
		qty = math.Max(minQty, req.AmountUsd/price)
	}
	qty = cents(qty)

	now := a.now()
	body := CreateOrder{
		Kind: "NEW_ORDER",
		Order: OrderBody{
			Type:        "LIMIT",
			Side:        string(req.Side),
			MarketID:    req.MarketID,
			OptionIndex: req.Outcome.Index(),
			Qty:         qty,
			Price:       cents(price),
			UserID:      a.cfg.UserID,
			TimeInForce: "GTC",
			ReceivedAt:  now.UnixMilli(),
		},
		// ClientOrderID is fixed before the first attempt so a retried POST
		// carries the same id.
		Meta: OrderMeta{
			ClientOrderID: "predictagent-" + uuid.NewString(),
			OriginalQty:   qty,
		},
	}

	raw, err := a.rest.DoRaw(ctx, rest.Request{
		Method:   http.MethodPost,
		URL:      a.base + "/create-order",
		Body:     body,
		NoReplay: true,
	})
	if err != nil {
		if se, ok := rest.AsStatus(err); ok && req.Side == domain.OrderSideSell && strings.Contains(se.Body, insufficientSharesM) {
			a.logger.WarnContext(ctx, "no shares to sell, position treated as closed",
				slog.String("market", req.MarketID),
				slog.String("outcome", string(req.Outcome)),
			)
			return domain.OrderResult{InsufficientShares: true, Raw: json.RawMessage(se.Body)}, nil
		}
		if errors.Is(err, domain.ErrBadResponse) {
			a.logger.WarnContext(ctx, "order accepted with a non-JSON response",
				slog.String("market", req.MarketID),
				slog.String("client_order_id", body.Meta.ClientOrderID),
			)
			return domain.OrderResult{OrderID: body.Meta.ClientOrderID}, nil
		}
		return domain.OrderResult{}, fmt.Errorf("predictbase: create order: %w", err)
	}

	var resp orderResponse
	_ = json.Unmarshal(raw, &resp)
	if resp.Success != nil && !*resp.Success {
		return domain.OrderResult{Raw: raw}, fmt.Errorf("predictbase: order rejected: %s", resp.Error)
	}
	id := resp.OrderID
	if id == "" {
		id = body.Meta.ClientOrderID
	}
	a.logger.InfoContext(ctx, "order placed",
		slog.String("market", req.MarketID),
		slog.String("side", string(req.Side)),
		slog.String("outcome", string(req.Outcome)),
		slog.Float64("qty", qty),
		slog.Float64("price", price),
	)
	return domain.OrderResult{OrderID: id, Raw: raw}, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// optionBps converts the i-th 1e6-scaled option price to bps.
func optionBps(prices []number, i int) int {
	p := 0.5
	if i < len(prices) && prices[i].valid {
		p = math.Max(0, math.Min(1, prices[i].value/priceScale))
	}
	return int(math.Round(p * domain.BpsScale))
}

func cents(v float64) float64 {
	return math.Round(v*100) / 100
}
