// Package limitless is the venue adapter for the Limitless exchange on Base:
// slug-addressed markets, EIP-712 signed CTF orders and a numeric owner
// profile id on every order.
package limitless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictagent/internal/platform/rest"
)

// DefaultBaseURL is the public Limitless API root.
const DefaultBaseURL = "https://api.limitless.exchange"

// Config carries the Limitless settings from the application config.
type Config struct {
	BaseURL      string
	APIKey       string
	APIKeyHeader string
	APIKeyPrefix string
	CategoryID   string
	// MarketsURL replaces the computed market list URL when set.
	MarketsURL string

	TradingEnabled bool
	OrderType      string
	FeeRateBps     int64
	USDCAddress    common.Address
	// ExchangeOverride is used when the market payload carries no exchange.
	ExchangeOverride common.Address
	// OwnerID skips profile lookup when non-zero.
	OwnerID int64

	RatePerSec float64
	RetryDelay time.Duration
}

// Client is the Limitless REST client.
type Client struct {
	cfg    Config
	base   string
	rest   *rest.Client
	logger *slog.Logger
}

// NewClient creates a Client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-Key"
	}
	return &Client{
		cfg:  cfg,
		base: strings.TrimRight(cfg.BaseURL, "/"),
		rest: rest.New(rest.Options{
			RatePerSec: cfg.RatePerSec,
			Burst:      2,
			BaseDelay:  cfg.RetryDelay,
			Headers:    authHeaders(cfg),
			Logger:     logger,
		}),
		logger: logger,
	}
}

// MarketsPayload fetches the raw active market listing. If the configured
// URL fails, the same path is tried once more with the /api-v1 prefix
// toggled.
func (c *Client) MarketsPayload(ctx context.Context) (json.RawMessage, error) {
	endpoint := "/markets/active"
	if c.cfg.CategoryID != "" {
		endpoint += "/" + url.PathEscape(c.cfg.CategoryID)
	}
	primary := c.cfg.MarketsURL
	if primary == "" {
		primary = c.base + endpoint
	}

	raw, err := c.rest.DoRaw(ctx, rest.Request{Method: http.MethodGet, URL: primary})
	if err == nil {
		return raw, nil
	}

	alt := c.base + "/api-v1" + endpoint
	if strings.Contains(primary, "/api-v1") {
		alt = strings.TrimSuffix(c.base, "/api-v1") + endpoint
	}
	if alt == primary {
		return nil, fmt.Errorf("limitless: fetch markets: %w", err)
	}
	c.logger.WarnContext(ctx, "market list failed, trying alternate path",
		slog.String("url", primary),
		slog.String("alt", alt),
	)
	raw, altErr := c.rest.DoRaw(ctx, rest.Request{Method: http.MethodGet, URL: alt})
	if altErr != nil {
		return nil, fmt.Errorf("limitless: fetch markets: %w", err)
	}
	return raw, nil
}

// Market fetches the market detail for slug.
func (c *Client) Market(ctx context.Context, slug string) (Market, error) {
	var m Market
	if err := c.rest.Get(ctx, c.base+"/markets/"+url.PathEscape(slug), &m); err != nil {
		return Market{}, fmt.Errorf("limitless: market %s: %w", slug, err)
	}
	return m, nil
}

// PostOrder submits a signed order. Only failures that never reached the
// venue are retried.
func (c *Client) PostOrder(ctx context.Context, body OrderPayload) (json.RawMessage, error) {
	return c.rest.DoRaw(ctx, rest.Request{
		Method:   http.MethodPost,
		URL:      c.base + "/orders",
		Body:     body,
		NoReplay: true,
	})
}

// profileLookup issues a single GET or POST against a profile endpoint.
func (c *Client) profileLookup(ctx context.Context, method, target string) (any, error) {
	req := rest.Request{Method: method, URL: target, NoReplay: true}
	if method == http.MethodPost {
		req.Body = struct{}{}
	}
	raw, err := c.rest.DoRaw(ctx, req)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func authHeaders(cfg Config) map[string]string {
	if cfg.APIKey == "" {
		return nil
	}
	value := cfg.APIKey
	if cfg.APIKeyPrefix != "" {
		value = cfg.APIKeyPrefix + " " + cfg.APIKey
	}
	return map[string]string{cfg.APIKeyHeader: value}
}

// --------------------------------------------------------------------------
// Wire types
// --------------------------------------------------------------------------

// flexID accepts a JSON string or number.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("limitless: id is neither string nor number")
	}
	*f = flexID(n.String())
	return nil
}

type venueInfo struct {
	Exchange string `json:"exchange"`
}

// Market is the subset of the market detail used for order placement.
type Market struct {
	Slug             string          `json:"slug"`
	ID               flexID          `json:"id"`
	Title            string          `json:"title"`
	ConditionID      string          `json:"conditionId"`
	NegRiskRequestID json.RawMessage `json:"negRiskRequestId"`
	PositionIDs      []flexID        `json:"positionIds"`
	Prices           []float64       `json:"prices"`
	Venue            *venueInfo      `json:"venue"`
	Markets          []struct {
		ID          flexID     `json:"id"`
		ConditionID string     `json:"conditionId"`
		Venue       *venueInfo `json:"venue"`
	} `json:"markets"`
	Data *struct {
		Venue   *venueInfo `json:"venue"`
		Markets []struct {
			Venue *venueInfo `json:"venue"`
		} `json:"markets"`
	} `json:"data"`
}

// SignedOrder is the wire form of a signed order. Large integers that fit
// in a float64 are sent as numbers; tokenId and expiration as strings.
type SignedOrder struct {
	Salt          int64   `json:"salt"`
	Maker         string  `json:"maker"`
	Signer        string  `json:"signer"`
	Taker         string  `json:"taker"`
	TokenID       string  `json:"tokenId"`
	MakerAmount   int64   `json:"makerAmount"`
	TakerAmount   int64   `json:"takerAmount"`
	Expiration    string  `json:"expiration"`
	Nonce         int64   `json:"nonce"`
	FeeRateBps    int64   `json:"feeRateBps"`
	Side          uint8   `json:"side"`
	SignatureType uint8   `json:"signatureType"`
	Price         float64 `json:"price"`
	Signature     string  `json:"signature"`
}

// OrderPayload is the POST /orders body.
type OrderPayload struct {
	Order      SignedOrder `json:"order"`
	OrderType  string      `json:"orderType"`
	MarketSlug string      `json:"marketSlug"`
	OwnerID    int64       `json:"ownerId"`
}
