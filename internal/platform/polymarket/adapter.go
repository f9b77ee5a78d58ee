// Package polymarket is the venue adapter for Polymarket: Gamma for market
// discovery, the CLOB for prices and L2-authenticated order placement on
// Polygon.
package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictagent/internal/catalog"
	"github.com/alanyoungcy/predictagent/internal/crypto"
	"github.com/alanyoungcy/predictagent/internal/domain"
	"github.com/alanyoungcy/predictagent/internal/platform/rest"
)

const (
	DefaultGammaURL = "https://gamma-api.polymarket.com"
	DefaultClobURL  = "https://clob.polymarket.com"
	DefaultChainID  = 137

	minOrderPrice = 0.01
	maxOrderPrice = 0.99
)

// DefaultExchange is the Polymarket CTF exchange on Polygon.
var DefaultExchange = common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")

// Config carries the Polymarket settings from the application config.
type Config struct {
	GammaURL       string
	ClobURL        string
	ChainID        int64
	Exchange       common.Address
	TradingEnabled bool
	// Creds are derived from the signing key when empty.
	Creds      crypto.APICreds
	OrderType  string
	FeeRateBps int64
	RatePerSec float64
	RetryDelay time.Duration
}

// Adapter implements domain.Venue for Polymarket.
type Adapter struct {
	cfg    Config
	gamma  *GammaClient
	clob   *ClobClient
	tokens *catalog.TokenIndex
	signer *crypto.Signer
	logger *slog.Logger
	now    func() time.Time
}

// NewAdapter wires the Polymarket venue. tokens receives the YES/NO token
// ids of every fetched market.
func NewAdapter(cfg Config, signer *crypto.Signer, tokens *catalog.TokenIndex, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "venue"), slog.String("venue", domain.VenuePolymarket))
	if cfg.GammaURL == "" {
		cfg.GammaURL = DefaultGammaURL
	}
	if cfg.ClobURL == "" {
		cfg.ClobURL = DefaultClobURL
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = DefaultChainID
	}
	if cfg.Exchange == (common.Address{}) {
		cfg.Exchange = DefaultExchange
	}
	if cfg.OrderType == "" {
		cfg.OrderType = "GTC"
	}
	if tokens == nil {
		tokens = catalog.NewTokenIndex()
	}
	rc := rest.New(rest.Options{
		RatePerSec: cfg.RatePerSec,
		Burst:      2,
		BaseDelay:  cfg.RetryDelay,
		Logger:     logger,
	})
	return &Adapter{
		cfg:    cfg,
		gamma:  NewGammaClient(cfg.GammaURL, rc),
		clob:   NewClobClient(cfg.ClobURL, rc, signer, cfg.ChainID, cfg.Creds),
		tokens: tokens,
		signer: signer,
		logger: logger,
		now:    time.Now,
	}
}

func (a *Adapter) Name() string { return domain.VenuePolymarket }

func (a *Adapter) Live() bool { return a.cfg.TradingEnabled }

// FetchMarkets flattens the open events into binary markets. When the
// events yield no tradeable market, the flat market list is used instead.
// The token index is replaced on every successful fetch.
func (a *Adapter) FetchMarkets(ctx context.Context) ([]domain.PredictionMarket, error) {
	events, err := a.gamma.GetEvents(ctx)
	if err != nil {
		return nil, err
	}

	var markets []domain.PredictionMarket
	tokens := make(map[string][2]string)
	for _, ev := range events {
		for _, m := range ev.Markets {
			pm, ids, ok := toMarket(m, ev.Title, ev.Category)
			if !ok {
				continue
			}
			markets = append(markets, pm)
			tokens[pm.ID] = ids
		}
	}

	if len(markets) == 0 {
		a.logger.WarnContext(ctx, "events yielded no markets, using market list",
			slog.Int("events", len(events)),
		)
		flat, err := a.gamma.GetMarkets(ctx)
		if err != nil {
			return nil, err
		}
		for _, m := range flat {
			pm, ids, ok := toMarket(m, "", "")
			if !ok {
				continue
			}
			markets = append(markets, pm)
			tokens[pm.ID] = ids
		}
	}

	a.tokens.Replace(domain.VenuePolymarket, tokens)
	a.logger.InfoContext(ctx, "markets fetched", slog.Int("count", len(markets)))
	return markets, nil
}

// GetPrice reads the CLOB BUY price of the outcome token.
func (a *Adapter) GetPrice(ctx context.Context, marketID string, outcome domain.Outcome) domain.PriceQuote {
	tokenID, ok := a.tokens.Lookup(domain.VenuePolymarket, marketID, outcome)
	if !ok {
		a.logger.WarnContext(ctx, "no token id for market, using estimate",
			slog.String("market_id", marketID),
			slog.String("outcome", string(outcome)),
		)
		return domain.EstimatedPrice()
	}
	bps, err := a.clob.GetPrice(ctx, tokenID)
	if err != nil {
		a.logger.WarnContext(ctx, "price unavailable, using estimate",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return domain.EstimatedPrice()
	}
	return domain.ObservedPrice(bps)
}

// PlaceOrder signs a GTC limit order against the CTF exchange domain and
// posts it with L2 headers. BUY sizes are the USD notional; SELL sizes are
// shares when given.
func (a *Adapter) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if !a.cfg.TradingEnabled {
		return domain.OrderResult{}, fmt.Errorf("polymarket: %w", domain.ErrTradingDisabled)
	}
	if a.signer == nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket: no signing key: %w", domain.ErrSigningFailed)
	}

	tokenStr, ok := a.tokens.Lookup(domain.VenuePolymarket, req.MarketID, req.Outcome)
	if !ok {
		return domain.OrderResult{}, fmt.Errorf("polymarket: market %s: %w", req.MarketID, domain.ErrTokenUnresolved)
	}
	tokenID, ok := new(big.Int).SetString(tokenStr, 10)
	if !ok {
		return domain.OrderResult{}, fmt.Errorf("polymarket: token id %q: %w", tokenStr, domain.ErrTokenUnresolved)
	}

	price := clampPrice(float64(req.PriceBps) / domain.BpsScale)
	notional := req.AmountUsd
	if req.Side == domain.OrderSideSell && req.Shares > 0 {
		notional = req.Shares * price
	}
	amounts, err := crypto.OrderAmounts(req.Side, notional, price)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket: %w", err)
	}

	order := crypto.NewOrder(a.signer.Address(), crypto.OrderParams{
		TokenID:    tokenID,
		Side:       req.Side,
		Amounts:    amounts,
		FeeRateBps: a.cfg.FeeRateBps,
	}, a.now())
	if err := order.Sign(a.signer, crypto.PolymarketDomain(a.cfg.ChainID, a.cfg.Exchange)); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket: %w: %v", domain.ErrSigningFailed, err)
	}

	creds, err := a.clob.Creds(ctx)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket: %w", err)
	}

	a.logger.InfoContext(ctx, "submitting order",
		slog.String("market", req.MarketID),
		slog.String("side", string(req.Side)),
		slog.String("outcome", string(req.Outcome)),
		slog.Float64("notional_usd", notional),
		slog.Float64("price", price),
	)
	result, raw, err := a.clob.PostOrder(ctx, creds, OrderPayload{
		Order:     wireOrder(order, req.Side),
		Owner:     creds.Key,
		OrderType: a.cfg.OrderType,
	})
	if err != nil {
		return domain.OrderResult{Raw: raw}, err
	}

	id := result.OrderID
	if id == "" && len(result.OrderHashes) > 0 {
		id = result.OrderHashes[0]
	}
	return domain.OrderResult{OrderID: id, Raw: raw}, nil
}

func clampPrice(p float64) float64 {
	return math.Max(minOrderPrice, math.Min(maxOrderPrice, p))
}

func wireOrder(o crypto.Order, side domain.OrderSide) SignedOrder {
	return SignedOrder{
		Salt:          o.Salt.Int64(),
		Maker:         o.Maker.Hex(),
		Signer:        o.Signer.Hex(),
		Taker:         o.Taker.Hex(),
		TokenID:       o.TokenID.String(),
		MakerAmount:   o.MakerAmount.String(),
		TakerAmount:   o.TakerAmount.String(),
		Expiration:    o.Expiration.String(),
		Nonce:         o.Nonce.String(),
		FeeRateBps:    o.FeeRateBps.String(),
		Side:          string(side),
		SignatureType: o.SignatureType,
		Signature:     o.Signature,
	}
}
