package limitless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictagent/internal/catalog"
	"github.com/alanyoungcy/predictagent/internal/crypto"
	"github.com/alanyoungcy/predictagent/internal/domain"
	"github.com/alanyoungcy/predictagent/internal/platform/rest"
)

const ownerMismatchMarker = "Profile ID does not match"

// Allowances ensures an ERC-20 allowance before a BUY.
type Allowances interface {
	EnsureAllowance(ctx context.Context, token, spender common.Address, min *big.Int) (common.Hash, error)
}

// Adapter implements domain.Venue for Limitless.
type Adapter struct {
	cfg        Config
	client     *Client
	owner      *OwnerResolver
	signer     *crypto.Signer
	allowances Allowances
	cache      *catalog.Cache
	logger     *slog.Logger
	now        func() time.Time
}

// NewAdapter wires the Limitless venue. cache is the catalog snapshot cache
// used for price lookups.
func NewAdapter(cfg Config, signer *crypto.Signer, allowances Allowances, cache *catalog.Cache, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "venue"), slog.String("venue", domain.VenueLimitless))
	client := NewClient(cfg, logger)
	if cfg.OrderType == "" {
		cfg.OrderType = "GTC"
	}
	var wallet string
	if signer != nil {
		wallet = signer.Address().Hex()
	}
	return &Adapter{
		cfg:        cfg,
		client:     client,
		owner:      NewOwnerResolver(client, wallet, cfg.OwnerID, logger),
		signer:     signer,
		allowances: allowances,
		cache:      cache,
		logger:     logger,
		now:        time.Now,
	}
}

func (a *Adapter) Name() string { return domain.VenueLimitless }

func (a *Adapter) Live() bool { return a.cfg.TradingEnabled }

// FetchMarkets flattens the active market listing with the slug rule.
func (a *Adapter) FetchMarkets(ctx context.Context) ([]domain.PredictionMarket, error) {
	raw, err := a.client.MarketsPayload(ctx)
	if err != nil {
		return nil, err
	}
	markets, err := catalog.Flatten(raw, catalog.SlugRule, a.logger)
	if err != nil {
		return nil, fmt.Errorf("limitless: %w", err)
	}
	return markets, nil
}

// GetPrice reads the last catalog snapshot, then the market detail's
// percentage prices, and otherwise returns the estimated neutral price.
func (a *Adapter) GetPrice(ctx context.Context, marketID string, outcome domain.Outcome) domain.PriceQuote {
	if a.cache != nil {
		if m, ok := a.cache.Market(ctx, domain.VenueLimitless, marketID); ok {
			return domain.ObservedPrice(m.Price(outcome))
		}
	}
	m, err := a.client.Market(ctx, marketID)
	if err == nil && len(m.Prices) > outcome.Index() {
		return domain.ObservedPrice(int(math.Round(m.Prices[outcome.Index()] * 100)))
	}
	attrs := []any{slog.String("market_id", marketID), slog.String("outcome", string(outcome))}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	a.logger.WarnContext(ctx, "price unavailable, using estimate", attrs...)
	return domain.EstimatedPrice()
}

// PlaceOrder resolves token id, exchange and owner id, ensures the USDC
// allowance for BUYs, signs the order and posts it.
func (a *Adapter) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if !a.cfg.TradingEnabled {
		return domain.OrderResult{}, fmt.Errorf("limitless: %w", domain.ErrTradingDisabled)
	}
	if a.signer == nil {
		return domain.OrderResult{}, fmt.Errorf("limitless: no signing key: %w", domain.ErrSigningFailed)
	}

	market, err := a.client.Market(ctx, req.MarketID)
	if err != nil {
		return domain.OrderResult{}, err
	}
	exchange, source := Exchange(market, a.cfg.ExchangeOverride)
	a.logger.DebugContext(ctx, "exchange resolved",
		slog.String("exchange", exchange.Hex()),
		slog.String("source", source),
	)
	tokenID, err := TokenID(market, req.Outcome)
	if err != nil {
		return domain.OrderResult{}, err
	}

	price := float64(req.PriceBps) / domain.BpsScale
	amounts, err := crypto.OrderAmounts(req.Side, req.AmountUsd, price)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("limitless: %w", err)
	}

	if req.Side == domain.OrderSideBuy {
		if a.cfg.USDCAddress == (common.Address{}) {
			return domain.OrderResult{}, errors.New("limitless: usdc_address is not configured")
		}
		if a.allowances == nil {
			return domain.OrderResult{}, errors.New("limitless: no chain client for allowance checks")
		}
		if _, err := a.allowances.EnsureAllowance(ctx, a.cfg.USDCAddress, exchange, amounts.Maker); err != nil {
			return domain.OrderResult{}, fmt.Errorf("limitless: %w", err)
		}
	}

	order := crypto.NewOrder(a.signer.Address(), crypto.OrderParams{
		TokenID:    tokenID,
		Side:       req.Side,
		Amounts:    amounts,
		FeeRateBps: a.cfg.FeeRateBps,
	}, a.now())
	if err := order.Sign(a.signer, crypto.LimitlessDomain(exchange)); err != nil {
		return domain.OrderResult{}, fmt.Errorf("limitless: %w: %v", domain.ErrSigningFailed, err)
	}

	ownerID, err := a.owner.Resolve(ctx)
	if err != nil {
		return domain.OrderResult{}, err
	}

	payload := OrderPayload{
		Order:      wireOrder(order, price),
		OrderType:  a.cfg.OrderType,
		MarketSlug: req.MarketID,
		OwnerID:    ownerID,
	}
	a.logger.InfoContext(ctx, "submitting order",
		slog.String("market", req.MarketID),
		slog.String("side", string(req.Side)),
		slog.String("outcome", string(req.Outcome)),
		slog.Float64("amount_usd", req.AmountUsd),
		slog.Float64("price", price),
	)

	raw, err := a.client.PostOrder(ctx, payload)
	if err != nil {
		if se, ok := rest.AsStatus(err); ok && se.Status == http.StatusBadRequest && strings.Contains(se.Body, ownerMismatchMarker) {
			return domain.OrderResult{Raw: json.RawMessage(se.Body)}, fmt.Errorf(
				"limitless: ownerId %d does not match the profile of wallet %s; set limitless.owner_id "+
					"(PREDICTAGENT_LIMITLESS_OWNER_ID) to your numeric Limitless profile id and restart: %w; venue said: %s",
				ownerID, a.signer.Address().Hex(), domain.ErrOwnerMismatch, rest.Truncate(se.Body, 300))
		}
		return domain.OrderResult{}, fmt.Errorf("limitless: post order: %w", err)
	}

	var resp struct {
		ID flexID `json:"id"`
	}
	_ = json.Unmarshal(raw, &resp)
	return domain.OrderResult{OrderID: string(resp.ID), Raw: raw}, nil
}

func wireOrder(o crypto.Order, price float64) SignedOrder {
	return SignedOrder{
		Salt:          o.Salt.Int64(),
		Maker:         o.Maker.Hex(),
		Signer:        o.Signer.Hex(),
		Taker:         o.Taker.Hex(),
		TokenID:       o.TokenID.String(),
		MakerAmount:   o.MakerAmount.Int64(),
		TakerAmount:   o.TakerAmount.Int64(),
		Expiration:    o.Expiration.String(),
		Nonce:         o.Nonce.Int64(),
		FeeRateBps:    o.FeeRateBps.Int64(),
		Side:          uint8(o.Side),
		SignatureType: o.SignatureType,
		Price:         price,
		Signature:     o.Signature,
	}
}
