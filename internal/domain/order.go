package domain

import (
	"context"
	"encoding/json"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderRequest is what the executor asks a venue to place. AmountUsd is the
// quote-asset notional; Shares is the outcome-token quantity. Venues read
// whichever their API expects.
type OrderRequest struct {
	MarketID  string
	Outcome   Outcome
	Side      OrderSide
	PriceBps  int
	AmountUsd float64
	Shares    float64
}

// OrderResult is the normalized venue response after submission.
type OrderResult struct {
	OrderID string
	Raw     json.RawMessage

	// Simulated is true when no order left the process.
	Simulated bool

	// InsufficientShares is set when a SELL was refused because the venue
	// holds no shares for the wallet.
	InsufficientShares bool
}

// Venue names accepted in configuration.
const (
	VenueLimitless   = "limitless"
	VenuePolymarket  = "polymarket"
	VenuePredictBase = "predictbase"
	VenueOpinion     = "opinion"
)

// Venue is the single capability set every trading venue implements. One
// venue is selected at startup.
type Venue interface {
	// Name returns the configured venue identifier.
	Name() string
	// Live reports whether orders go through PlaceOrder. When false the
	// executor takes its mock path instead.
	Live() bool
	// FetchMarkets returns the venue's current tradeable markets.
	FetchMarkets(ctx context.Context) ([]PredictionMarket, error)
	// GetPrice never fails; unresolvable lookups yield EstimatedPrice.
	GetPrice(ctx context.Context, marketID string, outcome Outcome) PriceQuote
	// PlaceOrder submits (or simulates) an order.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}
