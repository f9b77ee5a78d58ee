package crypto

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictagent/internal/domain"
)

// UnitDecimals is the fixed-point scale of both USDC and outcome shares.
const UnitDecimals = 6

var unitScale = decimal.New(1, UnitDecimals)

// Amounts are the maker/taker integer amounts of an order.
type Amounts struct {
	Maker *big.Int
	Taker *big.Int
}

// OrderAmounts converts a USD notional at price (0..1] into integer units.
// For a BUY the maker gives USDC and takes shares; a SELL swaps the two.
func OrderAmounts(side domain.OrderSide, notionalUsd, price float64) (Amounts, error) {
	if price <= 0 {
		return Amounts{}, fmt.Errorf("crypto/amounts: price %v: %w", price, domain.ErrInvalidPrice)
	}
	notional := decimal.NewFromFloat(notionalUsd)
	shares := notional.DivRound(decimal.NewFromFloat(price), 12)

	usdc := ToUnits(notional)
	shareUnits := ToUnits(shares)

	if side == domain.OrderSideSell {
		return Amounts{Maker: shareUnits, Taker: usdc}, nil
	}
	return Amounts{Maker: usdc, Taker: shareUnits}, nil
}

// ToUnits rounds d to the nearest 6-decimal fixed-point unit.
func ToUnits(d decimal.Decimal) *big.Int {
	return d.Mul(unitScale).Round(0).BigInt()
}

// FromUnits converts fixed-point units back to a decimal value.
func FromUnits(units *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(units, -UnitDecimals)
}
