package crypto

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/predictagent/internal/domain"
)

// Side is the on-chain order side encoding.
type Side uint8

const (
	SideBuy  Side = 0
	SideSell Side = 1
)

// SideOf maps a domain order side to its on-chain encoding.
func SideOf(s domain.OrderSide) Side {
	if s == domain.OrderSideSell {
		return SideSell
	}
	return SideBuy
}

// SignatureTypeEOA is the signature type for orders signed directly by an
// externally owned account.
const SignatureTypeEOA uint8 = 0

// saltOffset pushes the salt past the current time.
const saltOffset = 24 * time.Hour

// Order is the CTF exchange order struct. It is built per submission and
// never stored.
type Order struct {
	Salt          *big.Int
	Maker         common.Address
	Signer        common.Address
	Taker         common.Address
	TokenID       *big.Int
	MakerAmount   *big.Int
	TakerAmount   *big.Int
	Expiration    *big.Int
	Nonce         *big.Int
	FeeRateBps    *big.Int
	Side          Side
	SignatureType uint8
	Signature     string
}

// OrderParams are the venue-specific inputs to NewOrder.
type OrderParams struct {
	TokenID    *big.Int
	Side       domain.OrderSide
	Amounts    Amounts
	FeeRateBps int64
	// Maker overrides the maker address (proxy wallets); defaults to the
	// signer address.
	Maker         common.Address
	SignatureType uint8
}

// NewOrder builds an open-book order from p. The salt is the current time
// in milliseconds plus 24h, taker is the zero address, and expiration and
// nonce are zero.
func NewOrder(signer common.Address, p OrderParams, now time.Time) Order {
	maker := p.Maker
	if maker == (common.Address{}) {
		maker = signer
	}
	return Order{
		Salt:          big.NewInt(now.Add(saltOffset).UnixMilli()),
		Maker:         maker,
		Signer:        signer,
		Taker:         common.Address{},
		TokenID:       new(big.Int).Set(p.TokenID),
		MakerAmount:   new(big.Int).Set(p.Amounts.Maker),
		TakerAmount:   new(big.Int).Set(p.Amounts.Taker),
		Expiration:    big.NewInt(0),
		Nonce:         big.NewInt(0),
		FeeRateBps:    big.NewInt(p.FeeRateBps),
		Side:          SideOf(p.Side),
		SignatureType: p.SignatureType,
	}
}

// StructHash encodes and hashes the order according to EIP-712.
func (o Order) StructHash() []byte {
	return ethcrypto.Keccak256(concatBytes(
		orderTypeHash,
		bigIntTo32Bytes(o.Salt),
		common.LeftPadBytes(o.Maker.Bytes(), 32),
		common.LeftPadBytes(o.Signer.Bytes(), 32),
		common.LeftPadBytes(o.Taker.Bytes(), 32),
		bigIntTo32Bytes(o.TokenID),
		bigIntTo32Bytes(o.MakerAmount),
		bigIntTo32Bytes(o.TakerAmount),
		bigIntTo32Bytes(o.Expiration),
		bigIntTo32Bytes(o.Nonce),
		bigIntTo32Bytes(o.FeeRateBps),
		bigIntTo32Bytes(big.NewInt(int64(o.Side))),
		bigIntTo32Bytes(big.NewInt(int64(o.SignatureType))),
	))
}

// Sign signs the order in place.
func (o *Order) Sign(s *Signer, d Domain) error {
	sig, err := s.SignOrder(d, *o)
	if err != nil {
		return err
	}
	o.Signature = sig
	return nil
}
