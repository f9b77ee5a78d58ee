package chain

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

var weiPerEth = decimal.New(1, 18)

// EthToWei converts an ETH amount to wei.
func EthToWei(eth float64) *big.Int {
	return decimal.NewFromFloat(eth).Mul(weiPerEth).Round(0).BigInt()
}

// WeiToEth converts wei to ETH.
func WeiToEth(wei *big.Int) float64 {
	f, _ := decimal.NewFromBigInt(wei, 0).Div(weiPerEth).Float64()
	return f
}

func cryptoAddress(key *ecdsa.PrivateKey) common.Address {
	return ethcrypto.PubkeyToAddress(key.PublicKey)
}
