package crypto

import (
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// PseudoTxHash returns a random 0x-prefixed 32-byte hex string shaped like
// a transaction hash, for fills that never reach a chain.
func PseudoTxHash() string {
	id := uuid.New()
	return common.BytesToHash(ethcrypto.Keccak256(id[:])).Hex()
}
