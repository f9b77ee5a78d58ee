// Package chain reads wallet state from an EVM RPC and submits the ERC-20
// approvals that order placement depends on.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	approvalGasLimit    = uint64(80_000)
	defaultPollInterval = 2 * time.Second
	defaultReceiptWait  = 2 * time.Minute
)

// MaxUint256 is the approval amount granted to exchange spenders.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

var erc20ABI abi.ABI

func init() {
	var err error
	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "approve",
			"type": "function",
			"inputs": [
				{"name": "spender", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"outputs": [{"name": "", "type": "bool"}]
		},
		{
			"name": "allowance",
			"type": "function",
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"outputs": [{"name": "", "type": "uint256"}]
		}
	]`))
	if err != nil {
		panic("erc20 abi parse: " + err.Error())
	}
}

// Backend is the subset of *ethclient.Client the package uses.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client is bound to a single account key on one chain.
type Client struct {
	backend Backend
	closer  func()
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	logger  *slog.Logger

	PollInterval time.Duration
	ReceiptWait  time.Duration

	mu       sync.Mutex
	approved map[approvalKey]bool
}

type approvalKey struct {
	token   common.Address
	spender common.Address
}

// Dial connects to rpcURL.
func Dial(ctx context.Context, rpcURL string, key *ecdsa.PrivateKey, chainID int64, logger *slog.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	c := New(ec, key, chainID, logger)
	c.closer = ec.Close
	return c, nil
}

// New wraps an existing backend.
func New(backend Backend, key *ecdsa.PrivateKey, chainID int64, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	addr := common.Address{}
	if key != nil {
		addr = cryptoAddress(key)
	}
	return &Client{
		backend:      backend,
		key:          key,
		address:      addr,
		chainID:      big.NewInt(chainID),
		logger:       logger.With(slog.String("component", "chain")),
		PollInterval: defaultPollInterval,
		ReceiptWait:  defaultReceiptWait,
		approved:     make(map[approvalKey]bool),
	}
}

// Close releases the RPC connection.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Address returns the account address.
func (c *Client) Address() common.Address {
	return c.address
}

// Balance returns the account's native balance in wei.
func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	bal, err := c.backend.BalanceAt(ctx, c.address, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: balance of %s: %w", c.address.Hex(), err)
	}
	return bal, nil
}

// Call performs a read-only contract call.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.address, To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", to.Hex(), err)
	}
	return out, nil
}

// Allowance reads token.allowance(account, spender).
func (c *Client) Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", c.address, spender)
	if err != nil {
		return nil, fmt.Errorf("chain: pack allowance: %w", err)
	}
	out, err := c.Call(ctx, token, data)
	if err != nil {
		return nil, err
	}
	vals, err := erc20ABI.Unpack("allowance", out)
	if err != nil || len(vals) == 0 {
		return nil, fmt.Errorf("chain: unpack allowance: %w", err)
	}
	amount, ok := vals[0].(*big.Int)
	if !ok {
		return nil, errors.New("chain: unexpected allowance type")
	}
	return amount, nil
}

// EnsureAllowance makes sure spender may pull at least min of token. When
// the allowance is short it approves MaxUint256 and blocks until the
// approval is mined. Only an unlimited allowance is remembered for the life
// of the process; a finite one is re-read on every call since each fill
// draws it down. The returned hash is zero when no transaction was needed.
func (c *Client) EnsureAllowance(ctx context.Context, token, spender common.Address, min *big.Int) (common.Hash, error) {
	k := approvalKey{token: token, spender: spender}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.approved[k] {
		return common.Hash{}, nil
	}

	current, err := c.Allowance(ctx, token, spender)
	if err != nil {
		return common.Hash{}, err
	}
	if current.Cmp(min) >= 0 {
		if current.Cmp(MaxUint256) >= 0 {
			c.approved[k] = true
		}
		return common.Hash{}, nil
	}

	c.logger.InfoContext(ctx, "approving erc20 allowance",
		slog.String("token", token.Hex()),
		slog.String("spender", spender.Hex()),
		slog.String("current", current.String()),
		slog.String("required", min.String()),
	)
	data, err := erc20ABI.Pack("approve", spender, MaxUint256)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: pack approve: %w", err)
	}
	hash, err := c.sendAndWait(ctx, token, data)
	if err != nil {
		return hash, fmt.Errorf("chain: approve %s for %s: %w", token.Hex(), spender.Hex(), err)
	}
	c.approved[k] = true
	c.logger.InfoContext(ctx, "allowance approved", slog.String("tx", hash.Hex()))
	return hash, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) sendAndWait(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, errors.New("no signing key")
	}
	nonce, err := c.backend.PendingNonceAt(ctx, c.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas price: %w", err)
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.address, To: &to, GasPrice: gasPrice, Data: data})
	if err != nil || gas == 0 {
		gas = approvalGasLimit
	} else {
		gas = gas * 12 / 10
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gas, gasPrice, data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}

	receipt, err := c.waitForReceipt(ctx, signed.Hash())
	if err != nil {
		return signed.Hash(), err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return signed.Hash(), fmt.Errorf("tx %s reverted", signed.Hash().Hex())
	}
	return signed.Hash(), nil
}

func (c *Client) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.ReceiptWait)
	defer cancel()

	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			c.logger.DebugContext(ctx, "receipt poll failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
