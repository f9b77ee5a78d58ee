package chain

import (
	"bytes"
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu        sync.Mutex
	balance   *big.Int
	allowance *big.Int
	status    uint64
	sent      []*types.Transaction
	polls     int
}

func (f *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if bytes.Equal(msg.Data[:4], erc20ABI.Methods["allowance"].ID) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return erc20ABI.Methods["allowance"].Outputs.Pack(f.allowance)
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 50_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	if f.status == types.ReceiptStatusSuccessful {
		f.allowance = new(big.Int).Set(MaxUint256)
	}
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.polls == 1 {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{TxHash: hash, Status: f.status}, nil
}

func newTestClient(t *testing.T, b Backend) *Client {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	c := New(b, key, 8453, nil)
	c.PollInterval = time.Millisecond
	c.ReceiptWait = time.Second
	return c
}

var (
	usdc     = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	exchange = common.HexToAddress("0x05c748E2f4DcDe0ec9Fa8DDc40DE6b867f923fa5")
)

func TestEnsureAllowance_ApprovesOnceAndWaits(t *testing.T) {
	b := &fakeBackend{allowance: big.NewInt(0), status: types.ReceiptStatusSuccessful}
	c := newTestClient(t, b)
	ctx := context.Background()

	hash, err := c.EnsureAllowance(ctx, usdc, exchange, big.NewInt(10_000_000))
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, hash)
	require.Len(t, b.sent, 1)
	assert.Equal(t, usdc, *b.sent[0].To())
	assert.GreaterOrEqual(t, b.polls, 2)

	hash, err = c.EnsureAllowance(ctx, usdc, exchange, big.NewInt(10_000_000))
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, hash)
	assert.Len(t, b.sent, 1)
}

func TestEnsureAllowance_SufficientSkipsApproval(t *testing.T) {
	b := &fakeBackend{allowance: big.NewInt(50_000_000), status: types.ReceiptStatusSuccessful}
	c := newTestClient(t, b)

	hash, err := c.EnsureAllowance(context.Background(), usdc, exchange, big.NewInt(10_000_000))
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, hash)
	assert.Empty(t, b.sent)
}

func TestEnsureAllowance_FiniteAllowanceIsReread(t *testing.T) {
	b := &fakeBackend{allowance: big.NewInt(15_000_000), status: types.ReceiptStatusSuccessful}
	c := newTestClient(t, b)
	ctx := context.Background()

	hash, err := c.EnsureAllowance(ctx, usdc, exchange, big.NewInt(10_000_000))
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, hash)
	assert.Empty(t, b.sent)

	// a fill spent 10 USDC of the allowance
	b.mu.Lock()
	b.allowance = big.NewInt(5_000_000)
	b.mu.Unlock()

	hash, err = c.EnsureAllowance(ctx, usdc, exchange, big.NewInt(10_000_000))
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, hash)
	assert.Len(t, b.sent, 1)
}

func TestEnsureAllowance_UnlimitedAllowanceIsRemembered(t *testing.T) {
	b := &fakeBackend{allowance: new(big.Int).Set(MaxUint256), status: types.ReceiptStatusSuccessful}
	c := newTestClient(t, b)
	ctx := context.Background()

	_, err := c.EnsureAllowance(ctx, usdc, exchange, big.NewInt(10_000_000))
	require.NoError(t, err)

	b.mu.Lock()
	b.allowance = big.NewInt(0)
	b.mu.Unlock()

	hash, err := c.EnsureAllowance(ctx, usdc, exchange, big.NewInt(10_000_000))
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, hash)
	assert.Empty(t, b.sent)
}

func TestEnsureAllowance_RevertedApprovalFails(t *testing.T) {
	b := &fakeBackend{allowance: big.NewInt(0), status: types.ReceiptStatusFailed}
	c := newTestClient(t, b)
	ctx := context.Background()

	_, err := c.EnsureAllowance(ctx, usdc, exchange, big.NewInt(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reverted")

	// not remembered: the next call tries again
	_, err = c.EnsureAllowance(ctx, usdc, exchange, big.NewInt(1))
	require.Error(t, err)
	assert.Len(t, b.sent, 2)
}

func TestBalanceAndUnits(t *testing.T) {
	b := &fakeBackend{balance: EthToWei(0.03)}
	c := newTestClient(t, b)

	bal, err := c.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "30000000000000000", bal.String())
	assert.InDelta(t, 0.03, WeiToEth(bal), 1e-12)
}
