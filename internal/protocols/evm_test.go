package protocols

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"polywallet/internal/models"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEVMNode struct {
	mu      sync.Mutex
	maxFee  *big.Int
	tip     *big.Int
	nonce   uint64
	balance *big.Int
	sent    []*types.Transaction
	sendErr error
}

func (f *fakeEVMNode) FeeData(ctx context.Context) (*big.Int, *big.Int, error) {
	return f.maxFee, f.tip, nil
}

func (f *fakeEVMNode) TransactionCount(ctx context.Context, address string) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeEVMNode) Balance(ctx context.Context, address string) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeEVMNode) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", models.NewValidationError("rlp: %v", err)
	}
	f.sent = append(f.sent, tx)
	return tx.Hash().Hex(), nil
}

type fakeWatcher struct {
	addresses []string
}

func (f *fakeWatcher) WatchAddress(ctx context.Context, network models.Network, address string) error {
	f.addresses = append(f.addresses, address)
	return nil
}

type fakeHistory struct {
	transfers []models.Transfer
}

func (f *fakeHistory) TransfersByAddress(ctx context.Context, network models.Network, address string) ([]models.Transfer, error) {
	return f.transfers, nil
}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

func newEVMEngine(t *testing.T, network models.Network, node *fakeEVMNode, watcher AddressWatcher, history HistorySource) *EVMEngine {
	t.Helper()
	logger := zerolog.Nop()
	engine, err := New(Config{
		Network:  network,
		Registry: newRegistry(t, network, ""),
		Logger:   &logger,
		EVM:      node,
		Watcher:  watcher,
		History:  history,
	})
	require.NoError(t, err)
	return engine.(*EVMEngine)
}

func TestEVMEngine_TransferSignsDynamicFeeTx(t *testing.T) {
	ctx := context.Background()
	node := &fakeEVMNode{maxFee: gwei(30), tip: gwei(2), nonce: 7}
	watcher := &fakeWatcher{}
	engine := newEVMEngine(t, models.EthMainnet, node, watcher, nil)

	from, err := engine.NewAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", from)
	assert.Equal(t, []string{from}, watcher.addresses)

	to := "0x00000000000000000000000000000000000000aa"
	preview, err := engine.Transfer(ctx, TransferRequest{From: from, To: to, Amount: decimal.RequireFromString("1.5")})
	require.NoError(t, err)

	// 21000 * 30 gwei
	assert.True(t, preview.Fee.Equal(decimal.RequireFromString("0.00063")), preview.Fee.String())
	assert.Empty(t, node.sent)

	require.NoError(t, preview.Send(ctx))
	require.Len(t, node.sent, 1)
	tx := node.sent[0]

	assert.Equal(t, preview.Hash, tx.Hash().Hex())
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(TransferGas), tx.Gas())
	assert.Equal(t, int64(1), tx.ChainId().Int64())
	assert.Equal(t, 0, tx.GasFeeCap().Cmp(gwei(30)))
	assert.Equal(t, 0, tx.GasTipCap().Cmp(gwei(2)))
	assert.Equal(t, "1500000000000000000", tx.Value().String())

	sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	require.NoError(t, err)
	assert.Equal(t, from, sender.Hex())

	require.ErrorIs(t, preview.Send(ctx), models.ErrAlreadyBroadcast)
}

func TestEVMEngine_AmountTruncatedToWei(t *testing.T) {
	ctx := context.Background()
	node := &fakeEVMNode{maxFee: gwei(1), tip: gwei(1)}
	engine := newEVMEngine(t, models.PolygonAmoy, node, nil, nil)

	from, err := engine.NewAddress(ctx)
	require.NoError(t, err)

	preview, err := engine.Transfer(ctx, TransferRequest{
		From:   from,
		To:     "0x00000000000000000000000000000000000000bb",
		Amount: decimal.RequireFromString("0.0000000000000000019"),
	})
	require.NoError(t, err)
	require.NoError(t, preview.Send(ctx))
	assert.Equal(t, "1", node.sent[0].Value().String())
	assert.Equal(t, int64(80002), node.sent[0].ChainId().Int64())
}

func TestEVMEngine_Errors(t *testing.T) {
	ctx := context.Background()
	node := &fakeEVMNode{tip: gwei(1)}
	engine := newEVMEngine(t, models.EthSepolia, node, nil, nil)
	from, err := engine.NewAddress(ctx)
	require.NoError(t, err)

	_, err = engine.Transfer(ctx, TransferRequest{From: from, To: "0x00000000000000000000000000000000000000aa", Amount: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fee data incomplete")

	_, err = engine.Transfer(ctx, TransferRequest{From: from, To: "not-an-address", Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, models.ErrValidation)

	_, err = engine.Transfer(ctx, TransferRequest{From: "0x00000000000000000000000000000000000000cc", To: from, Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, models.ErrNotFound)

	node.maxFee = gwei(2)
	node.sendErr = models.NewValidationError("nonce too low")
	preview, err := engine.Transfer(ctx, TransferRequest{From: from, To: "0x00000000000000000000000000000000000000aa", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	require.ErrorIs(t, preview.Send(ctx), models.ErrValidation)
}

func TestEVMEngine_BalanceAndHistory(t *testing.T) {
	ctx := context.Background()
	node := &fakeEVMNode{balance: new(big.Int).Mul(big.NewInt(25), big.NewInt(1e17))}
	history := &fakeHistory{transfers: []models.Transfer{{ID: "0x1", Network: models.EthMainnet}}}
	engine := newEVMEngine(t, models.EthMainnet, node, nil, history)

	balance, err := engine.Balance(ctx, "0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("2.5")))

	transfers, err := engine.TransferHistory(ctx, "0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	assert.Len(t, transfers, 1)

	assert.Equal(t, NonceChain, engine.Kind())
	assert.Equal(t, 12, engine.FinalityThreshold())
	assert.True(t, engine.Smallest().Equal(decimal.New(1, -18)))
}
