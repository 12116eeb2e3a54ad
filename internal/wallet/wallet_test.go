package wallet

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"polywallet/internal/database"
	"polywallet/internal/events"
	"polywallet/internal/keys"
	"polywallet/internal/ledger"
	"polywallet/internal/models"
	"polywallet/internal/protocols"
	"polywallet/internal/rpc"
	"polywallet/internal/rpc/rpctest"
	"polywallet/internal/watchers"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

type env struct {
	store *database.BadgerStore
	bus   *events.Bus
	node  *rpctest.NanoNode
	base  *watchers.Base
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := database.OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := zerolog.Nop()
	bus := events.NewBus(events.DefaultBuffer, &logger)
	l := ledger.New(store, bus, nil, &logger)
	return &env{
		store: store,
		bus:   bus,
		node:  rpctest.NewNanoNode(),
		base:  watchers.NewBase(models.NanoMainnet, store, l, nil, &logger),
	}
}

func (e *env) open(t *testing.T, passphrase string, networks ...models.Network) *Wallet {
	t.Helper()
	hd, err := keys.NewFromMnemonic(testMnemonic, passphrase)
	require.NoError(t, err)
	w, err := New(context.Background(), hd, networks, Deps{Book: e.store, Events: e.bus, Nano: e.node})
	require.NoError(t, err)
	return w
}

func raw(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil))
}

func TestNewRejectsUnconfiguredNetworks(t *testing.T) {
	e := newEnv(t)
	hd, err := keys.NewFromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = New(ctx, hd, []models.Network{"dogecoin"}, Deps{Book: e.store, Events: e.bus})
	assert.ErrorIs(t, err, models.ErrUnknownNetwork)

	// EVM network without a client
	_, err = New(ctx, hd, []models.Network{models.EthMainnet}, Deps{Book: e.store, Events: e.bus})
	assert.Error(t, err)
}

func TestWalletRoutesByNetwork(t *testing.T) {
	e := newEnv(t)
	w := e.open(t, "", models.NanoMainnet, models.BtcMainnet)
	ctx := context.Background()

	assert.Equal(t, []models.Network{models.BtcMainnet, models.NanoMainnet}, w.Networks())

	nanoAddr, err := w.NewAddress(ctx, models.NanoMainnet)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(nanoAddr, "nano_"))

	btcAddr, err := w.NewAddress(ctx, models.BtcMainnet)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(btcAddr, "bc1q"))

	_, err = w.NewAddress(ctx, models.EthMainnet)
	assert.ErrorIs(t, err, models.ErrUnknownNetwork)

	_, err = w.Balance(ctx, models.BtcMainnet, btcAddr)
	assert.ErrorIs(t, err, models.ErrNotImplemented)

	records, err := e.store.ListAddresses(ctx, w.ID(), models.NanoMainnet)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, nanoAddr, records[0].Address)
}

// idleEVM is an EVM node that is never called on the address path.
type idleEVM struct{}

func (idleEVM) FeeData(ctx context.Context) (*big.Int, *big.Int, error) {
	return big.NewInt(2), big.NewInt(1), nil
}
func (idleEVM) TransactionCount(ctx context.Context, address string) (uint64, error) { return 0, nil }
func (idleEVM) Balance(ctx context.Context, address string) (*big.Int, error)         { return big.NewInt(0), nil }
func (idleEVM) SendRawTransaction(ctx context.Context, raw []byte) (string, error)    { return "", nil }

func TestNewAddressOnTwoEVMNetworks(t *testing.T) {
	e := newEnv(t)
	hd, err := keys.NewFromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	ctx := context.Background()

	networks := []models.Network{models.EthSepolia, models.PolygonAmoy}
	w, err := New(ctx, hd, networks, Deps{
		Book:   e.store,
		Events: e.bus,
		EVM:    map[models.Network]protocols.EVMNode{models.EthSepolia: idleEVM{}, models.PolygonAmoy: idleEVM{}},
	})
	require.NoError(t, err)

	sepolia, err := w.NewAddress(ctx, models.EthSepolia)
	require.NoError(t, err)
	amoy, err := w.NewAddress(ctx, models.PolygonAmoy)
	require.NoError(t, err)
	assert.Equal(t, sepolia, amoy)

	next, err := w.NewAddress(ctx, models.PolygonAmoy)
	require.NoError(t, err)
	assert.NotEqual(t, amoy, next)

	for _, network := range networks {
		owners, err := e.store.OwnersOf(ctx, network, sepolia)
		require.NoError(t, err)
		require.Len(t, owners, 1, network)
		assert.Equal(t, w.ID(), owners[0].UserID)
	}
}

func TestTransferRejectsBadAmounts(t *testing.T) {
	e := newEnv(t)
	w := e.open(t, "", models.NanoMainnet)
	ctx := context.Background()
	from, err := w.NewAddress(ctx, models.NanoMainnet)
	require.NoError(t, err)

	for _, amount := range []string{"0", "-1", "0.0000000000000000000000000000001"} {
		_, err := w.Transfer(ctx, models.NanoMainnet, protocols.TransferRequest{From: from, To: from, Amount: decimal.RequireFromString(amount)})
		assert.ErrorIs(t, err, models.ErrValidation, amount)
	}
	assert.Zero(t, e.node.Calls["process"])
}

func TestTransferSettlesIntoRecipientSession(t *testing.T) {
	e := newEnv(t)
	alice := e.open(t, "alice", models.NanoMainnet)
	bob := e.open(t, "bob", models.NanoMainnet)
	require.NotEqual(t, alice.ID(), bob.ID())
	ctx := context.Background()

	from, err := alice.NewAddress(ctx, models.NanoMainnet)
	require.NoError(t, err)
	to, err := bob.NewAddress(ctx, models.NanoMainnet)
	require.NoError(t, err)

	e.node.Fund(from, strings.Repeat("A", 64), "nano_faucet", raw(5))

	stream := bob.Transfers("")
	defer stream.Close()

	// the node confirms every processed send to the watcher
	e.node.OnProcess = func(hash string, block rpc.NanoBlock, subtype string) {
		if subtype != "send" {
			return
		}
		_, err := e.base.Emit(ctx, models.Transfer{ID: hash, From: block.Account, To: block.LinkAsAccount, Amount: decimal.NewFromInt(1), Confirmations: 1})
		assert.NoError(t, err)
	}

	preview, err := alice.Transfer(ctx, models.NanoMainnet, protocols.TransferRequest{From: from, To: to, Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	require.NoError(t, preview.Send(ctx))
	assert.ErrorIs(t, preview.Send(ctx), models.ErrAlreadyBroadcast)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	event, err := stream.Next(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, preview.Hash, event.Cursor)
	assert.Equal(t, bob.ID(), event.UserID)
	assert.Equal(t, to, event.Transfer.To)
	assert.Equal(t, preview.Hash, stream.LastEventID())

	balance, err := alice.Balance(ctx, models.NanoMainnet, from)
	require.NoError(t, err)
	assert.Equal(t, "4", balance.String())

	history, err := bob.TransferHistory(ctx, models.NanoMainnet, to)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, preview.Hash, history[0].ID)
}

func TestTransferRejectsBadRecipient(t *testing.T) {
	e := newEnv(t)
	w := e.open(t, "", models.NanoMainnet)
	ctx := context.Background()
	from, err := w.NewAddress(ctx, models.NanoMainnet)
	require.NoError(t, err)
	e.node.Fund(from, strings.Repeat("A", 64), "nano_faucet", raw(5))

	_, err = w.Transfer(ctx, models.NanoMainnet, protocols.TransferRequest{From: from, To: "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Zero(t, e.node.Calls["work_generate"])
}
