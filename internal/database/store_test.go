package database

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"polywallet/internal/interfaces"
	"polywallet/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stores returns every backend available to the test run. Postgres is only
// exercised when POLYWALLET_TEST_DSN is set.
func stores(t *testing.T) map[string]interfaces.Store {
	t.Helper()
	out := make(map[string]interfaces.Store)

	b, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	out["badger"] = b

	if dsn := os.Getenv("POLYWALLET_TEST_DSN"); dsn != "" {
		p, err := OpenPostgres(dsn)
		require.NoError(t, err)
		_, err = p.db.Exec(`TRUNCATE transfers, addresses, users`)
		require.NoError(t, err)
		t.Cleanup(func() { _ = p.Close() })
		out["postgres"] = p
	}
	return out
}

func sampleTransfer(id string, height, confirmations uint64) models.Transfer {
	return models.Transfer{
		ID:            id,
		Network:       models.EthSepolia,
		From:          "0xAAAA000000000000000000000000000000000001",
		To:            "0xbbbb000000000000000000000000000000000002",
		Amount:        decimal.RequireFromString("1.5"),
		Height:        height,
		Confirmations: confirmations,
	}
}

func TestStore_AddressBook(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.EnsureUser(ctx, "u1"))
			require.NoError(t, store.EnsureUser(ctx, "u1"))

			rec := models.AddressRecord{Address: "nano_abc", UserID: "u1", Index: 0, Network: models.NanoMainnet}
			require.NoError(t, store.AddAddress(ctx, rec))
			require.NoError(t, store.AddAddress(ctx, models.AddressRecord{
				Address: "nano_def", UserID: "u1", Index: 1, Network: models.NanoMainnet,
			}))

			err := store.AddAddress(ctx, rec)
			require.ErrorIs(t, err, models.ErrConflict)

			err = store.AddAddress(ctx, models.AddressRecord{
				Address: "nano_xyz", UserID: "u1", Index: 1, Network: models.NanoMainnet,
			})
			require.ErrorIs(t, err, models.ErrConflict)

			list, err := store.ListAddresses(ctx, "u1", models.NanoMainnet)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, uint32(0), list[0].Index)
			assert.Equal(t, "nano_def", list[1].Address)

			owners, err := store.OwnersOf(ctx, models.NanoMainnet, "nano_def", "nano_unknown")
			require.NoError(t, err)
			require.Len(t, owners, 1)
			assert.Equal(t, "u1", owners[0].UserID)

			owners, err = store.OwnersOf(ctx, models.EthMainnet, "nano_def")
			require.NoError(t, err)
			assert.Empty(t, owners)

			all, err := store.AddressesByNetwork(ctx, models.NanoMainnet)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"nano_abc", "nano_def"}, all)
		})
	}
}

func TestStore_EVMAddressesCaseInsensitive(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.EnsureUser(ctx, "u1"))
			require.NoError(t, store.AddAddress(ctx, models.AddressRecord{
				Address: "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", UserID: "u1", Network: models.EthMainnet,
			}))

			owners, err := store.OwnersOf(ctx, models.EthMainnet, "0x9858effd232b4033e47d90003d41ec34ecaeda94")
			require.NoError(t, err)
			assert.Len(t, owners, 1)
		})
	}
}

func TestStore_SameAddressOnTwoNetworks(t *testing.T) {
	const address = "0x9858effd232b4033e47d90003d41ec34ecaeda94"
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.EnsureUser(ctx, "u1"))
			for _, network := range []models.Network{models.EthSepolia, models.PolygonAmoy} {
				require.NoError(t, store.AddAddress(ctx, models.AddressRecord{
					Address: address, UserID: "u1", Network: network,
				}))
			}

			err := store.AddAddress(ctx, models.AddressRecord{Address: address, UserID: "u1", Index: 1, Network: models.PolygonAmoy})
			require.ErrorIs(t, err, models.ErrConflict)

			for _, network := range []models.Network{models.EthSepolia, models.PolygonAmoy} {
				owners, err := store.OwnersOf(ctx, network, address)
				require.NoError(t, err)
				require.Len(t, owners, 1)
				assert.Equal(t, network, owners[0].Network)

				all, err := store.AddressesByNetwork(ctx, network)
				require.NoError(t, err)
				assert.Equal(t, []string{address}, all)
			}
		})
	}
}

func TestStore_LegacyNanoPrefix(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.EnsureUser(ctx, "u1"))
			require.NoError(t, store.AddAddress(ctx, models.AddressRecord{
				Address: "xrb_1abc", UserID: "u1", Network: models.NanoMainnet,
			}))

			owners, err := store.OwnersOf(ctx, models.NanoMainnet, "nano_1abc")
			require.NoError(t, err)
			require.Len(t, owners, 1)
			assert.Equal(t, "nano_1abc", owners[0].Address)

			_, err = store.UpsertTransfer(ctx, models.Transfer{
				ID: "h1", Network: models.NanoMainnet, From: "xrb_1abc", To: "nano_1def",
				Amount: decimal.RequireFromString("1"), Confirmations: 1,
			})
			require.NoError(t, err)
			history, err := store.TransfersByAddress(ctx, models.NanoMainnet, "nano_1abc")
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.Equal(t, "nano_1abc", history[0].From)
		})
	}
}

func TestStore_UpsertTransferMerge(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := store.UpsertTransfer(ctx, sampleTransfer("0x01", 100, 0))
			require.NoError(t, err)
			assert.Equal(t, uint64(0), first.Confirmations)

			changed := sampleTransfer("0x01", 100, 3)
			changed.Amount = decimal.RequireFromString("99")
			changed.To = "0xcccc000000000000000000000000000000000003"
			second, err := store.UpsertTransfer(ctx, changed)
			require.NoError(t, err)

			assert.Equal(t, uint64(3), second.Confirmations)
			assert.True(t, second.Amount.Equal(decimal.RequireFromString("1.5")))
			assert.Equal(t, first.To, second.To)

			// Lower confirmations at the same height never win.
			third, err := store.UpsertTransfer(ctx, sampleTransfer("0x01", 100, 1))
			require.NoError(t, err)
			assert.Equal(t, uint64(3), third.Confirmations)

			// A new height resets confirmations to the new observation.
			reorged, err := store.UpsertTransfer(ctx, sampleTransfer("0x01", 102, 1))
			require.NoError(t, err)
			assert.Equal(t, uint64(102), reorged.Height)
			assert.Equal(t, uint64(1), reorged.Confirmations)

			window, err := store.TransfersInWindow(ctx, models.EthSepolia, 95, 101)
			require.NoError(t, err)
			assert.Empty(t, window)

			window, err = store.TransfersInWindow(ctx, models.EthSepolia, 102, 102)
			require.NoError(t, err)
			require.Len(t, window, 1)
			assert.Equal(t, "0x01", window[0].ID)
		})
	}
}

func TestStore_TransfersByAddress(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, h := range []uint64{30, 10, 20} {
				_, err := store.UpsertTransfer(ctx, sampleTransfer(fmt.Sprintf("0x%02d", i), h, 1))
				require.NoError(t, err)
			}

			history, err := store.TransfersByAddress(ctx, models.EthSepolia, "0xaaaa000000000000000000000000000000000001")
			require.NoError(t, err)
			require.Len(t, history, 3)
			assert.Equal(t, []uint64{10, 20, 30}, []uint64{history[0].Height, history[1].Height, history[2].Height})

			none, err := store.TransfersByAddress(ctx, models.EthMainnet, "0xaaaa000000000000000000000000000000000001")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestBadgerStore_ConcurrentUpserts(t *testing.T) {
	store, err := OpenBadger("")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := uint64(1); i <= 8; i++ {
		wg.Add(1)
		go func(c uint64) {
			defer wg.Done()
			_, err := store.UpsertTransfer(ctx, sampleTransfer("0xff", 50, c))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	window, err := store.TransfersInWindow(ctx, models.EthSepolia, 50, 50)
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, uint64(8), window[0].Confirmations)
}
