package protocols

import (
	"context"
	"math/big"
	"testing"

	"polywallet/internal/database"
	"polywallet/internal/keys"
	"polywallet/internal/models"
	"polywallet/internal/registry"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func newRegistry(t *testing.T, network models.Network, passphrase string) *registry.Registry {
	t.Helper()
	w, err := keys.NewFromMnemonic(testMnemonic, passphrase)
	require.NoError(t, err)

	store, err := database.OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := zerolog.Nop()
	return registry.New(context.Background(), network, w.ID(), store, w.Derive, &logger)
}

// nanoRaw returns n whole nano in raw units.
func nanoRaw(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil))
}
