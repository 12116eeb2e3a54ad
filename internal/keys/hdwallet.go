// Package keys derives every per-network keypair of a wallet from one BIP-39
// seed and exposes them only through signing handles.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"polywallet/internal/models"

	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// MnemonicEntropyBits is the entropy size for 24-word mnemonics.
const MnemonicEntropyBits = 256

// BIP-44 path components. Full path: m/purpose'/coin'/account'/change/index
const (
	PurposeBIP44 = bip32.FirstHardenedChild + 44
	PurposeBIP84 = bip32.FirstHardenedChild + 84

	CoinTypeBitcoin  = bip32.FirstHardenedChild + 0
	CoinTypeTestnet  = bip32.FirstHardenedChild + 1
	CoinTypeEthereum = bip32.FirstHardenedChild + 60
	CoinTypeNano     = bip32.FirstHardenedChild + 165

	ChangeExternal = 0
)

// GenerateMnemonic creates a new 24-word BIP-39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// HDWallet derives (network, index) accounts from a seed. Derivation is pure:
// the same seed, network and index always yield the same account.
type HDWallet struct {
	seed   []byte
	master *bip32.Key
}

// NewFromMnemonic validates mnemonic and derives the BIP-39 seed.
func NewFromMnemonic(mnemonic, passphrase string) (*HDWallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("derive seed: %w", err)
	}
	return NewFromSeed(seed)
}

// NewFromSeed builds a wallet from a raw seed.
func NewFromSeed(seed []byte) (*HDWallet, error) {
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDWallet{seed: seed, master: master}, nil
}

// ID identifies the wallet holder without revealing the seed.
func (w *HDWallet) ID() string {
	sum := sha256.Sum256(w.seed)
	return hex.EncodeToString(sum[:])
}

// Derive returns the account at index on network.
func (w *HDWallet) Derive(network models.Network, index uint32) (*models.Account, error) {
	info, ok := network.Info()
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownNetwork, network)
	}

	var (
		key     models.KeyHandle
		address string
		err     error
	)
	switch info.Protocol {
	case models.Nano:
		key, address, err = w.deriveNano(index)
	case models.Ethereum:
		key, address, err = w.deriveEthereum(index)
	case models.Bitcoin:
		key, address, err = w.deriveBitcoin(index, info.Testnet)
	default:
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownNetwork, network)
	}
	if err != nil {
		return nil, fmt.Errorf("derive %s/%d: %w", network, index, err)
	}

	return &models.Account{
		Network: network,
		Index:   index,
		Address: address,
		Key:     key,
	}, nil
}

// deriveNano follows SLIP-10 ed25519 along m/44'/165'/index'.
func (w *HDWallet) deriveNano(index uint32) (models.KeyHandle, string, error) {
	priv := slip10Derive(w.seed, PurposeBIP44, CoinTypeNano, bip32.FirstHardenedChild+index)
	key := NewNanoKey(priv)
	return key, NanoAddress(key.PublicKey()), nil
}

func (w *HDWallet) deriveEthereum(index uint32) (models.KeyHandle, string, error) {
	priv, err := w.derivePath(PurposeBIP44, CoinTypeEthereum, bip32.FirstHardenedChild, ChangeExternal, index)
	if err != nil {
		return nil, "", err
	}
	key, err := NewEthereumKey(priv)
	if err != nil {
		return nil, "", err
	}
	return key, key.Address(), nil
}

func (w *HDWallet) deriveBitcoin(index uint32, testnet bool) (models.KeyHandle, string, error) {
	coin := uint32(CoinTypeBitcoin)
	if testnet {
		coin = CoinTypeTestnet
	}
	priv, err := w.derivePath(PurposeBIP84, coin, bip32.FirstHardenedChild, ChangeExternal, index)
	if err != nil {
		return nil, "", err
	}
	key := NewBitcoinKey(priv)
	address, err := key.WitnessAddress(testnet)
	if err != nil {
		return nil, "", err
	}
	return key, address, nil
}

func (w *HDWallet) derivePath(indices ...uint32) ([]byte, error) {
	current := w.master
	for _, idx := range indices {
		child, err := current.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
		current = child
	}
	// bip32 Key.Key may carry a leading 0x00 for private keys.
	raw := current.Key
	if len(raw) == 33 && raw[0] == 0 {
		return raw[1:], nil
	}
	return raw, nil
}
