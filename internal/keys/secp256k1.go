package keys

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
)

// EthereumKey signs 32-byte digests in the [R || S || V] form expected by
// go-ethereum's Transaction.WithSignature.
type EthereumKey struct {
	priv *ecdsa.PrivateKey
}

func NewEthereumKey(priv []byte) (*EthereumKey, error) {
	key, err := crypto.ToECDSA(priv)
	if err != nil {
		return nil, fmt.Errorf("invalid secp256k1 key: %w", err)
	}
	return &EthereumKey{priv: key}, nil
}

func (k *EthereumKey) PublicKey() []byte {
	return crypto.FromECDSAPub(&k.priv.PublicKey)
}

func (k *EthereumKey) Sign(digest []byte) ([]byte, error) {
	return crypto.Sign(digest, k.priv)
}

// Address returns the EIP-55 checksummed address.
func (k *EthereumKey) Address() string {
	return crypto.PubkeyToAddress(k.priv.PublicKey).Hex()
}

// BitcoinKey holds a BIP-84 key. Signing produces DER encoded signatures.
type BitcoinKey struct {
	priv *btcec.PrivateKey
}

func NewBitcoinKey(priv []byte) *BitcoinKey {
	key, _ := btcec.PrivKeyFromBytes(priv)
	return &BitcoinKey{priv: key}
}

func (k *BitcoinKey) PublicKey() []byte {
	return k.priv.PubKey().SerializeCompressed()
}

func (k *BitcoinKey) Sign(digest []byte) ([]byte, error) {
	return btcecdsa.Sign(k.priv, digest).Serialize(), nil
}

// WitnessAddress returns the native segwit (P2WPKH) address of the key.
func (k *BitcoinKey) WitnessAddress(testnet bool) (string, error) {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(k.PublicKey()), BitcoinParams(testnet))
	if err != nil {
		return "", fmt.Errorf("encode witness address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// BitcoinParams returns the chain parameters used for address encoding.
func BitcoinParams(testnet bool) *chaincfg.Params {
	if testnet {
		return &chaincfg.TestNet3Params
	}
	return &chaincfg.MainNetParams
}
