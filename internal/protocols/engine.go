// Package protocols builds, signs and reads transfers for each ledger model.
package protocols

import (
	"context"
	"fmt"
	"math/big"

	"polywallet/internal/models"
	"polywallet/internal/registry"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Kind is the ledger model of an engine.
type Kind int

const (
	// AccountChain is a per-account block-lattice (Nano).
	AccountChain Kind = iota
	// NonceChain is an account model ordered by nonce (EVM).
	NonceChain
	// UTXO is an unspent-output model (Bitcoin).
	UTXO
)

func (k Kind) String() string {
	switch k {
	case AccountChain:
		return "account-chain"
	case NonceChain:
		return "nonce-chain"
	case UTXO:
		return "utxo"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// KindOf returns the engine kind serving network.
func KindOf(network models.Network) (Kind, error) {
	switch network.Protocol() {
	case models.Nano:
		return AccountChain, nil
	case models.Ethereum:
		return NonceChain, nil
	case models.Bitcoin:
		return UTXO, nil
	default:
		return 0, fmt.Errorf("%w: %s", models.ErrUnknownNetwork, network)
	}
}

// TransferRequest moves Amount (major units) of the native asset, or of
// Contract when set, from a local address to To.
type TransferRequest struct {
	From     string
	To       string
	Amount   decimal.Decimal
	Contract *string
}

// Engine is implemented by every ledger model.
type Engine interface {
	Kind() Kind
	Network() models.Network
	NewAddress(ctx context.Context) (string, error)
	// Transfer builds and signs a transfer. Nothing is broadcast until the
	// returned preview is sent.
	Transfer(ctx context.Context, req TransferRequest) (*models.TransactionPreview, error)
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
	TransferHistory(ctx context.Context, address string) ([]models.Transfer, error)
	FinalityThreshold() int
	Smallest() decimal.Decimal
}

// HistorySource serves transfer history from the durable ledger.
type HistorySource interface {
	TransfersByAddress(ctx context.Context, network models.Network, address string) ([]models.Transfer, error)
}

// AddressWatcher is told about newly created addresses that need external
// activity notifications.
type AddressWatcher interface {
	WatchAddress(ctx context.Context, network models.Network, address string) error
}

// Config carries the dependencies of every engine kind. Only the fields of
// the selected kind are required.
type Config struct {
	Network  models.Network
	Registry *registry.Registry
	Logger   *zerolog.Logger

	// AccountChain
	Nano           NanoNode
	Representative string

	// NonceChain
	EVM     EVMNode
	History HistorySource
	Watcher AddressWatcher
}

// New returns the engine for cfg.Network.
func New(cfg Config) (Engine, error) {
	kind, err := KindOf(cfg.Network)
	if err != nil {
		return nil, err
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("%s: registry is required", cfg.Network)
	}
	if cfg.Logger == nil {
		nop := zerolog.Nop()
		cfg.Logger = &nop
	}

	switch kind {
	case AccountChain:
		if cfg.Nano == nil {
			return nil, fmt.Errorf("%s: nano node client is required", cfg.Network)
		}
		return NewNanoEngine(cfg)
	case NonceChain:
		if cfg.EVM == nil {
			return nil, fmt.Errorf("%s: evm client is required", cfg.Network)
		}
		return NewEVMEngine(cfg)
	case UTXO:
		return NewBitcoinEngine(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownNetwork, cfg.Network)
	}
}

// toMinor converts a major-unit amount to minor units, truncating digits
// below the smallest unit.
func toMinor(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, models.NewValidationError("amount must be positive, got %s", amount)
	}
	minor := amount.Shift(decimals).Truncate(0).BigInt()
	if minor.Sign() <= 0 {
		return nil, models.NewValidationError("amount %s is below the smallest unit", amount)
	}
	return minor, nil
}

func fromMinor(minor *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(minor, -decimals)
}

func rejectContract(req TransferRequest) error {
	if req.Contract != nil {
		return models.NewValidationError("token transfers are not supported (contract %s)", *req.Contract)
	}
	return nil
}
