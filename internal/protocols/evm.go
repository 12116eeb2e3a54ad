package protocols

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"polywallet/internal/models"
	"polywallet/internal/registry"
	"polywallet/internal/rpc"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// TransferGas is the gas limit of a plain value transfer.
const TransferGas = 21000

// EVMNode is the JSON-RPC surface used by the nonce-chain engine.
type EVMNode interface {
	FeeData(ctx context.Context) (maxFee, tip *big.Int, err error)
	TransactionCount(ctx context.Context, address string) (uint64, error)
	Balance(ctx context.Context, address string) (*big.Int, error)
	SendRawTransaction(ctx context.Context, raw []byte) (string, error)
}

var _ EVMNode = (*rpc.EVMClient)(nil)

// EVMEngine implements NonceChain with EIP-1559 transactions.
type EVMEngine struct {
	network   models.Network
	chainID   *big.Int
	decimals  int32
	threshold int
	registry  *registry.Registry
	node      EVMNode
	history   HistorySource
	watcher   AddressWatcher
	signer    types.Signer
	logger    *zerolog.Logger
}

func NewEVMEngine(cfg Config) (*EVMEngine, error) {
	info, _ := cfg.Network.Info()
	if info.ChainID == 0 {
		return nil, fmt.Errorf("%s: missing chain id", cfg.Network)
	}
	chainID := big.NewInt(info.ChainID)

	l := cfg.Logger.With().Str("network", cfg.Network.String()).Logger()
	return &EVMEngine{
		network:   cfg.Network,
		chainID:   chainID,
		decimals:  info.Decimals,
		threshold: info.FinalityThreshold,
		registry:  cfg.Registry,
		node:      cfg.EVM,
		history:   cfg.History,
		watcher:   cfg.Watcher,
		signer:    types.LatestSignerForChainID(chainID),
		logger:    &l,
	}, nil
}

func (e *EVMEngine) Kind() Kind                { return NonceChain }
func (e *EVMEngine) Network() models.Network   { return e.network }
func (e *EVMEngine) FinalityThreshold() int    { return e.threshold }
func (e *EVMEngine) Smallest() decimal.Decimal { return e.network.Smallest() }

// NewAddress creates the next address and asks the watcher to follow it. A
// watcher failure is logged and does not fail the call.
func (e *EVMEngine) NewAddress(ctx context.Context) (string, error) {
	account, err := e.registry.NewAddress(ctx)
	if err != nil {
		return "", err
	}
	if e.watcher != nil {
		if err := e.watcher.WatchAddress(ctx, e.network, account.Address); err != nil {
			e.logger.Error().Err(err).Str("address", account.Address).Msg("Failed to register address for activity notifications")
		}
	}
	return account.Address, nil
}

func (e *EVMEngine) Transfer(ctx context.Context, req TransferRequest) (*models.TransactionPreview, error) {
	if err := rejectContract(req); err != nil {
		return nil, err
	}
	account, err := e.registry.Lookup(ctx, req.From)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(req.To) {
		return nil, models.NewValidationError("invalid recipient %s", req.To)
	}
	to := common.HexToAddress(req.To)
	value, err := toMinor(req.Amount, e.decimals)
	if err != nil {
		return nil, err
	}

	maxFee, tip, err := e.node.FeeData(ctx)
	if err != nil {
		return nil, err
	}
	if maxFee == nil || tip == nil {
		return nil, fmt.Errorf("%s: fee data incomplete", e.network)
	}

	nonce, err := e.node.TransactionCount(ctx, account.Address)
	if err != nil {
		return nil, err
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: maxFee,
		Gas:       TransferGas,
		To:        &to,
		Value:     value,
	})

	sig, err := account.Key.Sign(e.signer.Hash(tx).Bytes())
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	signed, err := tx.WithSignature(e.signer, sig)
	if err != nil {
		return nil, models.NewValidationError("attach signature: %v", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}

	hash := signed.Hash().Hex()
	fee := fromMinor(new(big.Int).Mul(big.NewInt(TransferGas), maxFee), e.decimals)

	e.logger.Info().
		Str("hash", hash).
		Str("from", account.Address).
		Str("to", to.Hex()).
		Uint64("nonce", nonce).
		Str("fee", fee.String()).
		Msg("Signed transaction")

	return models.NewTransactionPreview(hash, fee, func(ctx context.Context) error {
		got, err := e.node.SendRawTransaction(ctx, raw)
		if err != nil {
			e.logger.Error().Err(err).Str("hash", hash).Msg("Broadcast failed")
			return err
		}
		if got != "" && !strings.EqualFold(got, hash) {
			e.logger.Warn().Str("hash", hash).Str("reported", got).Msg("Node reported a different transaction hash")
		}
		return nil
	}), nil
}

func (e *EVMEngine) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	if !common.IsHexAddress(address) {
		return decimal.Zero, models.NewValidationError("invalid address %s", address)
	}
	wei, err := e.node.Balance(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	return fromMinor(wei, e.decimals), nil
}

// TransferHistory is served from the durable ledger.
func (e *EVMEngine) TransferHistory(ctx context.Context, address string) ([]models.Transfer, error) {
	if e.history == nil {
		return nil, nil
	}
	return e.history.TransfersByAddress(ctx, e.network, address)
}
