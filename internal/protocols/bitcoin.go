package protocols

import (
	"context"

	"polywallet/internal/models"
	"polywallet/internal/registry"

	"github.com/shopspring/decimal"
)

// BitcoinEngine implements UTXO. Addresses can be reserved; spending and
// chain reads are not implemented.
type BitcoinEngine struct {
	network   models.Network
	threshold int
	registry  *registry.Registry
}

func NewBitcoinEngine(cfg Config) *BitcoinEngine {
	info, _ := cfg.Network.Info()
	return &BitcoinEngine{network: cfg.Network, threshold: info.FinalityThreshold, registry: cfg.Registry}
}

func (e *BitcoinEngine) Kind() Kind                { return UTXO }
func (e *BitcoinEngine) Network() models.Network   { return e.network }
func (e *BitcoinEngine) FinalityThreshold() int    { return e.threshold }
func (e *BitcoinEngine) Smallest() decimal.Decimal { return e.network.Smallest() }

func (e *BitcoinEngine) NewAddress(ctx context.Context) (string, error) {
	account, err := e.registry.NewAddress(ctx)
	if err != nil {
		return "", err
	}
	return account.Address, nil
}

func (e *BitcoinEngine) Transfer(ctx context.Context, req TransferRequest) (*models.TransactionPreview, error) {
	return nil, models.ErrNotImplemented
}

func (e *BitcoinEngine) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	return decimal.Zero, models.ErrNotImplemented
}

func (e *BitcoinEngine) TransferHistory(ctx context.Context, address string) ([]models.Transfer, error) {
	return nil, models.ErrNotImplemented
}
