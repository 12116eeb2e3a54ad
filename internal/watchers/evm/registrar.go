package evm

import (
	"context"
	"fmt"

	"polywallet/internal/interfaces"
	"polywallet/internal/models"
	"polywallet/internal/protocols"
	"polywallet/internal/rpc"

	"github.com/rs/zerolog"
)

var (
	_ protocols.AddressWatcher = (*Registrar)(nil)
	_ AddressNotifier          = (*rpc.NotifyClient)(nil)
)

// AddressNotifier is implemented by rpc.NotifyClient.
type AddressNotifier interface {
	AddAddresses(ctx context.Context, webhookID string, addresses ...string) error
}

// Registrar adds addresses to the provider webhook of their network.
// Networks without a webhook id are skipped.
type Registrar struct {
	notifier   AddressNotifier
	webhookIDs map[models.Network]string
	logger     *zerolog.Logger
}

func NewRegistrar(notifier AddressNotifier, webhookIDs map[models.Network]string, logger *zerolog.Logger) *Registrar {
	return &Registrar{notifier: notifier, webhookIDs: webhookIDs, logger: logger}
}

func (r *Registrar) WatchAddress(ctx context.Context, network models.Network, address string) error {
	id, ok := r.webhookIDs[network]
	if !ok {
		r.logger.Debug().Str("network", network.String()).Msg("No webhook configured, not registering address")
		return nil
	}
	if err := r.notifier.AddAddresses(ctx, id, models.NormalizeAddress(network, address)); err != nil {
		return err
	}
	r.logger.Info().Str("network", network.String()).Str("address", address).Msg("Webhook now watching address")
	return nil
}

// RegisterAll adds every stored address of every configured network, in
// batches of batchSize. It returns the number of addresses sent.
func (r *Registrar) RegisterAll(ctx context.Context, book interfaces.AddressStore, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	total := 0
	for network, id := range r.webhookIDs {
		addresses, err := book.AddressesByNetwork(ctx, network)
		if err != nil {
			return total, fmt.Errorf("list %s addresses: %w", network, err)
		}
		for start := 0; start < len(addresses); start += batchSize {
			end := start + batchSize
			if end > len(addresses) {
				end = len(addresses)
			}
			if err := r.notifier.AddAddresses(ctx, id, addresses[start:end]...); err != nil {
				return total, err
			}
			total += end - start
		}
		r.logger.Info().Str("network", network.String()).Int("addresses", len(addresses)).Msg("Registered addresses with webhook")
	}
	return total, nil
}
