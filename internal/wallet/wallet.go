// Package wallet is the entry point for a wallet holder: one seed, one engine
// per enabled network and a stream of settled transfers.
package wallet

import (
	"context"
	"fmt"
	"sort"

	"polywallet/internal/events"
	"polywallet/internal/interfaces"
	"polywallet/internal/keys"
	"polywallet/internal/models"
	"polywallet/internal/protocols"
	"polywallet/internal/registry"
	"polywallet/internal/session"
	"polywallet/internal/validation"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Subscriber hands out per-user event subscriptions.
type Subscriber interface {
	Subscribe(userID string) *events.Subscription
}

// Deps are the shared services engines are built on. Nano is required when a
// Nano network is enabled and EVM must hold a client for every enabled EVM
// network.
type Deps struct {
	Book           interfaces.AddressStore
	Events         Subscriber
	Nano           protocols.NanoNode
	Representative string
	EVM            map[models.Network]protocols.EVMNode
	History        protocols.HistorySource
	Watcher        protocols.AddressWatcher
	Logger         *zerolog.Logger
}

// Wallet routes every call to the engine of the requested network.
type Wallet struct {
	id      string
	engines map[models.Network]protocols.Engine
	events  Subscriber
	logger  *zerolog.Logger
}

// New creates the wallet user if needed and starts loading the address
// registry of every network. It does not wait for the loads to finish.
func New(ctx context.Context, hd *keys.HDWallet, networks []models.Network, deps Deps) (*Wallet, error) {
	if deps.Logger == nil {
		nop := zerolog.Nop()
		deps.Logger = &nop
	}
	id := hd.ID()
	logger := deps.Logger.With().Str("wallet", id[:12]).Logger()

	if err := deps.Book.EnsureUser(ctx, id); err != nil {
		return nil, fmt.Errorf("ensure wallet user: %w", err)
	}

	engines := make(map[models.Network]protocols.Engine, len(networks))
	for _, network := range networks {
		if _, ok := network.Info(); !ok {
			return nil, fmt.Errorf("%w: %s", models.ErrUnknownNetwork, network)
		}
		cfg := protocols.Config{
			Network:        network,
			Registry:       registry.New(ctx, network, id, deps.Book, hd.Derive, &logger),
			Logger:         &logger,
			Nano:           deps.Nano,
			Representative: deps.Representative,
			EVM:            deps.EVM[network],
			History:        deps.History,
			Watcher:        deps.Watcher,
		}
		engine, err := protocols.New(cfg)
		if err != nil {
			return nil, err
		}
		engines[network] = engine
	}

	logger.Info().Int("networks", len(engines)).Msg("Wallet opened")
	return &Wallet{id: id, engines: engines, events: deps.Events, logger: &logger}, nil
}

func (w *Wallet) ID() string {
	return w.id
}

// Networks returns the enabled networks in name order.
func (w *Wallet) Networks() []models.Network {
	out := make([]models.Network, 0, len(w.engines))
	for n := range w.engines {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (w *Wallet) Engine(network models.Network) (protocols.Engine, error) {
	engine, ok := w.engines[network]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownNetwork, network)
	}
	return engine, nil
}

func (w *Wallet) NewAddress(ctx context.Context, network models.Network) (string, error) {
	engine, err := w.Engine(network)
	if err != nil {
		return "", err
	}
	return engine.NewAddress(ctx)
}

// Transfer builds and signs a transfer. The caller broadcasts it with
// preview.Send.
func (w *Wallet) Transfer(ctx context.Context, network models.Network, req protocols.TransferRequest) (*models.TransactionPreview, error) {
	engine, err := w.Engine(network)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateAmount(network, req.Amount); err != nil {
		return nil, err
	}
	if err := validation.ValidateAddress(network, req.To); err != nil {
		return nil, err
	}
	return engine.Transfer(ctx, req)
}

func (w *Wallet) Balance(ctx context.Context, network models.Network, address string) (decimal.Decimal, error) {
	engine, err := w.Engine(network)
	if err != nil {
		return decimal.Zero, err
	}
	return engine.Balance(ctx, address)
}

func (w *Wallet) TransferHistory(ctx context.Context, network models.Network, address string) ([]models.Transfer, error) {
	engine, err := w.Engine(network)
	if err != nil {
		return nil, err
	}
	return engine.TransferHistory(ctx, address)
}

// Transfers subscribes to settled transfers touching any address of this
// wallet. Events published before the call are not replayed; use
// TransferHistory to catch up.
func (w *Wallet) Transfers(lastEventID string) *session.Session {
	return session.New(w.events.Subscribe(w.id), lastEventID)
}
