package interfaces

import (
	"context"

	"polywallet/internal/models"
)

// AddressStore persists derived addresses and resolves their owners.
type AddressStore interface {
	// EnsureUser creates the user row if it does not exist yet.
	EnsureUser(ctx context.Context, userID string) error

	// ListAddresses returns the addresses of userID on network ordered by index.
	ListAddresses(ctx context.Context, userID string, network models.Network) ([]models.AddressRecord, error)

	// AddAddress stores record. A duplicate address or (user, network, index)
	// returns models.ErrConflict.
	AddAddress(ctx context.Context, record models.AddressRecord) error

	// OwnersOf returns the records matching any of addresses on network.
	OwnersOf(ctx context.Context, network models.Network, addresses ...string) ([]models.AddressRecord, error)

	// AddressesByNetwork returns every known address on network.
	AddressesByNetwork(ctx context.Context, network models.Network) ([]string, error)
}

// TransferStore is the durable settlement ledger.
type TransferStore interface {
	// UpsertTransfer inserts t or, when (network, id) exists, updates its height
	// and confirmations. It returns the row as stored.
	UpsertTransfer(ctx context.Context, t models.Transfer) (models.Transfer, error)

	// TransfersInWindow returns the transfers on network with from <= height <= to.
	TransfersInWindow(ctx context.Context, network models.Network, from, to uint64) ([]models.Transfer, error)

	// TransfersByAddress returns the transfers touching address ordered by height.
	TransfersByAddress(ctx context.Context, network models.Network, address string) ([]models.Transfer, error)
}

// Store is implemented by the Postgres and badger backends.
type Store interface {
	AddressStore
	TransferStore
	Close() error
}
