package interfaces

import (
	"context"

	"polywallet/internal/models"
)

// SettlementWatcher observes one network and records confirmed transfers.
type SettlementWatcher interface {
	// Start blocks until ctx is cancelled or the watcher fails permanently.
	Start(ctx context.Context) error

	Network() models.Network
}

// Recorder persists a transfer and notifies its owners.
type Recorder interface {
	Record(ctx context.Context, t models.Transfer, owners []string) (models.Transfer, error)
}
