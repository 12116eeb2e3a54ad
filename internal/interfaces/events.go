package interfaces

import (
	"context"

	"polywallet/internal/models"
)

// EventEmitter forwards transfer events outside the process.
type EventEmitter interface {
	EmitEvent(ctx context.Context, event models.TransferEvent) error
	Close() error
}

// Publisher delivers a transfer to a user's live subscribers.
type Publisher interface {
	Publish(t models.Transfer, userID string)
}
