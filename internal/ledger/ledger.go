// Package ledger persists settlement observations and notifies their owners.
package ledger

import (
	"context"
	"fmt"

	"polywallet/internal/interfaces"
	"polywallet/internal/models"

	"github.com/rs/zerolog"
)

var _ interfaces.Recorder = (*Ledger)(nil)

// Ledger is the single writer path for transfers: upsert first, then publish
// the stored row.
type Ledger struct {
	store     interfaces.TransferStore
	publisher interfaces.Publisher
	emitter   interfaces.EventEmitter
	logger    *zerolog.Logger
}

// New builds a Ledger. emitter may be nil.
func New(store interfaces.TransferStore, publisher interfaces.Publisher, emitter interfaces.EventEmitter, logger *zerolog.Logger) *Ledger {
	return &Ledger{store: store, publisher: publisher, emitter: emitter, logger: logger}
}

// Record upserts t and publishes the stored transfer to every owner. From,
// To and Amount of an already stored transfer are never overwritten.
func (l *Ledger) Record(ctx context.Context, t models.Transfer, owners []string) (models.Transfer, error) {
	stored, err := l.store.UpsertTransfer(ctx, t)
	if err != nil {
		return models.Transfer{}, fmt.Errorf("record transfer %s: %w", t.ID, err)
	}

	seen := make(map[string]bool, len(owners))
	for _, owner := range owners {
		if seen[owner] {
			continue
		}
		seen[owner] = true

		l.publisher.Publish(stored, owner)
		if l.emitter != nil {
			if err := l.emitter.EmitEvent(ctx, models.NewTransferEvent(stored, owner)); err != nil {
				l.logger.Error().Err(err).Str("hash", stored.ID).Msg("Error emitting transfer event")
			}
		}
	}

	l.logger.Debug().
		Str("network", stored.Network.String()).
		Str("hash", stored.ID).
		Uint64("height", stored.Height).
		Uint64("confirmations", stored.Confirmations).
		Int("owners", len(seen)).
		Msg("Recorded transfer")
	return stored, nil
}

// History returns the stored transfers touching address ordered by height.
func (l *Ledger) History(ctx context.Context, network models.Network, address string) ([]models.Transfer, error) {
	return l.store.TransfersByAddress(ctx, network, address)
}

// Window returns the stored transfers with from <= height <= to.
func (l *Ledger) Window(ctx context.Context, network models.Network, from, to uint64) ([]models.Transfer, error) {
	return l.store.TransfersInWindow(ctx, network, from, to)
}
