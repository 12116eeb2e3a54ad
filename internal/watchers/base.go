// Package watchers holds the parts shared by every settlement watcher.
package watchers

import (
	"context"
	"fmt"

	"polywallet/internal/health"
	"polywallet/internal/interfaces"
	"polywallet/internal/models"

	"github.com/rs/zerolog"
)

// Base contains common fields and methods for all settlement watchers.
type Base struct {
	network  models.Network
	book     interfaces.AddressStore
	recorder interfaces.Recorder
	Health   *health.Tracker
	Logger   *zerolog.Logger
}

// NewBase builds a Base. tracker may be nil.
func NewBase(network models.Network, book interfaces.AddressStore, recorder interfaces.Recorder, tracker *health.Tracker, logger *zerolog.Logger) *Base {
	l := logger.With().Str("network", network.String()).Logger()
	if tracker != nil {
		tracker.Register(network.String())
	}
	return &Base{
		network:  network,
		book:     book,
		recorder: recorder,
		Health:   tracker,
		Logger:   &l,
	}
}

func (b *Base) Network() models.Network {
	return b.network
}

// Owners returns the distinct users owning either side of t.
func (b *Base) Owners(ctx context.Context, t models.Transfer) ([]string, error) {
	records, err := b.book.OwnersOf(ctx, b.network, t.From, t.To)
	if err != nil {
		return nil, fmt.Errorf("resolve owners of %s: %w", t.ID, err)
	}

	seen := make(map[string]bool, len(records))
	owners := make([]string, 0, len(records))
	for _, r := range records {
		if !seen[r.UserID] {
			seen[r.UserID] = true
			owners = append(owners, r.UserID)
		}
	}
	return owners, nil
}

// Emit records t for its owners. A transfer between addresses nobody here
// owns is dropped and Emit reports false.
func (b *Base) Emit(ctx context.Context, t models.Transfer) (bool, error) {
	t.Network = b.network

	owners, err := b.Owners(ctx, t)
	if err != nil {
		return false, err
	}
	if len(owners) == 0 {
		b.Logger.Debug().Str("hash", t.ID).Msg("Ignoring transfer without local owners")
		return false, nil
	}

	if _, err := b.recorder.Record(ctx, t, owners); err != nil {
		return false, err
	}

	b.Logger.Info().
		Str("hash", t.ID).
		Str("from", t.From).
		Str("to", t.To).
		Str("amount", t.Amount.String()).
		Uint64("confirmations", t.Confirmations).
		Msg("Observed transfer")
	return true, nil
}

// Touch marks the watcher alive in the health tracker.
func (b *Base) Touch() {
	if b.Health != nil {
		b.Health.Touch(b.network.String())
	}
}

// Head reports a new chain head to the health tracker.
func (b *Base) Head(height uint64) {
	if b.Health != nil {
		b.Health.Update(b.network.String(), height)
	}
}
