// Package events fans transfers out to the live subscriptions of their owners.
package events

import (
	"sync"
	"sync/atomic"

	"polywallet/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultBuffer is the per-subscription queue size.
const DefaultBuffer = 64

// Subscription receives the events of one user. C is closed by Unsubscribe.
type Subscription struct {
	ID     string
	UserID string
	C      <-chan models.TransferEvent

	ch   chan models.TransferEvent
	bus  *Bus
	once sync.Once
}

// Unsubscribe removes the subscription and closes C. It is idempotent.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.remove(s)
	})
}

// Bus is an in-process per-user registry. Delivery is at-most-once and
// subscribers only see events published after they subscribed.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*Subscription
	buffer int
	logger *zerolog.Logger

	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewBus(buffer int, logger *zerolog.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		subs:   make(map[string]map[string]*Subscription),
		buffer: buffer,
		logger: logger,
	}
}

func (b *Bus) Subscribe(userID string) *Subscription {
	ch := make(chan models.TransferEvent, b.buffer)
	sub := &Subscription{
		ID:     uuid.NewString(),
		UserID: userID,
		C:      ch,
		ch:     ch,
		bus:    b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[string]*Subscription)
	}
	b.subs[userID][sub.ID] = sub

	b.logger.Debug().Str("user", userID).Str("subscription", sub.ID).Msg("Subscribed")
	return sub
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if userSubs, ok := b.subs[sub.UserID]; ok {
		delete(userSubs, sub.ID)
		if len(userSubs) == 0 {
			delete(b.subs, sub.UserID)
		}
	}
	close(sub.ch)
}

// Publish delivers t to every subscription of userID without blocking.
// Subscribers with a full queue miss the event.
func (b *Bus) Publish(t models.Transfer, userID string) {
	event := models.NewTransferEvent(t, userID)
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[userID] {
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
			b.logger.Warn().
				Str("user", userID).
				Str("subscription", sub.ID).
				Str("transfer", t.ID).
				Msg("Subscriber queue full, dropping event")
		}
	}
}

// Published counts Publish calls.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers returns the number of live subscriptions of userID.
func (b *Bus) Subscribers(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}
