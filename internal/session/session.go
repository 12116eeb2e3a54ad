// Package session exposes transfer events of one wallet as a cancellable,
// resumable sequence.
package session

import (
	"context"
	"errors"
	"iter"
	"sync"

	"polywallet/internal/events"
	"polywallet/internal/models"
)

// ErrClosed is returned by Next once the session is closed or its source
// ended.
var ErrClosed = errors.New("session closed")

// Session reads transfer events until Close. LastEventID is the cursor of the
// last event handed out and is what a reconnecting client resends.
type Session struct {
	events <-chan models.TransferEvent
	stop   func()
	done   chan struct{}
	once   sync.Once

	mu          sync.Mutex
	lastEventID string
}

// New wraps a bus subscription. Close unsubscribes it.
func New(sub *events.Subscription, lastEventID string) *Session {
	return newSession(sub.C, sub.Unsubscribe, lastEventID)
}

func newSession(ch <-chan models.TransferEvent, stop func(), lastEventID string) *Session {
	return &Session{
		events:      ch,
		stop:        stop,
		done:        make(chan struct{}),
		lastEventID: lastEventID,
	}
}

// Next blocks until an event arrives, ctx is done or the session is closed.
func (s *Session) Next(ctx context.Context) (models.TransferEvent, error) {
	select {
	case <-ctx.Done():
		return models.TransferEvent{}, ctx.Err()
	case <-s.done:
		return models.TransferEvent{}, ErrClosed
	case e, ok := <-s.events:
		if !ok {
			return models.TransferEvent{}, ErrClosed
		}
		s.mu.Lock()
		s.lastEventID = e.Cursor
		s.mu.Unlock()
		return e, nil
	}
}

// All yields events until ctx is done or the session closes. The final
// error, if any, is yielded once. Breaking out of the loop closes the
// session.
func (s *Session) All(ctx context.Context) iter.Seq2[models.TransferEvent, error] {
	return func(yield func(models.TransferEvent, error) bool) {
		defer s.Close()
		for {
			e, err := s.Next(ctx)
			if err != nil {
				if !errors.Is(err, ErrClosed) {
					yield(models.TransferEvent{}, err)
				}
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (s *Session) LastEventID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEventID
}

// Close is idempotent and unblocks pending Next calls.
func (s *Session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.stop()
	})
	return nil
}
