// Package nano follows block confirmations pushed by a Nano node websocket.
package nano

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"time"

	"polywallet/internal/interfaces"
	"polywallet/internal/models"
	"polywallet/internal/watchers"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var _ interfaces.SettlementWatcher = (*Watcher)(nil)

const (
	defaultMinBackoff = time.Second
	defaultMaxBackoff = time.Minute
	pingInterval      = 30 * time.Second
	readTimeout       = 2 * pingInterval
)

// Watcher subscribes to the confirmation topic and records every confirmed
// send that touches a local address. It reconnects forever.
type Watcher struct {
	*watchers.Base
	url        string
	dialer     *websocket.Dialer
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func NewWatcher(base *watchers.Base, url string) *Watcher {
	return &Watcher{
		Base:       base,
		url:        url,
		dialer:     websocket.DefaultDialer,
		MinBackoff: defaultMinBackoff,
		MaxBackoff: defaultMaxBackoff,
	}
}

type subscribeRequest struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
	Ack    bool   `json:"ack"`
}

type confirmation struct {
	Topic   string `json:"topic"`
	Ack     string `json:"ack"`
	Message struct {
		Account string `json:"account"`
		Amount  string `json:"amount"`
		Hash    string `json:"hash"`
		Block   struct {
			Subtype       string `json:"subtype"`
			LinkAsAccount string `json:"link_as_account"`
		} `json:"block"`
	} `json:"message"`
}

// Start blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	backoff := w.MinBackoff
	for {
		connected, err := w.run(ctx)
		if ctx.Err() != nil {
			w.Logger.Info().Msg("Nano watcher shutting down")
			return nil
		}
		if connected {
			backoff = w.MinBackoff
		}

		w.Logger.Warn().Err(err).Dur("retryIn", backoff).Msg("Nano websocket disconnected")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > w.MaxBackoff {
			backoff = w.MaxBackoff
		}
	}
}

// run serves one connection. connected reports whether the subscription was
// established.
func (w *Watcher) run(ctx context.Context) (connected bool, err error) {
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return false, errors.Wrap(err, "dial")
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	defer func() {
		close(done)
		_ = conn.Close()
		wg.Wait()
	}()

	var writeMu sync.Mutex
	write := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	if err := write(subscribeRequest{Action: "subscribe", Topic: "confirmation", Ack: true}); err != nil {
		return false, errors.Wrap(err, "subscribe")
	}
	w.Logger.Info().Str("url", w.url).Msg("Subscribed to Nano confirmations")

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := write(map[string]string{"action": "ping"}); err != nil {
					return
				}
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, errors.Wrap(err, "read")
		}
		w.Touch()
		w.handle(ctx, data)
	}
}

func (w *Watcher) handle(ctx context.Context, data []byte) {
	var msg confirmation
	if err := json.Unmarshal(data, &msg); err != nil {
		w.Logger.Warn().Err(err).Msg("Ignoring malformed websocket message")
		return
	}
	if msg.Topic != "confirmation" || msg.Message.Block.Subtype != "send" {
		return
	}

	transfer, err := w.toTransfer(msg)
	if err != nil {
		w.Logger.Warn().Err(err).Str("hash", msg.Message.Hash).Msg("Ignoring confirmation")
		return
	}
	if _, err := w.Emit(ctx, transfer); err != nil {
		w.Logger.Error().Err(err).Str("hash", transfer.ID).Msg("Failed to record confirmation")
	}
}

func (w *Watcher) toTransfer(msg confirmation) (models.Transfer, error) {
	raw, ok := new(big.Int).SetString(msg.Message.Amount, 10)
	if !ok {
		return models.Transfer{}, errors.Errorf("invalid amount %q", msg.Message.Amount)
	}
	info, _ := w.Network().Info()
	return models.Transfer{
		ID:            msg.Message.Hash,
		Network:       w.Network(),
		From:          msg.Message.Account,
		To:            msg.Message.Block.LinkAsAccount,
		Amount:        decimal.NewFromBigInt(raw, -info.Decimals),
		Confirmations: 1,
	}, nil
}
