package session

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"polywallet/internal/models"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// WalletHeader identifies the wallet on the stream endpoint.
const WalletHeader = "id"

// Client consumes the transfer stream of a remote wallet service. It
// reconnects with backoff and resumes from the last event it received.
type Client struct {
	URL        string
	WalletID   string
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Buffer     int

	dialer *websocket.Dialer
	logger *zerolog.Logger
}

func NewClient(streamURL, walletID string, logger *zerolog.Logger) *Client {
	return &Client{
		URL:        streamURL,
		WalletID:   walletID,
		MinBackoff: time.Second,
		MaxBackoff: 30 * time.Second,
		Buffer:     64,
		dialer:     websocket.DefaultDialer,
		logger:     logger,
	}
}

// Subscribe starts streaming in the background. The session ends when ctx is
// cancelled or the session is closed.
func (c *Client) Subscribe(ctx context.Context, lastEventID string) *Session {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan models.TransferEvent, c.Buffer)
	s := newSession(out, cancel, lastEventID)

	go func() {
		defer close(out)
		backoff := c.MinBackoff
		cursor := lastEventID
		for {
			connected, err := c.stream(ctx, &cursor, out)
			if ctx.Err() != nil {
				return
			}
			if connected {
				backoff = c.MinBackoff
			}
			c.logger.Warn().Err(err).Dur("retryIn", backoff).Msg("Transfer stream disconnected")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.MaxBackoff {
				backoff = c.MaxBackoff
			}
		}
	}()
	return s
}

// stream serves one connection. The bool reports whether the connection was
// established.
// cursor is advanced to every received event.
func (c *Client) stream(ctx context.Context, cursor *string, out chan<- models.TransferEvent) (bool, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return false, errors.Wrap(err, "parse stream url")
	}
	if *cursor != "" {
		q := u.Query()
		q.Set("lastEventId", *cursor)
		u.RawQuery = q.Encode()
	}

	header := http.Header{}
	header.Set(WalletHeader, c.WalletID)
	conn, _, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return false, errors.Wrap(err, "dial stream")
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var e models.TransferEvent
		if err := conn.ReadJSON(&e); err != nil {
			return true, errors.Wrap(err, "read stream")
		}
		*cursor = e.Cursor
		select {
		case out <- e:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}
