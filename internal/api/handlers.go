package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"polywallet/internal/models"
	"polywallet/internal/session"
	"polywallet/internal/validation"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// SignatureHeader carries the hex HMAC of a webhook body.
const SignatureHeader = "X-Alchemy-Signature"

// AlchemyWebhook records address activity. Notifications that cannot be
// used are acknowledged so the provider does not retry them.
// POST /webhook/alchemy
func (r *Router) AlchemyWebhook(c *gin.Context) {
	if r.webhook == nil {
		c.Status(http.StatusOK)
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
		return
	}
	if !r.webhook.Verify(body, c.GetHeader(SignatureHeader)) {
		r.logger.Warn().Msg("Rejected webhook with bad signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	recorded, err := r.webhook.Handle(c.Request.Context(), body)
	switch {
	case errors.Is(err, models.ErrValidation):
		r.logger.Warn().Err(err).Msg("Ignoring malformed webhook")
	case err != nil:
		r.logger.Error().Err(err).Msg("Failed to record webhook activity")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record activity"})
		return
	default:
		r.logger.Debug().Int("recorded", recorded).Msg("Webhook handled")
	}
	c.Status(http.StatusOK)
}

// walletID reads the wallet id from the "id" header, falling back to the
// query string for clients that cannot set headers on websocket upgrades.
func walletID(c *gin.Context) string {
	if id := c.GetHeader(session.WalletHeader); id != "" {
		return id
	}
	return c.Query("id")
}

// Transfers streams the settled transfers of one wallet over a websocket.
// Events published while the client is disconnected are not replayed.
// GET /v1/transfers
func (r *Router) Transfers(c *gin.Context) {
	id := walletID(c)
	if err := validation.ValidateWalletID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := r.users.EnsureUser(c.Request.Context(), id); err != nil {
		r.logger.Error().Err(err).Msg("Failed to ensure wallet user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open stream"})
		return
	}

	conn, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := r.logger.With().Str("wallet", id).Logger()
	sess := session.New(r.events.Subscribe(id), c.Query("lastEventId"))
	defer sess.Close()
	log.Info().Str("lastEventId", sess.LastEventID()).Msg("Transfer stream opened")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	var writeMu sync.Mutex
	var wg sync.WaitGroup
	defer wg.Wait()

	// reader: only control frames are expected, a read error means the
	// client went away
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
				writeMu.Unlock()
				if err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for e, err := range sess.All(ctx) {
		if err != nil {
			break
		}
		writeMu.Lock()
		err := conn.WriteJSON(e)
		writeMu.Unlock()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to write transfer event")
			break
		}
	}

	cancel()
	// unblock the reader
	_ = conn.Close()
	log.Info().Str("lastEventId", sess.LastEventID()).Msg("Transfer stream closed")
}
