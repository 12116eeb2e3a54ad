// Package api serves the provider webhook, the live transfer stream and the
// health probes.
package api

import (
	"context"
	"net/http"
	"time"

	"polywallet/internal/events"
	"polywallet/internal/health"
	"polywallet/internal/watchers/evm"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// UserStore creates wallet users on first connection.
type UserStore interface {
	EnsureUser(ctx context.Context, userID string) error
}

// Subscriber hands out per-user event subscriptions.
type Subscriber interface {
	Subscribe(userID string) *events.Subscription
}

// Router wraps the Gin engine with the handlers.
type Router struct {
	engine   *gin.Engine
	webhook  *evm.Webhook
	users    UserStore
	events   Subscriber
	tracker  *health.Tracker
	logger   *zerolog.Logger
	upgrader websocket.Upgrader

	// PingInterval is the keep-alive period of stream connections.
	PingInterval time.Duration
}

// NewRouter builds the router. webhook may be nil when no EVM network is
// enabled.
func NewRouter(webhook *evm.Webhook, users UserStore, subscriber Subscriber, tracker *health.Tracker, logger *zerolog.Logger) *Router {
	gin.SetMode(gin.ReleaseMode)

	r := &Router{
		engine:  gin.New(),
		webhook: webhook,
		users:   users,
		events:  subscriber,
		tracker: tracker,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		PingInterval: 30 * time.Second,
	}

	r.setupMiddleware()
	r.setupRoutes()
	return r
}

func (r *Router) setupMiddleware() {
	r.engine.Use(Recovery(r.logger))
	r.engine.Use(Logger(r.logger))
}

func (r *Router) setupRoutes() {
	r.engine.GET("/health/live", gin.WrapF(r.tracker.LivenessHandler))
	r.engine.GET("/health/ready", gin.WrapF(r.tracker.ReadinessHandler))

	r.engine.POST("/webhook/alchemy", r.AlchemyWebhook)

	v1 := r.engine.Group("/v1")
	{
		v1.GET("/transfers", r.Transfers)
	}
}

// Handler returns the underlying Gin engine.
func (r *Router) Handler() http.Handler {
	return r.engine
}
