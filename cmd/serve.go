package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"polywallet/internal/api"
	"polywallet/internal/config"
	"polywallet/internal/database"
	"polywallet/internal/emitters"
	"polywallet/internal/events"
	"polywallet/internal/health"
	"polywallet/internal/interfaces"
	"polywallet/internal/ledger"
	"polywallet/internal/logger"
	"polywallet/internal/models"
	"polywallet/internal/rpc"
	"polywallet/internal/watchers"
	evmwatch "polywallet/internal/watchers/evm"
	nanowatch "polywallet/internal/watchers/nano"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var serve = cli.Command{
	Name:   "serve",
	Usage:  "run the settlement watchers and the HTTP api",
	Action: serveAction,
}

func serveAction(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel)
	log := logger.GetLogger()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := database.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	bus := events.NewBus(events.DefaultBuffer, logger.Component("bus"))

	var emitter interfaces.EventEmitter
	if cfg.Kafka.BrokerAddress != "" {
		k := emitters.NewKafkaEmitter(cfg.Kafka, logger.Component("kafka"))
		defer k.Close()
		emitter = k
	}

	l := ledger.New(store, bus, emitter, logger.Component("ledger"))
	tracker := health.NewTracker(0)

	var running []interfaces.SettlementWatcher
	if cfg.Nano.WebsocketURL != "" {
		base := watchers.NewBase(models.NanoMainnet, store, l, tracker, logger.Component("nano-watcher"))
		running = append(running, nanowatch.NewWatcher(base, cfg.Nano.WebsocketURL))
	}

	var bases []*watchers.Base
	for network, chain := range cfg.EnabledChains() {
		client, err := rpc.DialEVM(ctx, network, chain.RpcEndpoint, rpc.ClientOptions{
			Name:        network.String(),
			ApiKey:      chain.ApiKey,
			RateLimit:   chain.RateLimit,
			HTTPTimeout: cfg.HTTP.Timeout,
		}, logger.Component("evm-client"))
		if err != nil {
			return err
		}
		defer client.Close()

		base := watchers.NewBase(network, store, l, tracker, logger.Component("evm-watcher"))
		bases = append(bases, base)
		running = append(running, evmwatch.NewHeadWatcher(base, client, l))
	}

	router := api.NewRouter(evmwatch.NewWebhook(cfg.Alchemy.SigningKey, bases...), store, bus, tracker, logger.Component("api"))
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range running {
		w := w
		g.Go(func() error {
			log.Info().Str("network", w.Network().String()).Msg("Starting watcher")
			return w.Start(gctx)
		})
	}

	if registrar := newRegistrar(cfg); registrar != nil {
		g.Go(func() error {
			if _, err := registrar.RegisterAll(gctx, store, 0); err != nil {
				log.Error().Err(err).Msg("Failed to register stored addresses with webhooks")
			}
			return nil
		})
	}

	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	tracker.SetReady(true)
	err = g.Wait()
	log.Info().Msg("Shut down")
	return err
}
