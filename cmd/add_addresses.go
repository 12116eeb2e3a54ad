package main

import (
	"fmt"

	"polywallet/internal/config"
	"polywallet/internal/database"
	"polywallet/internal/logger"
	"polywallet/internal/rpc"
	evmwatch "polywallet/internal/watchers/evm"

	"github.com/urfave/cli/v2"
)

// alchemyNotifyURL is the base of the Notify management api.
const alchemyNotifyURL = "https://dashboard.alchemy.com/api"

var registerAddresses = cli.Command{
	Name:  "register-addresses",
	Usage: "add every stored EVM address to its network's activity webhook",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "batch",
			Usage: "addresses per update request",
			Value: 500,
		},
	},
	Action: registerAddressesAction,
}

// newRegistrar returns nil when webhook management is not configured.
func newRegistrar(cfg *config.Config) *evmwatch.Registrar {
	if cfg.Alchemy.NotifyToken == "" || len(cfg.Alchemy.WebhookIDs) == 0 {
		return nil
	}
	client := rpc.NewClient(alchemyNotifyURL, rpc.ClientOptions{
		Name:        "alchemy-notify",
		ApiKey:      cfg.Alchemy.NotifyToken,
		AuthHeader:  "X-Alchemy-Token",
		MaxRetries:  cfg.MaxRetries,
		RetryDelay:  cfg.RetryDelay,
		HTTPTimeout: cfg.HTTP.Timeout,
	}, logger.Component("alchemy-notify"))
	return evmwatch.NewRegistrar(rpc.NewNotifyClient(client), cfg.Alchemy.WebhookIDs, logger.Component("registrar"))
}

func registerAddressesAction(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel)

	registrar := newRegistrar(cfg)
	if registrar == nil {
		return fmt.Errorf("ALCHEMY_NOTIFY_AUTH_TOKEN and at least one ALCHEMY_<NETWORK>_WEBHOOK_ID are required")
	}

	store, err := database.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	total, err := registrar.RegisterAll(c.Context, store, c.Int("batch"))
	if err != nil {
		return err
	}
	fmt.Printf("registered %d addresses\n", total)
	return nil
}
