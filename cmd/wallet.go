package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"polywallet/internal/config"
	"polywallet/internal/database"
	"polywallet/internal/events"
	"polywallet/internal/keys"
	"polywallet/internal/logger"
	"polywallet/internal/models"
	"polywallet/internal/protocols"
	"polywallet/internal/rpc"
	"polywallet/internal/session"
	"polywallet/internal/wallet"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

var walletFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "mnemonic",
		Usage:   "BIP-39 mnemonic of the wallet",
		EnvVars: []string{"WALLET_MNEMONIC"},
	},
	&cli.StringFlag{
		Name:    "passphrase",
		Usage:   "optional BIP-39 passphrase",
		EnvVars: []string{"WALLET_PASSPHRASE"},
	},
	&cli.StringFlag{
		Name:  "network",
		Usage: "network id, e.g. nano-mainnet or eth-sepolia",
		Value: models.NanoMainnet.String(),
	},
}

var walletCommand = cli.Command{
	Name:  "wallet",
	Usage: "manage a wallet from its mnemonic",
	Subcommands: []*cli.Command{
		{
			Name:   "genseed",
			Usage:  "generate a new 24-word mnemonic",
			Action: genSeedAction,
		},
		{
			Name:   "address",
			Usage:  "create the next address on a network",
			Flags:  walletFlags,
			Action: newAddressAction,
		},
		{
			Name:  "balance",
			Usage: "show the balance of an address",
			Flags: append([]cli.Flag{
				&cli.StringFlag{Name: "address", Required: true},
			}, walletFlags...),
			Action: balanceAction,
		},
		{
			Name:  "history",
			Usage: "list the transfers of an address",
			Flags: append([]cli.Flag{
				&cli.StringFlag{Name: "address", Required: true},
			}, walletFlags...),
			Action: historyAction,
		},
		{
			Name:  "send",
			Usage: "build and sign a transfer, broadcast it with --broadcast",
			Flags: append([]cli.Flag{
				&cli.StringFlag{Name: "from", Required: true},
				&cli.StringFlag{Name: "to", Required: true},
				&cli.StringFlag{Name: "amount", Required: true, Usage: "amount in major units"},
				&cli.BoolFlag{Name: "broadcast", Usage: "send the signed transaction"},
			}, walletFlags...),
			Action: sendAction,
		},
		{
			Name:  "watch",
			Usage: "stream settled transfers from a running server",
			Flags: append([]cli.Flag{
				&cli.StringFlag{Name: "url", Value: "ws://localhost:3001/v1/transfers"},
				&cli.StringFlag{Name: "last-event-id"},
			}, walletFlags...),
			Action: watchAction,
		},
	},
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func genSeedAction(c *cli.Context) error {
	mnemonic, err := keys.GenerateMnemonic()
	if err != nil {
		return err
	}
	fmt.Println(mnemonic)
	return nil
}

func hdWallet(c *cli.Context) (*keys.HDWallet, error) {
	mnemonic := c.String("mnemonic")
	if mnemonic == "" {
		return nil, fmt.Errorf("a mnemonic is required, set --mnemonic or WALLET_MNEMONIC")
	}
	return keys.NewFromMnemonic(mnemonic, c.String("passphrase"))
}

// openWallet builds a wallet serving only the --network network. The
// returned cleanup releases the store and chain clients.
func openWallet(c *cli.Context) (*wallet.Wallet, models.Network, func(), error) {
	network, ok := models.ParseNetwork(c.String("network"))
	if !ok {
		return nil, "", nil, fmt.Errorf("%w: %s", models.ErrUnknownNetwork, c.String("network"))
	}
	hd, err := hdWallet(c)
	if err != nil {
		return nil, "", nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, "", nil, err
	}
	logger.Init(cfg.LogLevel)

	store, err := database.Open(cfg.Store)
	if err != nil {
		return nil, "", nil, err
	}
	cleanups := []func(){func() { store.Close() }}
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	deps := wallet.Deps{
		Book:           store,
		Events:         events.NewBus(events.DefaultBuffer, logger.Component("bus")),
		Representative: cfg.Nano.Representative,
		EVM:            make(map[models.Network]protocols.EVMNode),
		History:        store,
		Logger:         logger.Component("wallet"),
	}
	if registrar := newRegistrar(cfg); registrar != nil {
		deps.Watcher = registrar
	}

	switch network.Protocol() {
	case models.Nano:
		client := rpc.NewClient(cfg.Nano.RpcEndpoint, rpc.ClientOptions{
			Name:        "nano-rpc",
			RateLimit:   cfg.Nano.RateLimit,
			MaxRetries:  cfg.MaxRetries,
			RetryDelay:  cfg.RetryDelay,
			HTTPTimeout: cfg.HTTP.Timeout,
		}, logger.Component("nano-rpc"))
		cleanups = append(cleanups, client.Close)
		deps.Nano = rpc.NewNanoClient(client, cfg.Nano.ApiKey)
	case models.Ethereum:
		chain := cfg.Chains[network]
		if chain.RpcEndpoint == "" {
			cleanup()
			return nil, "", nil, fmt.Errorf("no rpc endpoint configured for %s", network)
		}
		client, err := rpc.DialEVM(c.Context, network, chain.RpcEndpoint, rpc.ClientOptions{
			Name:        network.String(),
			ApiKey:      chain.ApiKey,
			RateLimit:   chain.RateLimit,
			HTTPTimeout: cfg.HTTP.Timeout,
		}, logger.Component("evm-client"))
		if err != nil {
			cleanup()
			return nil, "", nil, err
		}
		cleanups = append(cleanups, client.Close)
		deps.EVM[network] = client
	}

	w, err := wallet.New(c.Context, hd, []models.Network{network}, deps)
	if err != nil {
		cleanup()
		return nil, "", nil, err
	}
	return w, network, cleanup, nil
}

func newAddressAction(c *cli.Context) error {
	w, network, cleanup, err := openWallet(c)
	if err != nil {
		return err
	}
	defer cleanup()

	address, err := w.NewAddress(c.Context, network)
	if err != nil {
		return err
	}
	fmt.Println(address)
	return nil
}

func balanceAction(c *cli.Context) error {
	w, network, cleanup, err := openWallet(c)
	if err != nil {
		return err
	}
	defer cleanup()

	balance, err := w.Balance(c.Context, network, c.String("address"))
	if err != nil {
		return err
	}
	fmt.Println(balance.String())
	return nil
}

func historyAction(c *cli.Context) error {
	w, network, cleanup, err := openWallet(c)
	if err != nil {
		return err
	}
	defer cleanup()

	transfers, err := w.TransferHistory(c.Context, network, c.String("address"))
	if err != nil {
		return err
	}
	return printJSON(transfers)
}

func sendAction(c *cli.Context) error {
	amount, err := decimal.NewFromString(c.String("amount"))
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}

	w, network, cleanup, err := openWallet(c)
	if err != nil {
		return err
	}
	defer cleanup()

	preview, err := w.Transfer(c.Context, network, protocols.TransferRequest{
		From:   c.String("from"),
		To:     c.String("to"),
		Amount: amount,
	})
	if err != nil {
		return err
	}

	if c.Bool("broadcast") {
		if err := preview.Send(c.Context); err != nil {
			return err
		}
	}
	return printJSON(map[string]interface{}{
		"hash":      preview.Hash,
		"fee":       preview.Fee.String(),
		"broadcast": c.Bool("broadcast"),
	})
}

func watchAction(c *cli.Context) error {
	hd, err := hdWallet(c)
	if err != nil {
		return err
	}
	logger.Init("info")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	client := session.NewClient(c.String("url"), hd.ID(), logger.Component("stream"))
	s := client.Subscribe(ctx, c.String("last-event-id"))
	for e, err := range s.All(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
		if err := printJSON(e); err != nil {
			return err
		}
	}
	return nil
}

