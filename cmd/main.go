package main

import (
	"os"

	"polywallet/internal/logger"

	"github.com/urfave/cli/v2"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			logger.GetLogger().Error().Interface("panic", r).Msg("Application panicked")
			os.Exit(1)
		}
	}()

	app := cli.NewApp()
	app.Name = "polywallet"
	app.Usage = "Non-custodial multi-chain wallet service"
	app.Commands = append(
		app.Commands,
		&serve,
		&registerAddresses,
		&walletCommand,
	)
	app.Action = serveAction

	if err := app.Run(os.Args); err != nil {
		logger.GetLogger().Fatal().Err(err).Msg("Command failed")
	}
}
