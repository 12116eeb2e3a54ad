package database

import (
	"fmt"

	"polywallet/internal/config"
	"polywallet/internal/interfaces"
)

// Open returns the store selected by cfg.Driver.
func Open(cfg config.StoreConfig) (interfaces.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return OpenPostgres(DSN(cfg.Database))
	case "badger":
		return OpenBadger(cfg.BadgerPath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
