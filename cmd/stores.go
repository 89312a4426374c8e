package cmd

import (
	"context"
	"fmt"
	"log"

	"spot-accumulator/internal/ledger"
	"spot-accumulator/internal/order"
	"spot-accumulator/pkg/config"
	"spot-accumulator/pkg/db"
	"spot-accumulator/pkg/db/pgstore"
	"spot-accumulator/pkg/i18n"
)

// stores bundles the ledger and order stores of the configured driver.
type stores struct {
	driver  string
	desc    string
	ledgers ledger.Store
	orders  order.Store
	keys    func(ctx context.Context) ([]string, error)
	close   func()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.StoreDriver {
	case "postgres", "postgresql":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("STORE_DRIVER=postgres requires DATABASE_URL")
		}
		pg, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf(i18n.M().DBInitFailed, err)
		}
		return &stores{
			driver:  "postgres",
			desc:    "DATABASE_URL",
			ledgers: pg,
			orders:  pg,
			keys:    pg.ListPairKeys,
			close:   pg.Close,
		}, nil

	case "", "sqlite":
		database, err := db.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf(i18n.M().DBInitFailed, err)
		}
		if err := db.ApplyMigrations(database); err != nil {
			database.Close()
			return nil, fmt.Errorf(i18n.M().DBMigrationsFailed, err)
		}
		return &stores{
			driver:  "sqlite",
			desc:    cfg.DBPath,
			ledgers: database,
			orders:  database,
			keys:    database.ListPairKeys,
			close: func() {
				if err := database.Close(); err != nil {
					log.Printf("[DB] close error: %v", err)
				}
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q (want sqlite or postgres)", cfg.StoreDriver)
	}
}
