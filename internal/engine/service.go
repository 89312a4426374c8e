// Package engine runs the per-pair accumulation loop and exposes it to the
// API/Control layer through Service.
package engine

import (
	"context"

	"spot-accumulator/internal/ledger"
	"spot-accumulator/pkg/config"
	"spot-accumulator/pkg/db"
)

// Service defines the operator commands for all configured pairs.
// The API layer should only interact with the engine through this interface.
type Service interface {
	ListPairs(ctx context.Context) []PairInfo
	Status(ctx context.Context, pair string) (Status, error)

	Start(ctx context.Context, pair string) error
	Stop(ctx context.Context, pair string) error
	UpdateConfig(ctx context.Context, pair string, patch config.Patch) (config.TradeConfig, error)
	CleanLedger(ctx context.Context, pair string) error

	Trades(ctx context.Context, pair string) ([]ledger.ClosedTrade, error)
	Orders(ctx context.Context, pair string, limit int) ([]db.Order, error)
}

// OrderHistory reads the order audit trail.
type OrderHistory interface {
	Orders(ctx context.Context, pair string, limit int) ([]db.Order, error)
}
