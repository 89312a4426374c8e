package order

import (
	"context"
	"time"

	"spot-accumulator/pkg/db"
	exchange "spot-accumulator/pkg/exchanges/common"

	"github.com/shopspring/decimal"
)

// Order is a market order intent for one pair.
type Order struct {
	ID     string // client order id, generated when empty
	Pair   string
	Symbol string
	Side   exchange.Side
	Qty    decimal.Decimal
}

// Store keeps the order audit trail.
type Store interface {
	CreateOrder(ctx context.Context, o db.Order) error
	UpdateOrderResult(ctx context.Context, o db.Order) error
	ListOrders(ctx context.Context, pairKey string, limit int) ([]db.Order, error)
}

// Status values kept in the audit trail besides the exchange statuses.
const (
	StatusPending = "PENDING"
	StatusFailed  = "FAILED"
)

func (o Order) record() db.Order {
	return db.Order{
		ID:        o.ID,
		PairKey:   o.Pair,
		Symbol:    o.Symbol,
		Side:      string(o.Side),
		Qty:       o.Qty,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}
