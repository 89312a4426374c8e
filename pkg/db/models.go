package db

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Order is one submitted market order kept for the audit trail.
type Order struct {
	ID              string          `json:"id"` // client order id
	PairKey         string          `json:"pairKey"`
	Symbol          string          `json:"symbol"`
	Side            string          `json:"side"`
	Qty             decimal.Decimal `json:"qty"`
	Status          string          `json:"status"`
	ExchangeOrderID string          `json:"exchangeOrderId,omitempty"`
	FillPrice       decimal.Decimal `json:"fillPrice"`
	Fee             decimal.Decimal `json:"fee"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// CreateOrder inserts a new order row.
func (d *Database) CreateOrder(ctx context.Context, o Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (
			id, pair_key, symbol, side, qty, status, exchange_order_id, fill_price, fee, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.ID, o.PairKey, o.Symbol, o.Side, o.Qty.String(), o.Status, o.ExchangeOrderID,
		o.FillPrice.String(), o.Fee.String(), o.Error, o.CreatedAt, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateOrderResult stores the exchange outcome of an order.
func (d *Database) UpdateOrderResult(ctx context.Context, o Order) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, exchange_order_id = ?, fill_price = ?, fee = ?, error = ?, updated_at = ?
		WHERE id = ?
	`,
		o.Status, o.ExchangeOrderID, o.FillPrice.String(), o.Fee.String(), o.Error, time.Now().UTC(), o.ID,
	)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOrders returns the latest orders of a pair, newest first.
func (d *Database) ListOrders(ctx context.Context, pairKey string, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, pair_key, symbol, side, qty, status,
		       COALESCE(exchange_order_id, ''), COALESCE(fill_price, '0'), COALESCE(fee, '0'),
		       COALESCE(error, ''), created_at
		FROM orders
		WHERE pair_key = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, pairKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.PairKey, &o.Symbol, &o.Side, &o.Qty, &o.Status,
			&o.ExchangeOrderID, &o.FillPrice, &o.Fee, &o.Error, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
