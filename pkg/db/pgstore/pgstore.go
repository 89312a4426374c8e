// Package pgstore keeps ledger documents and the order audit trail in
// PostgreSQL. It satisfies the same contracts as the sqlite database in pkg/db.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spot-accumulator/pkg/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledgers (
    pair_key   TEXT PRIMARY KEY,
    document   JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS orders (
    id                TEXT PRIMARY KEY,
    pair_key          TEXT NOT NULL,
    symbol            TEXT NOT NULL,
    side              TEXT NOT NULL,
    qty               TEXT NOT NULL,
    status            TEXT NOT NULL,
    exchange_order_id TEXT NOT NULL DEFAULT '',
    fill_price        TEXT NOT NULL DEFAULT '0',
    fee               TEXT NOT NULL DEFAULT '0',
    error             TEXT NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_orders_pair_created ON orders(pair_key, created_at);
`

// Store is a pgxpool-backed ledger and order store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to url and applies the schema.
func Open(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// LoadDocument returns the stored ledger document for a pair, or nil when the
// pair has never been written.
func (s *Store) LoadDocument(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, db.ErrPairKeyRequired
	}
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT document::text FROM ledgers WHERE pair_key = $1`, key).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query ledger %s: %w", key, err)
	}
	return doc, nil
}

// SaveDocument replaces the ledger document of a pair in a single statement.
func (s *Store) SaveDocument(ctx context.Context, key string, doc []byte) error {
	if key == "" {
		return db.ErrPairKeyRequired
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledgers (pair_key, document, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (pair_key) DO UPDATE SET
			document = EXCLUDED.document,
			updated_at = now()
	`, key, string(doc))
	if err != nil {
		return fmt.Errorf("upsert ledger %s: %w", key, err)
	}
	return nil
}

// ListPairKeys returns every pair that has a stored ledger.
func (s *Store) ListPairKeys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT pair_key FROM ledgers ORDER BY pair_key`)
	if err != nil {
		return nil, fmt.Errorf("query ledgers: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan ledger keys: %w", err)
	}
	return keys, nil
}

// CreateOrder inserts a new order row.
func (s *Store) CreateOrder(ctx context.Context, o db.Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orders (
			id, pair_key, symbol, side, qty, status, exchange_order_id, fill_price, fee, error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`,
		o.ID, o.PairKey, o.Symbol, o.Side, o.Qty.String(), o.Status, o.ExchangeOrderID,
		o.FillPrice.String(), o.Fee.String(), o.Error, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateOrderResult stores the exchange outcome of an order.
func (s *Store) UpdateOrderResult(ctx context.Context, o db.Order) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET status = $1, exchange_order_id = $2, fill_price = $3, fee = $4, error = $5, updated_at = now()
		WHERE id = $6
	`, o.Status, o.ExchangeOrderID, o.FillPrice.String(), o.Fee.String(), o.Error, o.ID)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// ListOrders returns the latest orders of a pair, newest first.
func (s *Store) ListOrders(ctx context.Context, pairKey string, limit int) ([]db.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, pair_key, symbol, side, qty, status, exchange_order_id, fill_price, fee, error, created_at
		FROM orders
		WHERE pair_key = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, pairKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []db.Order
	for rows.Next() {
		var (
			o               db.Order
			qty, price, fee string
		)
		if err := rows.Scan(&o.ID, &o.PairKey, &o.Symbol, &o.Side, &qty, &o.Status,
			&o.ExchangeOrderID, &price, &fee, &o.Error, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		if o.Qty, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("order %s qty: %w", o.ID, err)
		}
		o.FillPrice, _ = decimal.NewFromString(price)
		o.Fee, _ = decimal.NewFromString(fee)
		out = append(out, o)
	}
	return out, rows.Err()
}
