package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrPairKeyRequired = errors.New("pair_key is required")
	ErrNotFound        = errors.New("record not found")
)

// LoadDocument returns the stored ledger document for a pair, or nil when the
// pair has never been written.
func (d *Database) LoadDocument(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrPairKeyRequired
	}
	var doc string
	err := d.DB.QueryRowContext(ctx, `SELECT document FROM ledgers WHERE pair_key = ?`, key).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query ledger %s: %w", key, err)
	}
	return []byte(doc), nil
}

// SaveDocument replaces the ledger document of a pair in a single statement.
func (d *Database) SaveDocument(ctx context.Context, key string, doc []byte) error {
	if key == "" {
		return ErrPairKeyRequired
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO ledgers (pair_key, document, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(pair_key) DO UPDATE SET
			document = excluded.document,
			updated_at = CURRENT_TIMESTAMP
	`, key, string(doc))
	if err != nil {
		return fmt.Errorf("upsert ledger %s: %w", key, err)
	}
	return nil
}

// ListPairKeys returns every pair that has a stored ledger.
func (d *Database) ListPairKeys(ctx context.Context) ([]string, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT pair_key FROM ledgers ORDER BY pair_key`)
	if err != nil {
		return nil, fmt.Errorf("query ledgers: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan ledger key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
