// Package ledger is the durable record of the open position for a trading pair.
// Every mutation reads the whole document, changes a copy in memory and writes the
// whole document back; success is reported only after the write returns.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"spot-accumulator/pkg/money"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")
	ErrInvalidPrice    = errors.New("ledger: price must be positive")
	ErrInvalidFee      = errors.New("ledger: fee must not be negative")
	ErrNoOpenPosition  = errors.New("ledger: no open position")
	ErrStorage         = errors.New("ledger: storage failure")
)

// Store persists raw ledger documents. LoadDocument returns nil, nil for an
// unknown key. SaveDocument must replace the stored document atomically.
type Store interface {
	LoadDocument(ctx context.Context, key string) ([]byte, error)
	SaveDocument(ctx context.Context, key string, doc []byte) error
}

// Ledger owns the position and closed-trade history of one pair.
type Ledger struct {
	mu    sync.Mutex
	key   string
	store Store
	now   func() time.Time
}

func New(store Store, key string) *Ledger {
	return &Ledger{
		key:   key,
		store: store,
		now:   time.Now,
	}
}

// Key returns the pair key this ledger is stored under.
func (l *Ledger) Key() string { return l.key }

// Position returns the stored position.
func (l *Ledger) Position(ctx context.Context) (Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load(ctx)
	if err != nil {
		return Position{}, err
	}
	return doc.position(), nil
}

// ClosedTrades returns the closed-trade history, oldest first.
func (l *Ledger) ClosedTrades(ctx context.Context) ([]ClosedTrade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ClosedTrade, len(doc.ClosedTrades))
	copy(out, doc.ClosedTrades)
	return out, nil
}

// AccumulateBuy adds a confirmed buy fill to the position.
func (l *Ledger) AccumulateBuy(ctx context.Context, qty, price, fee decimal.Decimal) (Position, error) {
	if !money.Positive(qty) {
		return Position{}, fmt.Errorf("%w: %s", ErrInvalidQuantity, qty)
	}
	if !money.Positive(price) {
		return Position{}, fmt.Errorf("%w: %s", ErrInvalidPrice, price)
	}
	if fee.Sign() < 0 {
		return Position{}, fmt.Errorf("%w: %s", ErrInvalidFee, fee)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load(ctx)
	if err != nil {
		return Position{}, err
	}

	op := doc.OperationData
	op.TotalSpent = money.Add(op.TotalSpent, money.Mul(qty, price))
	op.Amount = money.Add(op.Amount, qty)
	op.Fee = money.Add(op.Fee, fee)
	op.AveragePrice = averagePrice(op.TotalSpent, op.Amount)
	doc.OperationData = op

	if err := l.save(ctx, doc); err != nil {
		return Position{}, err
	}
	log.Printf("[LEDGER] %s buy recorded: qty=%s price=%s avg=%s total=%s",
		l.key, qty, price, op.AveragePrice, op.TotalSpent)
	return doc.position(), nil
}

// ClosePosition records a closed trade at exitPrice and empties the position.
func (l *Ledger) ClosePosition(ctx context.Context, exitPrice decimal.Decimal) (ClosedTrade, error) {
	if !money.Positive(exitPrice) {
		return ClosedTrade{}, fmt.Errorf("%w: %s", ErrInvalidPrice, exitPrice)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load(ctx)
	if err != nil {
		return ClosedTrade{}, err
	}
	if doc.OperationData.Amount.Sign() <= 0 {
		return ClosedTrade{}, ErrNoOpenPosition
	}

	// The sell response carries no fee; the exit is assumed to cost what the entries did.
	trade := ClosedTrade{
		ID:        ulid.Make().String(),
		Quantity:  doc.OperationData.Amount,
		ExitPrice: exitPrice,
		TotalFee:  money.Mul(doc.OperationData.Fee, decimal.NewFromInt(2)),
		ClosedAt:  l.now().UTC(),
	}

	next := Document{
		OperationData: OperationData{},
		ClosedTrades:  append(append([]ClosedTrade{}, doc.ClosedTrades...), trade),
	}
	if err := l.save(ctx, next); err != nil {
		return ClosedTrade{}, err
	}
	log.Printf("[LEDGER] %s position closed: qty=%s exit=%s fee=%s",
		l.key, trade.Quantity, trade.ExitPrice, trade.TotalFee)
	return trade, nil
}

// Reset empties the position without recording a closed trade.
func (l *Ledger) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load(ctx)
	if err != nil {
		return err
	}
	doc.OperationData = OperationData{}
	if err := l.save(ctx, doc); err != nil {
		return err
	}
	log.Printf("[LEDGER] %s reset", l.key)
	return nil
}

func (l *Ledger) load(ctx context.Context) (Document, error) {
	raw, err := l.store.LoadDocument(ctx, l.key)
	if err != nil {
		return Document{}, fmt.Errorf("%w: load %s: %v", ErrStorage, l.key, err)
	}
	if len(raw) == 0 {
		return emptyDocument(), nil
	}
	doc := emptyDocument()
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: decode %s: %v", ErrStorage, l.key, err)
	}
	if doc.ClosedTrades == nil {
		doc.ClosedTrades = []ClosedTrade{}
	}
	return doc, nil
}

func (l *Ledger) save(ctx context.Context, doc Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrStorage, l.key, err)
	}
	if err := l.store.SaveDocument(ctx, l.key, raw); err != nil {
		return fmt.Errorf("%w: save %s: %v", ErrStorage, l.key, err)
	}
	return nil
}
