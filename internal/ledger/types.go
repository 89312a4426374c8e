package ledger

import (
	"time"

	"spot-accumulator/pkg/money"

	"github.com/shopspring/decimal"
)

// Position is the open position tracked for one pair.
type Position struct {
	QuantityHeld   decimal.Decimal `json:"quantityHeld"`
	TotalCost      decimal.Decimal `json:"totalCost"`
	AccumulatedFee decimal.Decimal `json:"accumulatedFee"`
	AveragePrice   decimal.Decimal `json:"averagePrice"`
}

// Empty reports whether nothing is held.
func (p Position) Empty() bool {
	return p.QuantityHeld.Sign() <= 0
}

// ClosedTrade is an immutable snapshot written when a position fully closes.
type ClosedTrade struct {
	ID        string          `json:"id"`
	Quantity  decimal.Decimal `json:"amount"`
	ExitPrice decimal.Decimal `json:"price"`
	TotalFee  decimal.Decimal `json:"fee"`
	ClosedAt  time.Time       `json:"closedAt"`
}

// OperationData is the persisted form of the open position.
type OperationData struct {
	AveragePrice decimal.Decimal `json:"averagePrice"`
	TotalSpent   decimal.Decimal `json:"totalSpent"`
	Amount       decimal.Decimal `json:"amount"`
	Fee          decimal.Decimal `json:"fee"`
}

// Document is the full record stored per pair. It is always read and written whole.
type Document struct {
	OperationData OperationData `json:"operationData"`
	ClosedTrades  []ClosedTrade `json:"closedTrades"`
}

func emptyDocument() Document {
	return Document{ClosedTrades: []ClosedTrade{}}
}

func (d Document) position() Position {
	op := d.OperationData
	avg := op.AveragePrice
	if op.Amount.Sign() <= 0 {
		avg = money.Zero
	}
	return Position{
		QuantityHeld:   op.Amount,
		TotalCost:      op.TotalSpent,
		AccumulatedFee: op.Fee,
		AveragePrice:   avg,
	}
}

// averagePrice derives the cost basis kept in the document.
func averagePrice(totalCost, qty decimal.Decimal) decimal.Decimal {
	if qty.Sign() <= 0 {
		return money.Zero
	}
	avg, err := money.Div(totalCost, qty)
	if err != nil {
		return money.Zero
	}
	return money.Round(avg, money.PricePlaces)
}
