package common

import (
	"github.com/shopspring/decimal"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderStatus normalizes exchange status into a small set.
// Only StatusFilled confirms that an order executed.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// OrderRequest captures a market order intent sent to an exchange.
type OrderRequest struct {
	Symbol   string
	Side     Side
	Qty      decimal.Decimal
	ClientID string
}

// Fill is the exchange answer to a market order. FillPrice and Fee are zero
// when the venue did not report them.
type Fill struct {
	ExchangeOrderID string
	ClientID        string
	Status          OrderStatus
	Qty             decimal.Decimal
	FillPrice       decimal.Decimal
	Fee             decimal.Decimal
	FeeAsset        string
}

// Filled reports whether the order is confirmed executed.
func (f Fill) Filled() bool {
	return f.Status == StatusFilled
}
