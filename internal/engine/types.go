package engine

import (
	"time"

	"spot-accumulator/internal/ledger"
	"spot-accumulator/internal/policy"
	"spot-accumulator/pkg/config"
	exchange "spot-accumulator/pkg/exchanges/common"

	"github.com/shopspring/decimal"
)

// State is the transient engine state threaded through each Tick. It is
// rebuilt from defaults on restart; only the ledger survives.
type State struct {
	Running   bool            `json:"running"`
	TickCount uint64          `json:"tickCount"`
	LastPrice decimal.Decimal `json:"lastPrice"`
	// LastNotice suppresses repeating the same operator notice every tick.
	LastNotice string `json:"-"`
}

// Action is what a tick did.
type Action string

const (
	ActionSkip  Action = "skip"  // engine not running
	ActionAbort Action = "abort" // input unavailable, nothing decided
	ActionHold  Action = "hold"
	ActionBuy   Action = "buy"
	ActionSell  Action = "sell"
)

// Stages name where a tick was aborted.
const (
	StageBalance = "balance"
	StageLedger  = "ledger"
	StagePrice   = "price"
	StageSizing  = "sizing"
	StageOrder   = "order"
)

// Outcome describes the result of one tick.
type Outcome struct {
	Action Action
	Reason policy.Reason
	Stage  string
	Qty    decimal.Decimal
	Price  decimal.Decimal
	Fill   *exchange.Fill
	Err    error
	// Fatal is set when the ledger could not record a confirmed fill; the
	// engine stops.
	Fatal bool
}

// Filled reports whether the tick's order was confirmed.
func (o Outcome) Filled() bool {
	return o.Fill != nil && o.Fill.Filled()
}

// PairInfo lists a configured pair.
type PairInfo struct {
	Pair    string `json:"pair"`
	Market  string `json:"market"`
	Running bool   `json:"running"`
}

// Status is the operator view of one pair.
type Status struct {
	Pair         string             `json:"pair"`
	Market       string             `json:"market"`
	Running      bool               `json:"running"`
	TickCount    uint64             `json:"tickCount"`
	CurrentPrice decimal.Decimal    `json:"currentPrice"`
	Position     ledger.Position    `json:"position"`
	Triggers     policy.Triggers    `json:"triggers"`
	Config       config.TradeConfig `json:"config"`
	Time         time.Time          `json:"time"`
}
