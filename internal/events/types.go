package events

import (
	"time"

	"spot-accumulator/internal/ledger"

	"github.com/shopspring/decimal"
)

// Event enumerates the topics published by pair engines.
type Event string

const (
	EventTick            Event = "tick"
	EventOrderSubmitted  Event = "order.submitted"
	EventOrderFilled     Event = "order.filled"
	EventOrderRejected   Event = "order.rejected"
	EventPositionChange  Event = "position.change"
	EventEngineState     Event = "engine.state"
	EventNotice          Event = "notice"
	EventReconcileReport Event = "reconcile.report"
)

// All lists every topic, in a stable order.
var All = []Event{
	EventTick,
	EventOrderSubmitted,
	EventOrderFilled,
	EventOrderRejected,
	EventPositionChange,
	EventEngineState,
	EventNotice,
	EventReconcileReport,
}

// Notice is a human-readable message for the operator.
type Notice struct {
	Pair    string    `json:"pair"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// EngineState reports a running/stopped transition of a pair engine.
type EngineState struct {
	Pair    string    `json:"pair"`
	Running bool      `json:"running"`
	Reason  string    `json:"reason,omitempty"`
	Time    time.Time `json:"time"`
}

// Tick summarizes one evaluation cycle.
type Tick struct {
	Pair       string          `json:"pair"`
	Seq        uint64          `json:"seq"`
	Price      decimal.Decimal `json:"price"`
	SellReason string          `json:"sellReason,omitempty"`
	BuyReason  string          `json:"buyReason,omitempty"`
	Action     string          `json:"action"`
	Error      string          `json:"error,omitempty"`
	Time       time.Time       `json:"time"`
}

// PositionChange carries the position of a pair after a ledger mutation.
type PositionChange struct {
	Pair     string          `json:"pair"`
	Position ledger.Position `json:"position"`
}

// Envelope wraps a payload with its topic for fan-in consumers.
type Envelope struct {
	Type Event `json:"type"`
	Data any   `json:"data"`
}
