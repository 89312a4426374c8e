package order

import (
	"context"
	"errors"
	"log"
	"time"

	"spot-accumulator/internal/events"
	"spot-accumulator/internal/monitor"
	"spot-accumulator/pkg/db"
	exchange "spot-accumulator/pkg/exchanges/common"

	"github.com/google/uuid"
)

// Executor sends market orders to a gateway, keeps the audit trail and
// emits order events. The audit trail is best effort: a storage error is
// logged and never changes the outcome returned to the caller.
type Executor struct {
	Gateway exchange.SpotGateway
	Store   Store
	Bus     *events.Bus
	Metrics *monitor.SystemMetrics
}

func NewExecutor(gw exchange.SpotGateway, store Store, bus *events.Bus, metrics *monitor.SystemMetrics) *Executor {
	return &Executor{
		Gateway: gw,
		Store:   store,
		Bus:     bus,
		Metrics: metrics,
	}
}

// Submit places o and returns the exchange answer. A non-filled status is
// returned with a nil error; callers decide what a non-fill means.
func (e *Executor) Submit(ctx context.Context, o Order) (exchange.Fill, error) {
	if e.Gateway == nil {
		return exchange.Fill{}, errors.New("executor: gateway not configured")
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}

	rec := o.record()
	if e.Store != nil {
		if err := e.Store.CreateOrder(ctx, rec); err != nil {
			log.Printf("[ORDER] store order %s error: %v", o.ID, err)
		}
	}
	e.Bus.Publish(events.EventOrderSubmitted, rec)

	start := time.Now()
	fill, err := exchange.SubmitMarket(ctx, e.Gateway, exchange.OrderRequest{
		Symbol:   o.Symbol,
		Side:     o.Side,
		Qty:      o.Qty,
		ClientID: o.ID,
	})
	latency := time.Since(start)

	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
		e.Metrics.OrderSubmitted(o.Pair, string(o.Side), rec.Status, latency)
		e.finish(ctx, rec)
		log.Printf("[ORDER] %s %s %s qty=%s failed: %v", o.Pair, o.Side, o.ID, o.Qty, err)
		e.Bus.Publish(events.EventOrderRejected, rec)
		return exchange.Fill{}, err
	}

	rec.Status = string(fill.Status)
	rec.ExchangeOrderID = fill.ExchangeOrderID
	rec.FillPrice = fill.FillPrice
	rec.Fee = fill.Fee
	e.Metrics.OrderSubmitted(o.Pair, string(o.Side), rec.Status, latency)
	e.finish(ctx, rec)

	log.Printf("[ORDER] %s %s qty=%s status=%s price=%s fee=%s exch_id=%s",
		o.Pair, o.Side, o.Qty, fill.Status, fill.FillPrice, fill.Fee, fill.ExchangeOrderID)
	if fill.Filled() {
		e.Bus.Publish(events.EventOrderFilled, rec)
	} else {
		e.Bus.Publish(events.EventOrderRejected, rec)
	}
	return fill, nil
}

// Orders returns the audit trail of a pair, newest first.
func (e *Executor) Orders(ctx context.Context, pair string, limit int) ([]db.Order, error) {
	if e.Store == nil {
		return []db.Order{}, nil
	}
	orders, err := e.Store.ListOrders(ctx, pair, limit)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []db.Order{}
	}
	return orders, nil
}

func (e *Executor) finish(ctx context.Context, rec db.Order) {
	if e.Store == nil {
		return
	}
	// The order must be recorded even when the tick context was cancelled mid-flight.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.Store.UpdateOrderResult(ctx, rec); err != nil {
		log.Printf("[ORDER] update order %s error: %v", rec.ID, err)
	}
}
