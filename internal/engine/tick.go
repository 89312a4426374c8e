package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"spot-accumulator/internal/events"
	"spot-accumulator/internal/ledger"
	"spot-accumulator/internal/monitor"
	"spot-accumulator/internal/order"
	"spot-accumulator/internal/policy"
	"spot-accumulator/pkg/config"
	exchange "spot-accumulator/pkg/exchanges/common"
	"spot-accumulator/pkg/i18n"
	"spot-accumulator/pkg/money"

	"github.com/shopspring/decimal"
)

var ErrNoPrice = errors.New("engine: no usable market price")

// Submitter places market orders.
type Submitter interface {
	Submit(ctx context.Context, o order.Order) (exchange.Fill, error)
}

// Engine evaluates one pair. It holds no mutable trading state of its own:
// the position lives in the ledger and the rest in State.
type Engine struct {
	pair    string
	cfg     config.TradeConfig
	gw      exchange.SpotGateway
	orders  Submitter
	ledger  *ledger.Ledger
	bus     *events.Bus
	metrics *monitor.SystemMetrics
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Gateway exchange.SpotGateway
	Orders  Submitter
	Ledger  *ledger.Ledger
	Bus     *events.Bus
	Metrics *monitor.SystemMetrics
}

func New(cfg config.TradeConfig, deps Deps) (*Engine, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Gateway == nil || deps.Orders == nil || deps.Ledger == nil {
		return nil, errors.New("engine: gateway, orders and ledger are required")
	}
	return &Engine{
		pair:    cfg.PairKey(),
		cfg:     cfg,
		gw:      deps.Gateway,
		orders:  deps.Orders,
		ledger:  deps.Ledger,
		bus:     deps.Bus,
		metrics: deps.Metrics,
	}, nil
}

// Pair returns the pair key.
func (e *Engine) Pair() string { return e.pair }

// Config returns the active trade config.
func (e *Engine) Config() config.TradeConfig { return e.cfg }

// Tick runs one evaluation. A stopped state is returned untouched.
func (e *Engine) Tick(ctx context.Context, s State) (State, Outcome) {
	if !s.Running {
		return s, Outcome{Action: ActionSkip}
	}
	start := time.Now()
	s.TickCount++

	out := e.evaluate(ctx, &s)
	if out.Fatal {
		s.Running = false
	}
	if out.Action == ActionAbort || out.Err != nil {
		e.metrics.Error(e.pair, out.Stage)
	}
	e.metrics.TickProcessed(e.pair, time.Since(start))
	e.publishTick(s, out)
	return s, out
}

func (e *Engine) evaluate(ctx context.Context, s *State) Outcome {
	cfg := e.cfg

	quoteBalance, err := e.gw.FetchBalance(ctx, cfg.QuoteAsset)
	if err != nil {
		return e.abort(s, StageBalance, err)
	}
	assetBalance, err := e.gw.FetchBalance(ctx, cfg.Asset)
	if err != nil {
		return e.abort(s, StageBalance, err)
	}

	pos, err := e.ledger.Position(ctx)
	if err != nil {
		return e.abort(s, StageLedger, err)
	}

	price, err := e.gw.FetchLastPrice(ctx, cfg.Symbol())
	if err != nil {
		return e.abort(s, StagePrice, err)
	}
	if !money.Positive(price) {
		return e.abort(s, StagePrice, fmt.Errorf("%w: %s", ErrNoPrice, price))
	}
	s.LastPrice = price
	e.observePrice(price)

	units, err := policy.MinimumUnits(price, cfg.PerTradeVolumeFloor)
	if err != nil {
		return e.abort(s, StageSizing, err)
	}

	if pos.Empty() {
		e.observeDecision(exchange.SideBuy, policy.ReasonBootstrap)
		return e.buy(ctx, s, price, units, policy.ReasonBootstrap)
	}

	sell := policy.EvaluateSell(price, pos, cfg, assetBalance)
	e.observeDecision(exchange.SideSell, sell.Reason)
	if sell.Eligible {
		// The exchange balance is authoritative; the ledger caps it.
		qty := money.Min(money.Floor(assetBalance), pos.QuantityHeld)
		if !money.Positive(qty) {
			e.notice(s, fmt.Sprintf(i18n.M().CannotSell, cfg.Asset))
			return Outcome{Action: ActionHold, Reason: policy.ReasonEmptyAssetBalance, Price: price}
		}
		return e.sell(ctx, s, price, qty)
	}
	if sell.Reason == policy.ReasonEmptyAssetBalance {
		e.notice(s, fmt.Sprintf(i18n.M().CannotSell, cfg.Asset))
		return Outcome{Action: ActionHold, Reason: sell.Reason, Price: price}
	}

	notional := money.Mul(units, price)
	buy := policy.EvaluateBuy(policy.BuyInput{
		Price:        price,
		QuoteBalance: quoteBalance,
		Notional:     notional,
		Position:     pos,
	}, cfg)
	e.observeDecision(exchange.SideBuy, buy.Reason)
	if buy.Eligible {
		return e.buy(ctx, s, price, units, buy.Reason)
	}
	if buy.Reason == policy.ReasonInsufficientQuote {
		e.notice(s, fmt.Sprintf(i18n.M().CannotBuy, cfg.QuoteAsset, quoteBalance, notional))
	} else {
		s.LastNotice = ""
	}
	return Outcome{Action: ActionHold, Reason: buy.Reason, Price: price}
}

func (e *Engine) buy(ctx context.Context, s *State, price, qty decimal.Decimal, reason policy.Reason) Outcome {
	out := Outcome{Action: ActionBuy, Reason: reason, Qty: qty, Price: price}
	fill, err := e.orders.Submit(ctx, order.Order{
		Pair:   e.pair,
		Symbol: e.cfg.Symbol(),
		Side:   exchange.SideBuy,
		Qty:    qty,
	})
	if err != nil {
		out.Stage, out.Err = StageOrder, err
		log.Printf("[ENGINE] %s %s", e.pair, fmt.Sprintf(i18n.M().TickAborted, StageOrder, err))
		return out
	}
	out.Fill = &fill
	if !fill.Filled() {
		log.Printf("[ENGINE] %s %s", e.pair, fmt.Sprintf(i18n.M().OrderNotFilled, exchange.SideBuy, fill.ExchangeOrderID, fill.Status))
		return out
	}
	s.LastNotice = ""

	fillPrice := fill.FillPrice
	if !money.Positive(fillPrice) {
		fillPrice = price
	}
	filledQty := qty
	if money.Positive(fill.Qty) {
		filledQty = fill.Qty
	}
	fee := money.Max(fill.Fee, money.Zero)

	pos, err := e.ledger.AccumulateBuy(context.WithoutCancel(ctx), filledQty, fillPrice, fee)
	if err != nil {
		return e.ledgerFailure(s, out, exchange.SideBuy, err)
	}
	out.Qty, out.Price = filledQty, fillPrice
	log.Printf("[ENGINE] %s %s", e.pair, fmt.Sprintf(i18n.M().BuyFilled, filledQty, fillPrice, pos.AveragePrice))
	e.publishPosition(pos)
	return out
}

func (e *Engine) sell(ctx context.Context, s *State, price, qty decimal.Decimal) Outcome {
	out := Outcome{Action: ActionSell, Reason: policy.ReasonTriggered, Qty: qty, Price: price}
	fill, err := e.orders.Submit(ctx, order.Order{
		Pair:   e.pair,
		Symbol: e.cfg.Symbol(),
		Side:   exchange.SideSell,
		Qty:    qty,
	})
	if err != nil {
		out.Stage, out.Err = StageOrder, err
		log.Printf("[ENGINE] %s %s", e.pair, fmt.Sprintf(i18n.M().TickAborted, StageOrder, err))
		return out
	}
	out.Fill = &fill
	if !fill.Filled() {
		log.Printf("[ENGINE] %s %s", e.pair, fmt.Sprintf(i18n.M().OrderNotFilled, exchange.SideSell, fill.ExchangeOrderID, fill.Status))
		return out
	}
	s.LastNotice = ""

	exit := fill.FillPrice
	if !money.Positive(exit) {
		exit = price
	}
	trade, err := e.ledger.ClosePosition(context.WithoutCancel(ctx), exit)
	if err != nil {
		return e.ledgerFailure(s, out, exchange.SideSell, err)
	}
	out.Price = exit
	log.Printf("[ENGINE] %s %s", e.pair, fmt.Sprintf(i18n.M().SellFilled, trade.Quantity, trade.ExitPrice))
	if e.metrics != nil {
		e.metrics.Prom.TradeClosed(e.pair)
	}
	e.publishPosition(ledger.Position{})
	return out
}

// ledgerFailure handles a ledger error after a confirmed fill. Storage
// failures stop the engine: the exchange moved and the ledger did not.
func (e *Engine) ledgerFailure(s *State, out Outcome, side exchange.Side, err error) Outcome {
	out.Stage, out.Err = StageLedger, err
	if errors.Is(err, ledger.ErrStorage) {
		out.Fatal = true
		msg := fmt.Sprintf(i18n.M().LedgerFailureStopped, side, err)
		log.Printf("[ENGINE] %s %s", e.pair, msg)
		e.notice(s, msg)
		return out
	}
	log.Printf("[ENGINE] %s %s", e.pair, fmt.Sprintf(i18n.M().TickAborted, StageLedger, err))
	return out
}

func (e *Engine) abort(s *State, stage string, err error) Outcome {
	log.Printf("[ENGINE] %s %s", e.pair, fmt.Sprintf(i18n.M().TickAborted, stage, err))
	e.notice(s, fmt.Sprintf(i18n.M().TickAborted, stage, err))
	return Outcome{Action: ActionAbort, Stage: stage, Err: err}
}

// notice publishes msg unless it repeats the previous notice.
func (e *Engine) notice(s *State, msg string) {
	if s.LastNotice == msg {
		return
	}
	s.LastNotice = msg
	e.bus.Publish(events.EventNotice, events.Notice{Pair: e.pair, Message: msg, Time: time.Now().UTC()})
}

func (e *Engine) publishTick(s State, out Outcome) {
	t := events.Tick{
		Pair:   e.pair,
		Seq:    s.TickCount,
		Price:  s.LastPrice,
		Action: string(out.Action),
		Time:   time.Now().UTC(),
	}
	switch out.Action {
	case ActionSell:
		t.SellReason = string(out.Reason)
	case ActionBuy, ActionHold:
		t.BuyReason = string(out.Reason)
	}
	if out.Err != nil {
		t.Error = out.Err.Error()
	}
	e.bus.Publish(events.EventTick, t)
}

func (e *Engine) publishPosition(pos ledger.Position) {
	e.bus.Publish(events.EventPositionChange, events.PositionChange{Pair: e.pair, Position: pos})
	if e.metrics != nil {
		e.metrics.Prom.ObservePosition(e.pair, pos.QuantityHeld, pos.AveragePrice)
	}
}

func (e *Engine) observePrice(price decimal.Decimal) {
	if e.metrics != nil {
		e.metrics.Prom.ObservePrice(e.pair, price)
	}
}

func (e *Engine) observeDecision(side exchange.Side, reason policy.Reason) {
	if e.metrics != nil {
		e.metrics.Prom.ObserveDecision(e.pair, string(side), string(reason))
	}
}
