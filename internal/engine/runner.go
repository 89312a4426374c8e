package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"spot-accumulator/internal/events"
	"spot-accumulator/internal/ledger"
	"spot-accumulator/internal/monitor"
	"spot-accumulator/internal/policy"
	"spot-accumulator/pkg/config"
	"spot-accumulator/pkg/i18n"
)

var (
	ErrAlreadyRunning = errors.New("engine: already running")
	ErrAlreadyStopped = errors.New("engine: already stopped")
	ErrRunnerClosed   = errors.New("engine: runner closed")
)

// Runner schedules the ticks of one Engine and serializes operator commands
// with them. Commands are consumed only between ticks, so a tick always runs
// to completion and never overlaps another tick or a command.
type Runner struct {
	engine  *Engine
	state   State
	cmds    chan func()
	done    chan struct{}
	bus     *events.Bus
	metrics *monitor.SystemMetrics
}

func NewRunner(e *Engine) *Runner {
	return &Runner{
		engine:  e,
		cmds:    make(chan func()),
		done:    make(chan struct{}),
		bus:     e.bus,
		metrics: e.metrics,
	}
}

// Pair returns the pair key of the runner's engine.
func (r *Runner) Pair() string { return r.engine.pair }

// Run drives the engine until ctx is done. The tick timer is armed only
// while the engine is running; cancellation is observed between ticks.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)

	var (
		timer *time.Timer
		tickC <-chan time.Time
	)
	arm := func() {
		if r.state.Running && timer == nil {
			timer = time.NewTimer(r.engine.cfg.TickInterval)
			tickC = timer.C
		}
	}
	disarm := func() {
		if timer != nil {
			timer.Stop()
			timer, tickC = nil, nil
		}
	}
	defer disarm()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-r.cmds:
			cmd()
			if r.state.Running {
				arm()
			} else {
				disarm()
			}
		case <-tickC:
			timer, tickC = nil, nil
			var out Outcome
			r.state, out = r.engine.Tick(ctx, r.state)
			if out.Fatal {
				r.publishState("ledger failure")
			}
			arm()
		}
	}
}

// do runs fn on the runner goroutine and waits for it.
func (r *Runner) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	cmd := func() {
		defer close(finished)
		fn()
	}
	select {
	case r.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrRunnerClosed
	}
	select {
	case <-finished:
		return nil
	case <-r.done:
		<-finished
		return nil
	}
}

// Start moves the engine to RUNNING. The first tick runs one interval later.
func (r *Runner) Start(ctx context.Context) error {
	var err error
	if qerr := r.do(ctx, func() {
		if r.state.Running {
			err = ErrAlreadyRunning
			return
		}
		r.state.Running = true
		r.state.LastNotice = ""
		r.publishState("")
		r.notice(i18n.M().EngineStarted)
	}); qerr != nil {
		return qerr
	}
	return err
}

// Stop moves the engine to STOPPED.
func (r *Runner) Stop(ctx context.Context) error {
	var err error
	if qerr := r.do(ctx, func() {
		if !r.state.Running {
			err = ErrAlreadyStopped
			return
		}
		r.state.Running = false
		r.publishState("")
		r.notice(i18n.M().EngineStopped)
	}); qerr != nil {
		return qerr
	}
	return err
}

// Status reports the engine state, position and trigger prices.
func (r *Runner) Status(ctx context.Context) (Status, error) {
	var (
		st  Status
		err error
	)
	if qerr := r.do(ctx, func() {
		cfg := r.engine.cfg
		pos, perr := r.engine.ledger.Position(ctx)
		if perr != nil {
			err = perr
			return
		}
		st = Status{
			Pair:         r.engine.pair,
			Market:       cfg.Market(),
			Running:      r.state.Running,
			TickCount:    r.state.TickCount,
			CurrentPrice: r.state.LastPrice,
			Position:     pos,
			Triggers:     policy.Evaluate(pos, cfg),
			Config:       cfg,
			Time:         time.Now().UTC(),
		}
	}); qerr != nil {
		return Status{}, qerr
	}
	return st, err
}

// UpdateConfig applies patch. Any accepted change stops the engine; a
// rejected patch changes nothing.
func (r *Runner) UpdateConfig(ctx context.Context, patch config.Patch) (config.TradeConfig, error) {
	var (
		next config.TradeConfig
		err  error
	)
	if qerr := r.do(ctx, func() {
		next, err = r.engine.cfg.Apply(patch)
		if err != nil {
			return
		}
		r.engine.cfg = next
		wasRunning := r.state.Running
		r.state.Running = false
		if wasRunning {
			r.publishState("config updated")
		}
		r.notice(i18n.M().ConfigChangedStopped)
		log.Printf("[ENGINE] %s config updated: sell=%s buy=%s volume=%s max=%s",
			r.engine.pair, next.SellClearance, next.BuyClearance, next.PerTradeVolumeFloor, next.MaxCumulativeVolume)
	}); qerr != nil {
		return config.TradeConfig{}, qerr
	}
	return next, err
}

// CleanLedger stops the engine and empties the position without recording a trade.
func (r *Runner) CleanLedger(ctx context.Context) error {
	var err error
	if qerr := r.do(ctx, func() {
		if r.state.Running {
			r.state.Running = false
			r.publishState("ledger cleaned")
		}
		if err = r.engine.ledger.Reset(ctx); err != nil {
			return
		}
		r.engine.publishPosition(ledger.Position{})
		r.notice(i18n.M().LedgerCleaned)
	}); qerr != nil {
		return qerr
	}
	return err
}

// Trades returns the closed trades of the pair, oldest first.
func (r *Runner) Trades(ctx context.Context) ([]ledger.ClosedTrade, error) {
	return r.engine.ledger.ClosedTrades(ctx)
}

func (r *Runner) publishState(reason string) {
	running := r.state.Running
	if r.metrics != nil {
		r.metrics.Prom.SetRunning(r.engine.pair, running)
	}
	r.bus.Publish(events.EventEngineState, events.EngineState{
		Pair:    r.engine.pair,
		Running: running,
		Reason:  reason,
		Time:    time.Now().UTC(),
	})
	log.Printf("[ENGINE] %s running=%v %s", r.engine.pair, running, reason)
}

func (r *Runner) notice(msg string) {
	r.bus.Publish(events.EventNotice, events.Notice{Pair: r.engine.pair, Message: msg, Time: time.Now().UTC()})
}
