package engine

import (
	"context"
	"testing"
	"time"

	"spot-accumulator/internal/events"
	"spot-accumulator/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRunner(t *testing.T, f *fixture) *Runner {
	t.Helper()
	r := NewRunner(f.engine)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

func TestRunnerStartStop(t *testing.T) {
	f := newFixture(t)
	f.gw.setPrice("100")
	r := startRunner(t, f)
	ctx := context.Background()

	assert.ErrorIs(t, r.Stop(ctx), ErrAlreadyStopped)
	require.NoError(t, r.Start(ctx))
	assert.ErrorIs(t, r.Start(ctx), ErrAlreadyRunning)

	require.Eventually(t, func() bool { return f.orders.count() > 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Stop(ctx))
	st, err := r.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.NotZero(t, st.TickCount)

	// No tick runs while stopped.
	n := f.orders.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, f.orders.count())
}

func TestRunnerStatus(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	r := startRunner(t, f)

	st, err := r.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "BNB-USDT", st.Pair)
	assert.Equal(t, "BNB/USDT", st.Market)
	assert.True(t, st.Position.QuantityHeld.Equal(d("2")))
	assert.True(t, st.Triggers.SellTrigger.Equal(d("51")))
	assert.True(t, st.Triggers.BuyTrigger.Equal(d("46")))
}

func TestRunnerConfigUpdateStopsEngine(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.gw.setPrice("48")
	r := startRunner(t, f)
	ctx := context.Background()

	states, unsub := f.bus.Subscribe(events.EventEngineState, 4)
	defer unsub()

	require.NoError(t, r.Start(ctx))
	<-states

	sell := d("1.1")
	cfg, err := r.UpdateConfig(ctx, config.Patch{SellClearance: &sell})
	require.NoError(t, err)
	assert.True(t, cfg.SellClearance.Equal(sell))

	st, err := r.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.True(t, st.Config.SellClearance.Equal(sell))
	assert.True(t, st.Triggers.SellTrigger.Equal(d("55")))

	select {
	case s := <-states:
		assert.False(t, s.(events.EngineState).Running)
	case <-time.After(time.Second):
		t.Fatal("expected engine state event")
	}
}

func TestRunnerRejectedConfigChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.gw.setPrice("48")
	r := startRunner(t, f)
	ctx := context.Background()
	require.NoError(t, r.Start(ctx))

	bad := d("1.5")
	_, err := r.UpdateConfig(ctx, config.Patch{BuyClearance: &bad})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	st, err := r.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.True(t, st.Config.BuyClearance.Equal(d("0.97")))
}

func TestRunnerCleanLedgerStops(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.gw.setPrice("48")
	r := startRunner(t, f)
	ctx := context.Background()
	require.NoError(t, r.Start(ctx))

	require.NoError(t, r.CleanLedger(ctx))

	st, err := r.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.True(t, st.Position.Empty())

	trades, err := r.Trades(ctx)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestRunnerTicksNeverOverlap(t *testing.T) {
	f := newFixture(t)
	f.gw.setPrice("100")
	f.orders.delay = 20 * time.Millisecond
	f.orders.status = "NEW"
	r := startRunner(t, f)
	ctx := context.Background()
	require.NoError(t, r.Start(ctx))

	require.Eventually(t, func() bool { return f.orders.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	// Commands wait for the tick in flight.
	_, err := r.Status(ctx)
	require.NoError(t, err)

	f.orders.mu.Lock()
	defer f.orders.mu.Unlock()
	assert.Equal(t, 1, f.orders.maxFlight)
}

func TestRunnerClosed(t *testing.T) {
	f := newFixture(t)
	r := NewRunner(f.engine)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Run(ctx), context.Canceled)
	assert.ErrorIs(t, r.Start(context.Background()), ErrRunnerClosed)
}

func TestManagerRoutesByPair(t *testing.T) {
	f := newFixture(t)
	m := NewManager(nil)
	require.NoError(t, m.Add(NewRunner(f.engine)))
	assert.Error(t, m.Add(NewRunner(f.engine)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	_, err := m.Status(context.Background(), "ETH-USDT")
	assert.ErrorIs(t, err, ErrUnknownPair)

	st, err := m.Status(context.Background(), "bnb/usdt")
	require.NoError(t, err)
	assert.Equal(t, "BNB-USDT", st.Pair)

	pairs := m.ListPairs(context.Background())
	require.Len(t, pairs, 1)
	assert.Equal(t, "BNB/USDT", pairs[0].Market)

	orders, err := m.Orders(context.Background(), "BNB-USDT", 10)
	require.NoError(t, err)
	assert.Empty(t, orders)
}
