package engine

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"spot-accumulator/internal/events"
	"spot-accumulator/internal/ledger"
	"spot-accumulator/internal/order"
	"spot-accumulator/internal/policy"
	"spot-accumulator/pkg/config"
	exchange "spot-accumulator/pkg/exchanges/common"
	"spot-accumulator/pkg/money"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return money.MustParse(s) }

// fakeGateway serves balances and prices; orders go through fakeOrders.
type fakeGateway struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	price    decimal.Decimal
	priceErr error
	calls    int
}

func (g *fakeGateway) FetchBalance(_ context.Context, asset string) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.balances[asset], nil
}

func (g *fakeGateway) FetchLastPrice(context.Context, string) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.price, g.priceErr
}

func (g *fakeGateway) CreateMarketBuyOrder(context.Context, string, decimal.Decimal, string) (exchange.Fill, error) {
	return exchange.Fill{}, errors.New("use fakeOrders")
}

func (g *fakeGateway) CreateMarketSellOrder(context.Context, string, decimal.Decimal, string) (exchange.Fill, error) {
	return exchange.Fill{}, errors.New("use fakeOrders")
}

func (g *fakeGateway) setPrice(p string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.price = d(p)
}

// fakeOrders answers every order with status at the configured price.
type fakeOrders struct {
	mu        sync.Mutex
	status    exchange.OrderStatus
	fillPrice decimal.Decimal
	fee       decimal.Decimal
	err       error
	submitted []order.Order
	delay     time.Duration
	inFlight  int
	maxFlight int
}

func (f *fakeOrders) Submit(_ context.Context, o order.Order) (exchange.Fill, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxFlight {
		f.maxFlight = f.inFlight
	}
	f.submitted = append(f.submitted, o)
	delay := f.delay
	f.mu.Unlock()

	time.Sleep(delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if f.err != nil {
		return exchange.Fill{}, f.err
	}
	status := f.status
	if status == "" {
		status = exchange.StatusFilled
	}
	return exchange.Fill{
		ExchangeOrderID: "x-1",
		ClientID:        o.ID,
		Status:          status,
		Qty:             o.Qty,
		FillPrice:       f.fillPrice,
		Fee:             f.fee,
	}, nil
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

func (f *fakeOrders) last() order.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitted[len(f.submitted)-1]
}

// memStore is a ledger store that can fail writes.
type memStore struct {
	mu       sync.Mutex
	docs     map[string][]byte
	failSave bool
}

func (s *memStore) LoadDocument(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[key], nil
}

func (s *memStore) SaveDocument(_ context.Context, key string, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return errors.New("disk full")
	}
	s.docs[key] = append([]byte(nil), doc...)
	return nil
}

func (s *memStore) raw(key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.docs[key]...)
}

func testConfig() config.TradeConfig {
	return config.TradeConfig{
		Asset:               "BNB",
		QuoteAsset:          "USDT",
		SellClearance:       d("1.02"),
		BuyClearance:        d("0.97"),
		TickInterval:        10 * time.Millisecond,
		PerTradeVolumeFloor: d("100"),
		MaxCumulativeVolume: d("1000"),
		BuyStep:             config.DefaultBuyStep,
	}
}

type fixture struct {
	engine *Engine
	gw     *fakeGateway
	orders *fakeOrders
	store  *memStore
	ledger *ledger.Ledger
	bus    *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		gw: &fakeGateway{balances: map[string]decimal.Decimal{
			"USDT": d("1000"),
			"BNB":  money.Zero,
		}},
		orders: &fakeOrders{},
		store:  &memStore{docs: map[string][]byte{}},
		bus:    events.NewBus(),
	}
	f.ledger = ledger.New(f.store, "BNB-USDT")
	e, err := New(testConfig(), Deps{Gateway: f.gw, Orders: f.orders, Ledger: f.ledger, Bus: f.bus})
	require.NoError(t, err)
	f.engine = e
	return f
}

// seed opens a position of 2 BNB at 50: totalCost 100, effective buy
// clearance 0.92, buy trigger 46, sell trigger 51.
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	_, err := f.ledger.AccumulateBuy(context.Background(), d("2"), d("50"), money.Zero)
	require.NoError(t, err)
	f.gw.balances["BNB"] = d("2")
}

func running() State { return State{Running: true} }

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.SellClearance = d("1")
	_, err := New(cfg, Deps{Gateway: &fakeGateway{}, Orders: &fakeOrders{}, Ledger: ledger.New(&memStore{}, "X")})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestStoppedTickDoesNothing(t *testing.T) {
	f := newFixture(t)
	s, out := f.engine.Tick(context.Background(), State{})
	assert.Equal(t, ActionSkip, out.Action)
	assert.Zero(t, s.TickCount)
	assert.Zero(t, f.gw.calls)
}

func TestBootstrapBuy(t *testing.T) {
	f := newFixture(t)
	f.gw.setPrice("100")
	f.orders.fillPrice = d("100")

	s, out := f.engine.Tick(context.Background(), running())
	require.NoError(t, out.Err)
	assert.Equal(t, ActionBuy, out.Action)
	assert.Equal(t, policy.ReasonBootstrap, out.Reason)
	assert.True(t, out.Filled())
	assert.Equal(t, uint64(1), s.TickCount)
	assert.True(t, s.LastPrice.Equal(d("100")))

	assert.Equal(t, exchange.SideBuy, f.orders.last().Side)
	assert.True(t, f.orders.last().Qty.Equal(d("1")))
	assert.Equal(t, "BNBUSDT", f.orders.last().Symbol)

	pos, err := f.ledger.Position(context.Background())
	require.NoError(t, err)
	assert.True(t, pos.QuantityHeld.Equal(d("1")))
	assert.True(t, pos.AveragePrice.Equal(d("100")))
}

func TestSellAboveTrigger(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.gw.setPrice("52")
	f.orders.fillPrice = d("52.1")

	_, out := f.engine.Tick(context.Background(), running())
	require.NoError(t, out.Err)
	assert.Equal(t, ActionSell, out.Action)
	assert.True(t, out.Price.Equal(d("52.1")))
	assert.True(t, f.orders.last().Qty.Equal(d("2")))

	pos, err := f.ledger.Position(context.Background())
	require.NoError(t, err)
	assert.True(t, pos.Empty())
	trades, err := f.ledger.ClosedTrades(context.Background())
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].ExitPrice.Equal(d("52.1")))
}

func TestNoSellAtTrigger(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.gw.setPrice("51")

	_, out := f.engine.Tick(context.Background(), running())
	assert.Equal(t, ActionHold, out.Action)
	assert.Equal(t, policy.ReasonNotTriggered, out.Reason)
	assert.Zero(t, f.orders.count())
}

func TestBuyAtProgressiveTrigger(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.gw.setPrice("46")
	f.orders.fillPrice = d("46")

	_, out := f.engine.Tick(context.Background(), running())
	require.NoError(t, out.Err)
	assert.Equal(t, ActionBuy, out.Action)
	assert.Equal(t, policy.ReasonTriggered, out.Reason)
	// ceil(100 / 46) = 3
	assert.True(t, f.orders.last().Qty.Equal(d("3")))

	pos, err := f.ledger.Position(context.Background())
	require.NoError(t, err)
	assert.True(t, pos.QuantityHeld.Equal(d("5")))
	assert.True(t, pos.TotalCost.Equal(d("238")))
}

func TestHoldAboveBuyTrigger(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.gw.setPrice("48")

	_, out := f.engine.Tick(context.Background(), running())
	assert.Equal(t, ActionHold, out.Action)
	assert.Zero(t, f.orders.count())
}

func TestMaxVolumeStopsBuying(t *testing.T) {
	f := newFixture(t)
	cfg := testConfig()
	cfg.MaxCumulativeVolume = d("2")
	f.engine.cfg = cfg
	f.seed(t)
	f.gw.setPrice("40")

	_, out := f.engine.Tick(context.Background(), running())
	assert.Equal(t, ActionHold, out.Action)
	assert.Equal(t, policy.ReasonMaxVolumeReached, out.Reason)
	assert.Zero(t, f.orders.count())
}

func TestUnfilledOrderLeavesLedgerUntouched(t *testing.T) {
	for _, status := range []exchange.OrderStatus{exchange.StatusNew, exchange.StatusPartial, exchange.StatusExpired, exchange.StatusRejected} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			f.seed(t)
			before := f.store.raw("BNB-USDT")
			f.orders.status = status

			f.gw.setPrice("46")
			_, out := f.engine.Tick(context.Background(), running())
			assert.Equal(t, ActionBuy, out.Action)
			assert.False(t, out.Filled())

			f.gw.setPrice("60")
			_, out = f.engine.Tick(context.Background(), running())
			assert.Equal(t, ActionSell, out.Action)
			assert.False(t, out.Filled())

			assert.True(t, bytes.Equal(before, f.store.raw("BNB-USDT")), "ledger changed")
		})
	}
}

func TestOrderErrorLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	f.gw.setPrice("100")
	f.orders.err = errors.New("connection reset")

	s, out := f.engine.Tick(context.Background(), running())
	assert.Equal(t, StageOrder, out.Stage)
	assert.Error(t, out.Err)
	assert.True(t, s.Running)
	assert.Empty(t, f.store.raw("BNB-USDT"))
}

func TestLedgerFailureAfterFillStopsEngine(t *testing.T) {
	f := newFixture(t)
	f.gw.setPrice("100")
	f.orders.fillPrice = d("100")
	f.store.failSave = true

	notices, unsub := f.bus.Subscribe(events.EventNotice, 4)
	defer unsub()

	s, out := f.engine.Tick(context.Background(), running())
	assert.True(t, out.Fatal)
	assert.ErrorIs(t, out.Err, ledger.ErrStorage)
	assert.False(t, s.Running)

	select {
	case n := <-notices:
		assert.Contains(t, n.(events.Notice).Message, "disk full")
	default:
		t.Fatal("expected a notice")
	}
}

func TestFillPriceFallsBackToTickPrice(t *testing.T) {
	f := newFixture(t)
	f.gw.setPrice("100")

	_, out := f.engine.Tick(context.Background(), running())
	require.True(t, out.Filled())

	pos, err := f.ledger.Position(context.Background())
	require.NoError(t, err)
	assert.True(t, pos.AveragePrice.Equal(d("100")))
}

func TestSellQuantityIsCappedByFlooredBalance(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.gw.balances["BNB"] = d("1.7")
	f.gw.setPrice("60")

	_, out := f.engine.Tick(context.Background(), running())
	assert.Equal(t, ActionSell, out.Action)
	assert.True(t, f.orders.last().Qty.Equal(d("1")))
}

func TestCannotSellNoticeIsNotRepeated(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.gw.balances["BNB"] = d("0.5")
	f.gw.setPrice("60")

	notices, unsub := f.bus.Subscribe(events.EventNotice, 8)
	defer unsub()

	s := running()
	var out Outcome
	for i := 0; i < 3; i++ {
		s, out = f.engine.Tick(context.Background(), s)
		assert.Equal(t, ActionHold, out.Action)
		assert.Equal(t, policy.ReasonEmptyAssetBalance, out.Reason)
	}
	assert.Zero(t, f.orders.count())
	require.Len(t, notices, 1)
	assert.Contains(t, (<-notices).(events.Notice).Message, "BNB")
}

func TestCannotBuyWithoutQuote(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.gw.balances["USDT"] = d("10")
	f.gw.setPrice("46")

	_, out := f.engine.Tick(context.Background(), running())
	assert.Equal(t, ActionHold, out.Action)
	assert.Equal(t, policy.ReasonInsufficientQuote, out.Reason)
	assert.Zero(t, f.orders.count())
}

func TestPriceErrorAbortsTick(t *testing.T) {
	f := newFixture(t)
	f.gw.priceErr = errors.New("timeout")

	s, out := f.engine.Tick(context.Background(), running())
	assert.Equal(t, ActionAbort, out.Action)
	assert.Equal(t, StagePrice, out.Stage)
	assert.True(t, s.Running)
	assert.Equal(t, uint64(1), s.TickCount)
	assert.Zero(t, f.orders.count())
}

func TestZeroPriceAbortsTick(t *testing.T) {
	f := newFixture(t)
	f.gw.setPrice("0")

	_, out := f.engine.Tick(context.Background(), running())
	assert.Equal(t, ActionAbort, out.Action)
	assert.ErrorIs(t, out.Err, ErrNoPrice)
}

func TestTickPublishesEvent(t *testing.T) {
	f := newFixture(t)
	f.gw.setPrice("100")
	ticks, unsub := f.bus.Subscribe(events.EventTick, 1)
	defer unsub()

	f.engine.Tick(context.Background(), running())
	tick := (<-ticks).(events.Tick)
	assert.Equal(t, "BNB-USDT", tick.Pair)
	assert.Equal(t, uint64(1), tick.Seq)
	assert.Equal(t, string(ActionBuy), tick.Action)
}
