package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Collectors holds the Prometheus series exported at /metrics:
//
//	accumulator_orders_total{pair,side,status}
//	accumulator_order_latency_seconds{side}
//	accumulator_ticks_total{pair}
//	accumulator_errors_total{pair,stage}
//	accumulator_decisions_total{pair,side,reason}
//	accumulator_last_price{pair}
//	accumulator_position_quantity{pair}
//	accumulator_position_average_price{pair}
//	accumulator_engine_running{pair}
//	accumulator_closed_trades_total{pair}
type Collectors struct {
	Registry *prometheus.Registry

	Orders       *prometheus.CounterVec
	OrderLatency *prometheus.HistogramVec
	Ticks        *prometheus.CounterVec
	Errors       *prometheus.CounterVec
	Decisions    *prometheus.CounterVec
	LastPrice    *prometheus.GaugeVec
	Quantity     *prometheus.GaugeVec
	AvgPrice     *prometheus.GaugeVec
	Running      *prometheus.GaugeVec
	ClosedTrades *prometheus.CounterVec
}

// NewCollectors registers all series on a fresh registry together with the
// Go runtime and process collectors.
func NewCollectors() *Collectors {
	c := &Collectors{
		Registry: prometheus.NewRegistry(),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accumulator_orders_total",
			Help: "Market orders submitted",
		}, []string{"pair", "side", "status"}),
		OrderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "accumulator_order_latency_seconds",
			Help:    "Time from submission to exchange answer",
			Buckets: prometheus.DefBuckets,
		}, []string{"side"}),
		Ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accumulator_ticks_total",
			Help: "Completed evaluation ticks",
		}, []string{"pair"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accumulator_errors_total",
			Help: "Failures split by stage (price, balance, order, ledger)",
		}, []string{"pair", "stage"}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accumulator_decisions_total",
			Help: "Eligibility verdicts split by side and reason",
		}, []string{"pair", "side", "reason"}),
		LastPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "accumulator_last_price",
			Help: "Last observed price",
		}, []string{"pair"}),
		Quantity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "accumulator_position_quantity",
			Help: "Quantity held in the open position",
		}, []string{"pair"}),
		AvgPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "accumulator_position_average_price",
			Help: "Average entry price of the open position",
		}, []string{"pair"}),
		Running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "accumulator_engine_running",
			Help: "1 while the pair engine is running",
		}, []string{"pair"}),
		ClosedTrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accumulator_closed_trades_total",
			Help: "Positions closed by a sell",
		}, []string{"pair"}),
	}
	c.Registry.MustRegister(
		c.Orders, c.OrderLatency, c.Ticks, c.Errors, c.Decisions,
		c.LastPrice, c.Quantity, c.AvgPrice, c.Running, c.ClosedTrades,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{Registry: c.Registry})
}

// ObservePosition updates the position gauges of a pair.
func (c *Collectors) ObservePosition(pair string, qty, avg decimal.Decimal) {
	if c == nil {
		return
	}
	q, _ := qty.Float64()
	a, _ := avg.Float64()
	c.Quantity.WithLabelValues(pair).Set(q)
	c.AvgPrice.WithLabelValues(pair).Set(a)
}

// ObservePrice updates the last price gauge of a pair.
func (c *Collectors) ObservePrice(pair string, price decimal.Decimal) {
	if c == nil {
		return
	}
	p, _ := price.Float64()
	c.LastPrice.WithLabelValues(pair).Set(p)
}

// ObserveDecision counts one eligibility verdict.
func (c *Collectors) ObserveDecision(pair, side, reason string) {
	if c == nil {
		return
	}
	c.Decisions.WithLabelValues(pair, side, reason).Inc()
}

// SetRunning flips the running gauge of a pair.
func (c *Collectors) SetRunning(pair string, running bool) {
	if c == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	c.Running.WithLabelValues(pair).Set(v)
}

// TradeClosed counts a closed position.
func (c *Collectors) TradeClosed(pair string) {
	if c == nil {
		return
	}
	c.ClosedTrades.WithLabelValues(pair).Inc()
}
