package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks process-wide engine performance.
type SystemMetrics struct {
	// Latency histograms
	OrderLatency *LatencyHistogram
	TickLatency  *LatencyHistogram
	StoreLatency *LatencyHistogram

	ordersProcessed uint64
	ordersFilled    uint64
	ticksProcessed  uint64
	errorsCount     uint64

	Prom *Collectors
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily and cached until the next sample.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a metrics instance backed by prom, which may be nil.
func NewSystemMetrics(prom *Collectors) *SystemMetrics {
	return &SystemMetrics{
		OrderLatency: NewLatencyHistogram(1000),
		TickLatency:  NewLatencyHistogram(1000),
		StoreLatency: NewLatencyHistogram(1000),
		Prom:         prom,
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// OrderSubmitted counts a submitted order.
func (m *SystemMetrics) OrderSubmitted(pair, side, status string, latency time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ordersProcessed, 1)
	if status == "FILLED" {
		atomic.AddUint64(&m.ordersFilled, 1)
	}
	m.OrderLatency.RecordDuration(latency)
	if m.Prom != nil {
		m.Prom.Orders.WithLabelValues(pair, side, status).Inc()
		m.Prom.OrderLatency.WithLabelValues(side).Observe(latency.Seconds())
	}
}

// TickProcessed counts a completed tick.
func (m *SystemMetrics) TickProcessed(pair string, latency time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ticksProcessed, 1)
	m.TickLatency.RecordDuration(latency)
	if m.Prom != nil {
		m.Prom.Ticks.WithLabelValues(pair).Inc()
	}
}

// Error counts a failed tick or operation.
func (m *SystemMetrics) Error(pair, stage string) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.errorsCount, 1)
	if m.Prom != nil {
		m.Prom.Errors.WithLabelValues(pair, stage).Inc()
	}
}

// MetricsSnapshot is a point-in-time view for the JSON metrics endpoint.
type MetricsSnapshot struct {
	OrderLatency    LatencyStats `json:"order_latency"`
	TickLatency     LatencyStats `json:"tick_latency"`
	StoreLatency    LatencyStats `json:"store_latency"`
	OrdersProcessed uint64       `json:"orders_processed"`
	OrdersFilled    uint64       `json:"orders_filled"`
	TicksProcessed  uint64       `json:"ticks_processed"`
	ErrorsCount     uint64       `json:"errors_count"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	Timestamp       time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		OrderLatency:    m.OrderLatency.Stats(),
		TickLatency:     m.TickLatency.Stats(),
		StoreLatency:    m.StoreLatency.Stats(),
		OrdersProcessed: atomic.LoadUint64(&m.ordersProcessed),
		OrdersFilled:    atomic.LoadUint64(&m.ordersFilled),
		TicksProcessed:  atomic.LoadUint64(&m.ticksProcessed),
		ErrorsCount:     atomic.LoadUint64(&m.errorsCount),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		Timestamp:       time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
