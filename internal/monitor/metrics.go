package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks performance of the trading core.
type SystemMetrics struct {
	// Latency histograms
	RequestLatency *LatencyHistogram
	SignalLatency  *LatencyHistogram

	// Counters
	ticksProcessed   uint64
	signalsGenerated uint64
	ordersPlaced     uint64
	positionsClosed  uint64
	errorsCount      uint64
	reconnects       uint64
}

// LatencyHistogram tracks latency samples with a sliding window and lazily
// recomputed stats.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		RequestLatency: NewLatencyHistogram(1000),
		SignalLatency:  NewLatencyHistogram(1000),
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

// RecordDuration converts a duration to ms and records it.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
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

// Stats returns min, max, avg, p50, p95, p99, recomputing only when samples
// have changed.
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

	p95 := int(float64(n) * 0.95)
	p99 := int(float64(n) * 0.99)
	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[p95],
		P99:   sorted[p99],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

func (m *SystemMetrics) IncrementTicks()      { atomic.AddUint64(&m.ticksProcessed, 1) }
func (m *SystemMetrics) IncrementSignals()    { atomic.AddUint64(&m.signalsGenerated, 1) }
func (m *SystemMetrics) IncrementOrders()     { atomic.AddUint64(&m.ordersPlaced, 1) }
func (m *SystemMetrics) IncrementClosed()     { atomic.AddUint64(&m.positionsClosed, 1) }
func (m *SystemMetrics) IncrementErrors()     { atomic.AddUint64(&m.errorsCount, 1) }
func (m *SystemMetrics) IncrementReconnects() { atomic.AddUint64(&m.reconnects, 1) }

// MetricsSnapshot is a point-in-time view of the metrics.
type MetricsSnapshot struct {
	RequestLatency   LatencyStats `json:"request_latency"`
	SignalLatency    LatencyStats `json:"signal_latency"`
	TicksProcessed   uint64       `json:"ticks_processed"`
	SignalsGenerated uint64       `json:"signals_generated"`
	OrdersPlaced     uint64       `json:"orders_placed"`
	PositionsClosed  uint64       `json:"positions_closed"`
	ErrorsCount      uint64       `json:"errors_count"`
	StreamReconnects uint64       `json:"stream_reconnects"`
	GoroutineCount   int          `json:"goroutine_count"`
	HeapAlloc        uint64       `json:"heap_alloc_bytes"`
	Timestamp        time.Time    `json:"timestamp"`
}

// GetSnapshot returns the current metrics.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		RequestLatency:   m.RequestLatency.Stats(),
		SignalLatency:    m.SignalLatency.Stats(),
		TicksProcessed:   atomic.LoadUint64(&m.ticksProcessed),
		SignalsGenerated: atomic.LoadUint64(&m.signalsGenerated),
		OrdersPlaced:     atomic.LoadUint64(&m.ordersPlaced),
		PositionsClosed:  atomic.LoadUint64(&m.positionsClosed),
		ErrorsCount:      atomic.LoadUint64(&m.errorsCount),
		StreamReconnects: atomic.LoadUint64(&m.reconnects),
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        memStats.HeapAlloc,
		Timestamp:        time.Now(),
	}
}
