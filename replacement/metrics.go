package replacement

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Histogram tracks latency distribution with percentile support
type Histogram struct {
	samples []float64 // Latencies in nanoseconds
	next    int       // Slot overwritten by the next sample once full
	mu      sync.Mutex
	maxSize int
}

// NewHistogram creates a new histogram with a max sample size
func NewHistogram(maxSize int) *Histogram {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &Histogram{
		samples: make([]float64, 0, maxSize),
		maxSize: maxSize,
	}
}

// Record adds a latency sample, replacing the oldest one when full
func (h *Histogram) Record(latencyNs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) < h.maxSize {
		h.samples = append(h.samples, latencyNs)
		return
	}
	h.samples[h.next] = latencyNs
	h.next = (h.next + 1) % h.maxSize
}

// Count returns the number of samples
func (h *Histogram) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.samples)
}

// Reset clears all samples
func (h *Histogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = h.samples[:0]
	h.next = 0
}

// HistogramSnapshot holds percentile statistics at a point in time
type HistogramSnapshot struct {
	Count int
	Min   float64
	Max   float64
	Mean  float64
	P50   float64 // Median
	P95   float64
	P99   float64
}

// percentile interpolates linearly between the two closest ranks of sorted.
func percentile(sorted []float64, p float64) float64 {
	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// Snapshot captures current histogram statistics
func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	sorted := append([]float64(nil), h.samples...)
	h.mu.Unlock()

	if len(sorted) == 0 {
		return HistogramSnapshot{}
	}
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return HistogramSnapshot{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / float64(len(sorted)),
		P50:   percentile(sorted, 50),
		P95:   percentile(sorted, 95),
		P99:   percentile(sorted, 99),
	}
}

// Metrics tracks engine call counts and decision latency
type Metrics struct {
	// Access outcomes reported through UpdateReplacementState
	hits           atomic.Uint64
	misses         atomic.Uint64
	writebackHits  atomic.Uint64
	fills          atomic.Uint64
	victimRequests atomic.Uint64

	// FindVictim latency (nanoseconds), nil when sampling is disabled
	victimLatency *Histogram

	startTime time.Time
	mu        sync.RWMutex
}

// NewMetrics creates a new metrics tracker. latencySamples <= 0 disables
// latency sampling.
func NewMetrics(latencySamples int) *Metrics {
	m := &Metrics{startTime: time.Now()}
	if latencySamples > 0 {
		m.victimLatency = NewHistogram(latencySamples)
	}
	return m
}

func (m *Metrics) RecordHit(writeback bool) {
	m.hits.Add(1)
	if writeback {
		m.writebackHits.Add(1)
	}
}

func (m *Metrics) RecordMiss() {
	m.misses.Add(1)
}

func (m *Metrics) RecordFill() {
	m.fills.Add(1)
}

// RecordVictim counts a FindVictim call and samples its latency when enabled.
func (m *Metrics) RecordVictim(duration time.Duration) {
	m.victimRequests.Add(1)
	if m.victimLatency != nil {
		m.victimLatency.Record(float64(duration.Nanoseconds()))
	}
}

// LatencyEnabled reports whether FindVictim latency is sampled.
func (m *Metrics) LatencyEnabled() bool {
	return m.victimLatency != nil
}

// Getters

func (m *Metrics) GetHits() uint64 {
	return m.hits.Load()
}

func (m *Metrics) GetMisses() uint64 {
	return m.misses.Load()
}

func (m *Metrics) GetWritebackHits() uint64 {
	return m.writebackHits.Load()
}

func (m *Metrics) GetFills() uint64 {
	return m.fills.Load()
}

func (m *Metrics) GetVictimRequests() uint64 {
	return m.victimRequests.Load()
}

func (m *Metrics) GetHitRate() float64 {
	hits := m.hits.Load()
	total := hits + m.misses.Load()
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}

func (m *Metrics) GetUptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.startTime)
}

// GetVictimLatency returns a snapshot of the FindVictim latency distribution
func (m *Metrics) GetVictimLatency() HistogramSnapshot {
	if m.victimLatency == nil {
		return HistogramSnapshot{}
	}
	return m.victimLatency.Snapshot()
}

// LogMetrics logs all metrics using structured logging
func (m *Metrics) LogMetrics(logger *slog.Logger) {
	victim := m.GetVictimLatency()

	logger.Info("Replacement Engine Metrics",
		slog.Group("accesses",
			slog.Uint64("hits", m.GetHits()),
			slog.Uint64("misses", m.GetMisses()),
			slog.Float64("hit_rate", m.GetHitRate()),
			slog.Uint64("writeback_hits", m.GetWritebackHits()),
			slog.Uint64("fills", m.GetFills()),
			slog.Uint64("victim_requests", m.GetVictimRequests()),
		),
		slog.Group("latency_ns",
			slog.Group("find_victim",
				slog.Int("count", victim.Count),
				slog.Float64("mean", victim.Mean),
				slog.Float64("p50", victim.P50),
				slog.Float64("p95", victim.P95),
				slog.Float64("p99", victim.P99),
			),
		),
		slog.Duration("uptime", m.GetUptime()),
	)
}

// Reset resets all metrics
func (m *Metrics) Reset() {
	m.hits.Store(0)
	m.misses.Store(0)
	m.writebackHits.Store(0)
	m.fills.Store(0)
	m.victimRequests.Store(0)

	if m.victimLatency != nil {
		m.victimLatency.Reset()
	}

	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
}
