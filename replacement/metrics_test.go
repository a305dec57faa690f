package replacement

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// TestHistogramPercentiles tests percentile calculation
func TestHistogramPercentiles(t *testing.T) {
	h := NewHistogram(1000)
	for i := 1; i <= 100; i++ {
		h.Record(float64(i))
	}

	snap := h.Snapshot()
	if snap.Count != 100 {
		t.Errorf("Expected 100 samples, got %d", snap.Count)
	}
	if snap.Min != 1 || snap.Max != 100 {
		t.Errorf("Expected min 1 and max 100, got %g and %g", snap.Min, snap.Max)
	}
	if snap.Mean != 50.5 {
		t.Errorf("Expected mean 50.5, got %g", snap.Mean)
	}
	if snap.P50 != 50.5 {
		t.Errorf("Expected p50 50.5, got %g", snap.P50)
	}
	if snap.P99 < 99 || snap.P99 > 100 {
		t.Errorf("Expected p99 in [99, 100], got %g", snap.P99)
	}
}

// TestHistogramKeepsNewestSamples tests ring overwrite
func TestHistogramKeepsNewestSamples(t *testing.T) {
	h := NewHistogram(10)
	for i := range 25 {
		h.Record(float64(i))
	}

	snap := h.Snapshot()
	if snap.Count != 10 {
		t.Errorf("Expected window of 10, got %d", snap.Count)
	}
	if snap.Min != 15 || snap.Max != 24 {
		t.Errorf("Expected samples 15..24, got %g..%g", snap.Min, snap.Max)
	}

	h.Reset()
	if h.Count() != 0 {
		t.Errorf("Expected empty histogram after reset, got %d", h.Count())
	}
	if snap := h.Snapshot(); snap.Count != 0 || snap.Mean != 0 {
		t.Errorf("Expected zero snapshot, got %+v", snap)
	}
}

// TestMetricsCounters tests counter updates
func TestMetricsCounters(t *testing.T) {
	m := NewMetrics(0)

	m.RecordHit(false)
	m.RecordHit(true)
	m.RecordMiss()
	m.RecordFill()
	m.RecordVictim(time.Microsecond)

	if m.GetHits() != 2 || m.GetWritebackHits() != 1 || m.GetMisses() != 1 {
		t.Errorf("Unexpected access counters: hits=%d writeback=%d misses=%d",
			m.GetHits(), m.GetWritebackHits(), m.GetMisses())
	}
	if rate := m.GetHitRate(); rate < 0.666 || rate > 0.667 {
		t.Errorf("Expected hit rate 2/3, got %g", rate)
	}
	if m.GetFills() != 1 || m.GetVictimRequests() != 1 {
		t.Errorf("Unexpected fill/victim counters: %d/%d", m.GetFills(), m.GetVictimRequests())
	}
	if m.LatencyEnabled() || m.GetVictimLatency().Count != 0 {
		t.Error("Expected latency sampling to be disabled")
	}

	m.Reset()
	if m.GetHits() != 0 || m.GetHitRate() != 0 {
		t.Error("Expected counters to be cleared by reset")
	}
}

// TestMetricsLatencySampling tests latency sampling
func TestMetricsLatencySampling(t *testing.T) {
	m := NewMetrics(4)
	for i := range 6 {
		m.RecordVictim(time.Duration(i+1) * time.Nanosecond)
	}

	lat := m.GetVictimLatency()
	if lat.Count != 4 {
		t.Errorf("Expected 4 retained samples, got %d", lat.Count)
	}
	if lat.Min != 3 || lat.Max != 6 {
		t.Errorf("Expected 3..6ns, got %g..%g", lat.Min, lat.Max)
	}
}

// TestMetricsConcurrentReaders tests concurrent reads during updates
func TestMetricsConcurrentReaders(t *testing.T) {
	m := NewMetrics(100)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 1000 {
			_ = m.GetHitRate()
			_ = m.GetVictimLatency()
		}
	}()
	for range 1000 {
		m.RecordHit(false)
		m.RecordVictim(time.Nanosecond)
	}
	wg.Wait()

	if m.GetHits() != 1000 {
		t.Errorf("Expected 1000 hits, got %d", m.GetHits())
	}
}

// TestLogMetrics tests metrics logging
func TestLogMetrics(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	m := NewMetrics(10)
	m.RecordHit(false)
	m.RecordVictim(5 * time.Nanosecond)
	m.LogMetrics(logger)

	out := buf.String()
	for _, want := range []string{"accesses.hits=1", "latency_ns.find_victim.count=1", "uptime="} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log to contain %q, got %s", want, out)
		}
	}
}
