// Package metrics records per-run stage timings and model call latencies.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// StageTiming is the wall time of one pipeline stage.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// RunMetrics collects timings for a single run. Stages are kept in the order
// they finished; a stage that runs twice is summed.
type RunMetrics struct {
	mu     sync.Mutex
	stages []StageTiming
	index  map[string]int
	calls  []time.Duration
	now    func() time.Time
}

func NewRunMetrics() *RunMetrics {
	return &RunMetrics{index: make(map[string]int), now: time.Now}
}

// Stage starts timing name and returns the function that stops it.
func (m *RunMetrics) Stage(name string) func() {
	start := m.now()
	return func() {
		m.add(name, m.now().Sub(start))
	}
}

func (m *RunMetrics) add(name string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i, ok := m.index[name]; ok {
		m.stages[i].Duration += d
		return
	}
	m.index[name] = len(m.stages)
	m.stages = append(m.stages, StageTiming{Stage: name, Duration: d})
}

// RecordCall records the latency of one external model call.
func (m *RunMetrics) RecordCall(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, d)
}

// Stages returns a copy of the recorded stage timings.
func (m *RunMetrics) Stages() []StageTiming {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StageTiming(nil), m.stages...)
}

// CallStats summarizes the recorded call latencies.
func (m *RunMetrics) CallStats() LatencyStats {
	m.mu.Lock()
	samples := append([]time.Duration(nil), m.calls...)
	m.mu.Unlock()

	if len(samples) == 0 {
		return LatencyStats{}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	n := len(samples)
	return LatencyStats{
		Count: n,
		Min:   samples[0],
		Max:   samples[n-1],
		Avg:   sum / time.Duration(n),
		P50:   percentile(samples, 0.50),
		P95:   percentile(samples, 0.95),
	}
}

// percentile expects sorted samples.
func percentile(samples []time.Duration, p float64) time.Duration {
	idx := int(float64(len(samples)-1) * p)
	return samples[idx]
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count int           `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
}

func (s LatencyStats) ToMap() map[string]any {
	return map[string]any{
		"count":  s.Count,
		"min_ms": float64(s.Min.Microseconds()) / 1000,
		"max_ms": float64(s.Max.Microseconds()) / 1000,
		"avg_ms": float64(s.Avg.Microseconds()) / 1000,
		"p50_ms": float64(s.P50.Microseconds()) / 1000,
		"p95_ms": float64(s.P95.Microseconds()) / 1000,
	}
}
