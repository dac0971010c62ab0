package metrics

import (
	"testing"
	"time"
)

func TestStageTimings(t *testing.T) {
	m := NewRunMetrics()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	stop := m.Stage("filter")
	clock = clock.Add(30 * time.Millisecond)
	stop()

	stop = m.Stage("dedup")
	clock = clock.Add(10 * time.Millisecond)
	stop()

	stop = m.Stage("filter")
	clock = clock.Add(5 * time.Millisecond)
	stop()

	got := m.Stages()
	if len(got) != 2 {
		t.Fatalf("got %d stages, want 2: %+v", len(got), got)
	}
	if got[0].Stage != "filter" || got[0].Duration != 35*time.Millisecond {
		t.Errorf("first stage = %+v", got[0])
	}
	if got[1].Stage != "dedup" || got[1].Duration != 10*time.Millisecond {
		t.Errorf("second stage = %+v", got[1])
	}
}

func TestCallStats(t *testing.T) {
	m := NewRunMetrics()
	if s := m.CallStats(); s.Count != 0 {
		t.Errorf("empty stats = %+v", s)
	}

	for _, ms := range []int{40, 10, 30, 20} {
		m.RecordCall(time.Duration(ms) * time.Millisecond)
	}
	s := m.CallStats()
	if s.Count != 4 || s.Min != 10*time.Millisecond || s.Max != 40*time.Millisecond {
		t.Errorf("stats = %+v", s)
	}
	if s.Avg != 25*time.Millisecond {
		t.Errorf("avg = %v, want 25ms", s.Avg)
	}
	if s.P50 != 20*time.Millisecond {
		t.Errorf("p50 = %v, want 20ms", s.P50)
	}
	if got := s.ToMap()["max_ms"]; got != 40.0 {
		t.Errorf("max_ms = %v", got)
	}
}
