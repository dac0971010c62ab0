package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"post_worker/pkg/ratelimit"
)

func TestSchedulerRunsUntilCancelled(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	run := func(context.Context) error {
		if calls.Add(1) == 3 {
			cancel()
		}
		return nil
	}

	s := NewScheduler(run, time.Hour, 0, zerolog.Nop())
	s.SetInterval(5 * time.Millisecond)

	done := make(chan int)
	go func() { done <- s.Run(ctx) }()

	select {
	case runs := <-done:
		if runs != 3 || calls.Load() != 3 {
			t.Errorf("runs = %d, calls = %d, want 3", runs, calls.Load())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerSurvivesFailedRuns(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "locked", err: ratelimit.ErrLocked},
		{name: "run error", err: errors.New("generation failed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			ctx, cancel := context.WithCancel(context.Background())
			run := func(context.Context) error {
				if calls.Add(1) == 2 {
					cancel()
				}
				return tt.err
			}

			s := NewScheduler(run, 5*time.Millisecond, 0, zerolog.Nop())
			if runs := s.Run(ctx); runs != 2 {
				t.Errorf("runs = %d, want 2", runs)
			}
		})
	}
}

func TestSchedulerAppliesRunTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var deadline atomic.Bool

	run := func(runCtx context.Context) error {
		_, ok := runCtx.Deadline()
		deadline.Store(ok)
		cancel()
		return nil
	}

	NewScheduler(run, time.Hour, time.Minute, zerolog.Nop()).Run(ctx)
	if !deadline.Load() {
		t.Error("run context should carry the timeout")
	}
}
