// Package worker drives pipeline runs on a fixed interval.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"post_worker/pkg/ratelimit"
)

// RunFunc performs one pipeline run.
type RunFunc func(ctx context.Context) error

// Scheduler calls a RunFunc once at start and then on every tick until its
// context ends. A tick that fires while a run is still going is dropped.
type Scheduler struct {
	run      RunFunc
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger
}

func NewScheduler(run RunFunc, interval, timeout time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{run: run, interval: interval, timeout: timeout, log: log}
}

// SetInterval sets the tick interval (for testing).
func (s *Scheduler) SetInterval(interval time.Duration) {
	s.interval = interval
}

// Run blocks until ctx is cancelled and returns the number of runs started.
func (s *Scheduler) Run(ctx context.Context) int {
	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")

	runs := 0
	s.once(ctx)
	runs++

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case <-ticker.C:
			s.once(ctx)
			runs++
		}
	}
	s.log.Info().Int("runs", runs).Msg("scheduler stopped")
	return runs
}

func (s *Scheduler) once(ctx context.Context) {
	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	err := s.run(runCtx)
	switch {
	case err == nil:
	case errors.Is(err, ratelimit.ErrLocked):
		s.log.Info().Msg("another run holds the lock, skipping tick")
	case ctx.Err() != nil:
		// shutdown
	default:
		s.log.Error().Err(err).Msg("scheduled run failed")
	}
}
