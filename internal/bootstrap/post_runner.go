package bootstrap

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"post_worker/config"
	"post_worker/core/port/out"
	"post_worker/core/service/pipeline"
	"post_worker/pkg/logger"
)

const runLockKey = "post_worker:run"

// Runner executes one invocation of the process.
type Runner struct {
	deps *Dependencies
	zlog zerolog.Logger
}

func NewRunner(ctx context.Context, cfg *config.Config) (*Runner, func(), error) {
	deps, cleanup, err := NewDependencies(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return &Runner{deps: deps, zlog: logger.Named("runner")}, cleanup, nil
}

// Run generates one batch and logs its report. With Redis configured only
// one run at a time proceeds; a concurrent invocation gets
// ratelimit.ErrLocked.
func (r *Runner) Run(ctx context.Context) (*pipeline.RunReport, error) {
	if r.deps.RunLock != nil {
		release, err := r.deps.RunLock.Acquire(ctx, runLockKey, r.deps.Config.RunLockTTL)
		if err != nil {
			r.zlog.Warn().Err(err).Msg("run not started")
			return nil, err
		}
		defer release()
	}

	report, err := r.deps.Driver.Run(ctx)
	if err != nil {
		r.zlog.Error().Err(err).Msg("run failed")
		return report, err
	}

	ev := r.zlog.Info().
		Str("run_id", report.RunID).
		Str("outcome", string(report.Outcome)).
		Str("generation", string(report.Generation)).
		Int("attempts", report.Attempts).
		Bool("degraded", report.Degraded).
		Bool("relaxed", report.Relaxed).
		Int("accepted", report.Accepted).
		Int("target", report.Target).
		Fields(report.ModelCalls.ToMap())
	for _, st := range report.Stages {
		ev = ev.Dur("stage_"+st.Stage, st.Duration)
	}
	ev.Msg("run report")

	if r.deps.Notifier != nil {
		status := out.RunStatus{
			RunID:      report.RunID,
			NodeID:     r.deps.Config.NodeID,
			Outcome:    string(report.Outcome),
			Generation: string(report.Generation),
			Accepted:   report.Accepted,
			Attempts:   report.Attempts,
			QueuePath:  report.QueuePath,
			FinishedAt: time.Now(),
		}
		if err := r.deps.Notifier.SetRunStatus(ctx, status); err != nil {
			r.zlog.Warn().Err(err).Msg("run status not stored")
		}
	}
	return report, nil
}

// HealHistory only repairs history categories.
func (r *Runner) HealHistory(ctx context.Context) (int, error) {
	return r.deps.Driver.HealHistory(ctx)
}
