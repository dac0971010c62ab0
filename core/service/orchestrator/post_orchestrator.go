// Package orchestrator drives generation attempts through a retry state
// machine: rate limits back off, oversized requests shrink, transport errors
// back off longer, malformed output gets one repair attempt, and an
// exhausted run gets one last minimal attempt.
package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"post_worker/core/domain"
	"post_worker/pkg/apperr"
)

// Outcome classifies one attempt.
type Outcome string

const (
	OutcomeSuccess     Outcome = "SUCCESS"
	OutcomeRateLimited Outcome = "RATE_LIMITED"
	OutcomeOversized   Outcome = "OVERSIZED"
	OutcomeTransport   Outcome = "TRANSPORT_ERROR"
	OutcomeMalformed   Outcome = "MALFORMED_OUTPUT"
	OutcomeFatal       Outcome = "FATAL"
)

// Classify maps an attempt error to its outcome by error code.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	switch apperr.CodeOf(err) {
	case apperr.CodeRateLimited:
		return OutcomeRateLimited
	case apperr.CodeOversizedRequest:
		return OutcomeOversized
	case apperr.CodeTransportError:
		return OutcomeTransport
	case apperr.CodeNoStructuredData, apperr.CodeMalformedResponse:
		return OutcomeMalformed
	}
	return OutcomeFatal
}

// Attempt performs one generation attempt with the given request shape.
type Attempt func(ctx context.Context, v domain.Variant) ([]domain.Candidate, error)

// EventLog receives one line per retry decision.
type EventLog interface {
	Event(format string, args ...any)
}

type Config struct {
	MaxRateLimitRetries int
	MaxTransportRetries int
	BaseDelay           time.Duration
	TransportDelay      time.Duration
	MaxDelay            time.Duration
	// Jitter is added to every computed delay.
	Jitter time.Duration
	// FailFast skips the degraded minimal attempt.
	FailFast bool
}

func DefaultConfig() Config {
	return Config{
		MaxRateLimitRetries: 3,
		MaxTransportRetries: 2,
		BaseDelay:           time.Second,
		TransportDelay:      2 * time.Second,
		MaxDelay:            time.Minute,
		Jitter:              250 * time.Millisecond,
	}
}

// Result is the end state of a run of attempts.
type Result struct {
	Outcome    Outcome
	Candidates []domain.Candidate
	Variant    domain.Variant
	Attempts   int
	Degraded   bool
	Err        error
}

// Succeeded reports whether candidates were produced.
func (r Result) Succeeded() bool { return r.Outcome == OutcomeSuccess }

type Orchestrator struct {
	cfg    Config
	events EventLog
	log    zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, events EventLog, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{cfg: cfg, events: events, log: log, sleep: sleepContext}
}

// WithSleep replaces the backoff sleep. Used by tests.
func (o *Orchestrator) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Orchestrator {
	o.sleep = fn
	return o
}

// Run executes attempts starting from initial until one succeeds or the
// retry budget is spent. It never returns an error; a failed run is reported
// through the outcome.
func (o *Orchestrator) Run(ctx context.Context, initial domain.Variant, attempt Attempt) Result {
	var (
		variant        = initial
		attempts       int
		rateRetries    int
		transRetries   int
		repaired       bool
		pendingBackoff time.Duration
	)

	for {
		attempts++
		cands, err := attempt(ctx, variant)
		outcome := Classify(err)
		o.record(attempts, variant, outcome, err)

		var exhausted bool
		switch outcome {
		case OutcomeSuccess:
			return Result{Outcome: outcome, Candidates: cands, Variant: variant, Attempts: attempts}

		case OutcomeRateLimited:
			delay, hinted := o.rateLimitDelay(err, rateRetries+1)
			if rateRetries >= o.cfg.MaxRateLimitRetries {
				pendingBackoff = delay
				exhausted = true
				break
			}
			rateRetries++
			o.event("rate limited, retry %d/%d in %s (server hint: %t)", rateRetries, o.cfg.MaxRateLimitRetries, delay, hinted)
			if err := o.sleep(ctx, delay); err != nil {
				return Result{Outcome: OutcomeFatal, Variant: variant, Attempts: attempts, Err: err}
			}

		case OutcomeOversized:
			next, ok := variant.Shrink()
			if !ok {
				exhausted = true
				break
			}
			o.event("request oversized, shrinking to recent=%d count=%d", next.RecentItems, next.Count)
			variant = next

		case OutcomeTransport:
			if transRetries >= o.cfg.MaxTransportRetries {
				exhausted = true
				break
			}
			transRetries++
			delay := o.transportDelay(transRetries)
			o.event("transport error, retry %d/%d in %s: %v", transRetries, o.cfg.MaxTransportRetries, delay, err)
			if err := o.sleep(ctx, delay); err != nil {
				return Result{Outcome: OutcomeFatal, Variant: variant, Attempts: attempts, Err: err}
			}

		case OutcomeMalformed:
			if repaired {
				exhausted = true
				break
			}
			repaired = true
			variant = variant.Repair()
			o.event("malformed output, one repair attempt without review")

		default:
			o.event("fatal error, giving up: %v", err)
			return Result{Outcome: OutcomeFatal, Variant: variant, Attempts: attempts, Err: err}
		}

		if exhausted {
			return o.degrade(ctx, attempt, variant, attempts, outcome, err, pendingBackoff)
		}
	}
}

// degrade makes the single minimal attempt after ordinary attempts ran out.
func (o *Orchestrator) degrade(ctx context.Context, attempt Attempt, last domain.Variant, attempts int,
	outcome Outcome, lastErr error, backoff time.Duration) Result {
	failed := Result{Outcome: outcome, Variant: last, Attempts: attempts, Err: lastErr}
	if o.cfg.FailFast {
		o.event("retries exhausted (%s), fail fast set", outcome)
		return failed
	}
	if last.Name == domain.VariantMinimal {
		return failed
	}

	if backoff > 0 {
		o.event("retries exhausted (%s), waiting %s before minimal attempt", outcome, backoff)
		if err := o.sleep(ctx, backoff); err != nil {
			failed.Err = err
			return failed
		}
	} else {
		o.event("retries exhausted (%s), minimal attempt", outcome)
	}

	minimal := domain.Minimal()
	attempts++
	cands, err := attempt(ctx, minimal)
	final := Classify(err)
	o.record(attempts, minimal, final, err)

	res := Result{Outcome: final, Candidates: cands, Variant: minimal, Attempts: attempts, Degraded: true, Err: err}
	if final != OutcomeSuccess {
		o.event("minimal attempt failed (%s), no output this run", final)
		res.Candidates = nil
	}
	return res
}

func (o *Orchestrator) rateLimitDelay(err error, retry int) (time.Duration, bool) {
	if d, ok := ParseRetryAfter(err.Error()); ok {
		return o.clamp(d) + o.cfg.Jitter, true
	}
	return o.clamp(exponential(o.cfg.BaseDelay, 2, retry)) + o.cfg.Jitter, false
}

// transportDelay grows by a factor of three per retry.
func (o *Orchestrator) transportDelay(retry int) time.Duration {
	return o.clamp(exponential(o.cfg.TransportDelay, 3, retry)) + o.cfg.Jitter
}

func (o *Orchestrator) clamp(d time.Duration) time.Duration {
	if o.cfg.MaxDelay > 0 && d > o.cfg.MaxDelay {
		return o.cfg.MaxDelay
	}
	return d
}

// exponential returns base * factor^(retry-1).
func exponential(base time.Duration, factor, retry int) time.Duration {
	d := base
	for i := 1; i < retry; i++ {
		d *= time.Duration(factor)
		if d <= 0 || d > time.Hour {
			return time.Hour
		}
	}
	return d
}

func (o *Orchestrator) record(n int, v domain.Variant, outcome Outcome, err error) {
	ev := o.log.Info()
	if outcome != OutcomeSuccess {
		ev = o.log.Warn().Err(err)
	}
	ev.Int("attempt", n).
		Str("variant", v.Name).
		Int("count", v.Count).
		Int("recent_items", v.RecentItems).
		Bool("review", v.Review).
		Str("outcome", string(outcome)).
		Msg("generation attempt")
	o.event("attempt %d variant=%s count=%d recent=%d outcome=%s", n, v.Name, v.Count, v.RecentItems, outcome)
}

func (o *Orchestrator) event(format string, args ...any) {
	if o.events != nil {
		o.events.Event(format, args...)
	}
}

var retryAfterPattern = regexp.MustCompile(
	`(?i)(?:retry|try again)\s+(?:in|after)\s+(\d+(?:\.\d+)?)\s*(ms|msec|milliseconds?|s|sec|secs|seconds?)\b`)

// ParseRetryAfter reads a server suggested wait such as "retry in 1500 ms"
// or "try again in 1.5s".
func ParseRetryAfter(msg string) (time.Duration, bool) {
	m := retryAfterPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil || value < 0 {
		return 0, false
	}
	unit := time.Second
	if strings.HasPrefix(strings.ToLower(m[2]), "m") {
		unit = time.Millisecond
	}
	return time.Duration(value * float64(unit)), true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}
