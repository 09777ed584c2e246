package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// DefaultBackoff is the per-cycle backoff schedule applied between
// rate-limited attempts.
var DefaultBackoff = []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond, 3 * time.Second}

// DefaultRecoveryDelay separates the two retry cycles once the inner
// schedule is exhausted.
const DefaultRecoveryDelay = 5 * time.Second

// DefaultRetryAfterHint is reported on terminal rate-limit failures when
// the provider gave no hint of its own.
const DefaultRetryAfterHint = 30 * time.Second

// Adapter calls a Provider with bounded retry/backoff on rate-limit
// signals. Non-rate-limit failures are wrapped and surfaced immediately.
type Adapter struct {
	provider Provider
	backoff  []time.Duration
	recovery time.Duration
	logger   *slog.Logger

	// onRetry, when set, observes each rate-limited retry. The engine
	// hooks its retry counter here.
	onRetry func()
}

// AdapterOption customizes an Adapter.
type AdapterOption func(*Adapter)

// WithBackoff overrides the backoff schedule.
func WithBackoff(schedule []time.Duration) AdapterOption {
	return func(a *Adapter) {
		if len(schedule) > 0 {
			a.backoff = schedule
		}
	}
}

// WithRecoveryDelay overrides the delay before the outer recovery cycle.
func WithRecoveryDelay(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.recovery = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithRetryObserver registers a callback invoked on every rate-limited
// retry.
func WithRetryObserver(fn func()) AdapterOption {
	return func(a *Adapter) { a.onRetry = fn }
}

// NewAdapter wraps a provider.
func NewAdapter(provider Provider, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		provider: provider,
		backoff:  DefaultBackoff,
		recovery: DefaultRecoveryDelay,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Generate invokes the provider. Rate-limit failures are retried through
// the backoff schedule, then once more through an outer recovery cycle;
// exhaustion surfaces a terminal *RateLimitError with a retry-after hint.
// Any other failure is wrapped in ErrGeneration without retrying.
func (a *Adapter) Generate(ctx context.Context, prompt string, meta Metadata) (any, error) {
	var lastRate *RateLimitError

	for cycle := 0; cycle < 2; cycle++ {
		if cycle > 0 {
			a.logger.Warn("rate limit persists, entering recovery cycle", "jobId", meta.JobID)
			if err := sleep(ctx, a.recovery); err != nil {
				return nil, err
			}
		}

		// One initial call plus one per backoff step.
		for attempt := 0; attempt <= len(a.backoff); attempt++ {
			raw, err := a.provider.GenerateStructuredOutput(ctx, prompt, meta)
			if err == nil {
				return raw, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !IsRateLimit(err) {
				return nil, wrapGeneration(err)
			}

			if !errors.As(err, &lastRate) {
				lastRate = &RateLimitError{Message: err.Error()}
			}
			if attempt == len(a.backoff) {
				break // schedule exhausted for this cycle
			}
			if a.onRetry != nil {
				a.onRetry()
			}
			delay := a.backoff[attempt]
			if lastRate.RetryAfter > delay {
				delay = lastRate.RetryAfter
			}
			a.logger.Info("rate limited, backing off", "jobId", meta.JobID, "delay", delay)
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	hint := DefaultRetryAfterHint
	if lastRate != nil && lastRate.RetryAfter > 0 {
		hint = lastRate.RetryAfter
	}
	message := "rate limited"
	if lastRate != nil {
		message = lastRate.Message
	}
	return nil, &RateLimitError{Message: message, RetryAfter: hint, Terminal: true}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
