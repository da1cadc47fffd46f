package backoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrRetriesExhausted is returned by Retrier.Do when every attempt failed.
// The last attempt's error is wrapped alongside it.
var ErrRetriesExhausted = errors.New("backoff: retries exhausted")

// Clock abstracts time operations for testing.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

// realClock uses the actual system time.
type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Retrier runs an operation with bounded, backed-off retries.
type Retrier struct {
	backoff *Backoff
	clock   Clock
	logger  *slog.Logger
}

// NewRetrier creates a Retrier for the given policy.
func NewRetrier(p Policy, logger *slog.Logger) *Retrier {
	return &Retrier{
		backoff: New(p),
		clock:   realClock{},
		logger:  logger,
	}
}

// SetClock sets a custom clock implementation for testing.
func (r *Retrier) SetClock(c Clock) {
	r.clock = c
}

// SetJitter replaces the jitter source of the underlying Backoff.
func (r *Retrier) SetJitter(fn JitterFunc) {
	r.backoff.SetJitter(fn)
}

// Do calls fn until it succeeds, the retry budget is spent or ctx is done.
//
// The retry state (attempts remaining, current delay) lives only for the
// duration of the call. After a failure with attempts remaining, the delay is
// advanced with Backoff.Next before waiting, so the first wait is derived from
// InitialDelay. The wait suspends only the calling goroutine.
func (r *Retrier) Do(ctx context.Context, action string, fn func(ctx context.Context) error) error {
	policy := r.backoff.Policy()
	remaining := policy.MaxAttempts
	delay := policy.InitialDelay

	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if remaining <= 0 {
			r.logger.Error("all retries exhausted",
				"action", action,
				"error", err,
			)
			return fmt.Errorf("%w: %s: %w", ErrRetriesExhausted, action, err)
		}

		remaining--
		delay = r.backoff.Next(delay)
		r.logger.Warn("action failed, retrying",
			"action", action,
			"error", err,
			"delay", delay,
			"attempts_remaining", remaining,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(delay):
		}
	}
}
