// Package retry re-runs an operation with backoff until it succeeds, the
// attempts run out or the context ends.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPermanent marks an error that must not be retried
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so Do stops immediately
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

type config struct {
	maxAttempts int
	backoff     Backoff
	onRetry     func(attempt int, err error)
}

// Option configures Do
type Option func(*config)

// MaxAttempts sets the total number of attempts (default 3)
func MaxAttempts(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff sets the delay strategy
func WithBackoff(b Backoff) Option {
	return func(c *config) {
		if b != nil {
			c.backoff = b
		}
	}
}

// OnRetry is called before each retry with the failed attempt number
func OnRetry(f func(attempt int, err error)) Option {
	return func(c *config) { c.onRetry = f }
}

// Error is returned when every attempt failed
type Error struct {
	Attempts int
	Last     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *Error) Unwrap() error { return e.Last }

// Do runs op until it returns nil
func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	cfg := &config{maxAttempts: 3, backoff: DefaultBackoff()}
	for _, opt := range opts {
		opt(cfg)
	}

	var last error
	for attempt := 1; attempt <= cfg.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return &Error{Attempts: attempt - 1, Last: last}
			}
			return err
		}
		last = op(ctx)
		if last == nil {
			return nil
		}
		if errors.Is(last, ErrPermanent) || attempt == cfg.maxAttempts {
			return &Error{Attempts: attempt, Last: last}
		}
		if cfg.onRetry != nil {
			cfg.onRetry(attempt, last)
		}

		timer := time.NewTimer(cfg.backoff.Next(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return &Error{Attempts: attempt, Last: last}
		case <-timer.C:
		}
	}
	return &Error{Attempts: cfg.maxAttempts, Last: last}
}
