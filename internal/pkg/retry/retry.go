// Package retry provides a bounded retry combinator with pluggable backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is returned when every attempt failed.
var ErrExhausted = errors.New("retry budget exhausted")

// BackoffFunc returns the wait before the next attempt, given the attempt that just failed (1-based).
type BackoffFunc func(attempt int) time.Duration

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	Backoff     BackoffFunc
	// Notify is called before each wait.
	Notify func(attempt int, wait time.Duration, err error)
}

// Operation is a single attempt. Return Permanent(err) to stop retrying.
type Operation func(ctx context.Context, attempt int) error

// Do runs op until it succeeds, returns a permanent error, the context is done,
// or MaxAttempts attempts have failed. Exhaustion wraps both ErrExhausted and the last error.
func Do(ctx context.Context, policy Policy, op Operation) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	fn := policy.Backoff
	if fn == nil {
		fn = Linear(0)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&attemptBackOff{fn: fn}, uint64(attempts-1)),
		ctx,
	)

	var attempt int
	var stopped bool
	err := backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx, attempt)
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			stopped = true
		}
		return err
	}, b, func(err error, wait time.Duration) {
		if policy.Notify != nil {
			policy.Notify(attempt, wait, err)
		}
	})

	if err == nil {
		return nil
	}
	if stopped {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Linear waits step × attempt.
func Linear(step time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return step * time.Duration(attempt)
	}
}

// Exponential doubles base on every attempt, capped at limit.
func Exponential(base, limit time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		wait := base
		for i := 1; i < attempt; i++ {
			wait *= 2
			if wait >= limit {
				return limit
			}
		}
		if wait > limit {
			return limit
		}
		return wait
	}
}

// attemptBackOff adapts a BackoffFunc to backoff.BackOff.
type attemptBackOff struct {
	fn      BackoffFunc
	attempt int
}

func (b *attemptBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.fn(b.attempt)
}

func (b *attemptBackOff) Reset() {
	b.attempt = 0
}
