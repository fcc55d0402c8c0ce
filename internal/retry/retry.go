// Package retry runs an operation a bounded number of times with a fixed
// delay between attempts.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy controls how Do retries.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first. Values
	// below 1 are treated as 1.
	MaxAttempts int

	// Delay is the fixed pause between attempts.
	Delay time.Duration

	// Retryable decides whether err warrants another attempt. Nil retries
	// every error except context cancellation.
	Retryable func(err error) bool

	// OnRetry runs after a failed attempt and before the delay, with the
	// 1-based number of the attempt that failed. An error from OnRetry is
	// not fatal; the next attempt still runs.
	OnRetry func(ctx context.Context, attempt int, err error) error
}

// Default is three attempts one second apart.
func Default() Policy {
	return Policy{MaxAttempts: 3, Delay: time.Second}
}

// Do calls op until it succeeds, returns a non-retryable error, or the policy
// runs out of attempts. The error from the last attempt is returned unchanged.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if attempt == attempts || !p.retryable(err) {
			return err
		}
		if p.OnRetry != nil {
			_ = p.OnRetry(ctx, attempt, err)
		}
		if waitErr := waitWithContext(ctx, p.Delay); waitErr != nil {
			return err
		}
	}
	return err
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
