package errors

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryConfig describes a bounded exponential backoff.
type RetryConfig struct {
	// MaxAttempts counts the first call. Values below 1 mean one attempt.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Multiplier grows the backoff after each failed attempt.
	Multiplier float64
	// Jitter spreads each backoff by up to ±Jitter of its length.
	Jitter float64

	// ShouldRetry replaces IsRetryable when set.
	ShouldRetry func(error) bool
}

// DefaultRetry retries transient failures three times over a few seconds.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: time.Second,
	MaxBackoff:     30 * time.Second,
	Multiplier:     2,
	Jitter:         0.1,
}

// NoRetry makes exactly one attempt.
var NoRetry = RetryConfig{MaxAttempts: 1}

// RetryResult is the outcome of WithRetryContext.
type RetryResult[T any] struct {
	Value    T
	Err      error
	Attempts int
	Duration time.Duration
}

// delay returns the backoff before attempt n+1, n starting at 1.
func (c RetryConfig) delay(n int) time.Duration {
	d := float64(c.InitialBackoff)
	for range n - 1 {
		d *= max(c.Multiplier, 1)
	}
	if c.MaxBackoff > 0 {
		d = min(d, float64(c.MaxBackoff))
	}
	if c.Jitter > 0 {
		d += d * c.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}

// WithRetryContext calls fn until it succeeds, fails with an error
// ShouldRetry rejects, or MaxAttempts is used up. Errors are returned as
// *CategorizedError. A done ctx stops both attempts and backoff sleeps.
func WithRetryContext[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) RetryResult[T] {
	start := time.Now()
	retryable := cfg.ShouldRetry
	if retryable == nil {
		retryable = IsRetryable
	}
	attempts := max(cfg.MaxAttempts, 1)

	res := RetryResult[T]{}
	finish := func(err error, category Category, op string) RetryResult[T] {
		res.Err = &CategorizedError{Err: err, Category: category, Context: op, Retries: res.Attempts}
		res.Duration = time.Since(start)
		return res
	}

	for {
		if err := ctx.Err(); err != nil {
			return finish(err, CategoryPermanent, "cancelled")
		}

		res.Attempts++
		v, err := fn(ctx)
		if err == nil {
			res.Value = v
			res.Duration = time.Since(start)
			return res
		}
		if !retryable(err) {
			return finish(err, Categorize(err), "")
		}
		if res.Attempts >= attempts {
			return finish(err, Categorize(err), fmt.Sprintf("gave up after %d attempts", res.Attempts))
		}

		timer := time.NewTimer(cfg.delay(res.Attempts))
		select {
		case <-ctx.Done():
			timer.Stop()
			return finish(ctx.Err(), CategoryPermanent, "cancelled during backoff")
		case <-timer.C:
		}
	}
}
