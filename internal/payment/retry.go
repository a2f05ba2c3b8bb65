package payment

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures exponential backoff with jitter for fallible calls.
type RetryPolicy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryPolicy returns the policy used for facilitator calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      250 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Delay computes the backoff before retrying the given zero-based attempt:
// min(initial * multiplier^attempt, max) with +/-25% uniform jitter, floored
// at zero.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 2.0
	}
	base := float64(p.InitialDelay) * math.Pow(mult, float64(attempt))
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && base > max {
		base = max
	}
	jitter := base * 0.25 * (rand.Float64()*2 - 1)
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// WithRetry runs op, retrying per policy while shouldRetry accepts the error.
// Non-retryable errors return immediately; after MaxAttempts the last error is
// returned. The delay between attempts is cooperative and context-aware; no
// background work is spawned.
func WithRetry(ctx context.Context, policy RetryPolicy, shouldRetry func(error) bool, op func(ctx context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(policy.Delay(attempt - 1)):
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
