package payment

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func testPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       4,
		InitialDelay:      10 * time.Millisecond,
		MaxDelay:          80 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestDelayBounded(t *testing.T) {
	policy := testPolicy()
	ceiling := time.Duration(float64(policy.MaxDelay) * 1.25)
	for attempt := 0; attempt < 12; attempt++ {
		for i := 0; i < 50; i++ {
			d := policy.Delay(attempt)
			if d < 0 {
				t.Fatalf("negative delay %v at attempt %d", d, attempt)
			}
			if d > ceiling {
				t.Fatalf("delay %v exceeds max*1.25 %v at attempt %d", d, ceiling, attempt)
			}
		}
	}
}

func TestDelayGrowsInExpectation(t *testing.T) {
	policy := testPolicy()
	mean := func(attempt int) time.Duration {
		var total time.Duration
		const samples = 200
		for i := 0; i < samples; i++ {
			total += policy.Delay(attempt)
		}
		return total / samples
	}
	if mean(0) >= mean(2) {
		t.Fatalf("expected mean delay to grow across attempts")
	}
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), testPolicy(), IsRetryable, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return NewError(CodeProviderError, "transient", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestWithRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), testPolicy(), IsRetryable, func(ctx context.Context) error {
		calls++
		return ValidationError("bad input")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("validation errors must not be retried, got %d calls", calls)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	sentinel := NewError(CodeProviderError, "still down", nil)
	err := WithRetry(context.Background(), testPolicy(), IsRetryable, func(ctx context.Context) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected MaxAttempts calls, got %d", calls)
	}
}

func TestWithRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := WithRetry(ctx, testPolicy(), IsRetryable, func(ctx context.Context) error {
		calls++
		cancel()
		return NewError(CodeProviderError, "down", nil)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call before cancellation, got %d", calls)
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(ValidationError("nope")) {
		t.Fatalf("validation errors must not be retryable")
	}
	if !IsRetryable(NewError(CodeProviderError, "down", nil)) {
		t.Fatalf("provider errors must be retryable")
	}
	if IsRetryable(context.DeadlineExceeded) {
		t.Fatalf("deadline exceeded must not be retried")
	}
	if !IsRetryable(errors.New("connection reset")) {
		t.Fatalf("unknown network-ish errors default to retryable")
	}
	if !IsRetryable(&net.OpError{Op: "dial", Err: errors.New("connection refused")}) {
		t.Fatalf("network errors must be retryable")
	}
}
