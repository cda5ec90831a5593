package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hearthai/hearth/core"
)

func fastRetryConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(3), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("flaky: %w", core.ErrConnectionFailed)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(3), func() error {
		calls++
		return fmt.Errorf("still down: %w", core.ErrTimeout)
	})
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if !errors.Is(err, core.ErrMaxRetriesExceeded) {
		t.Fatalf("got %v, want ErrMaxRetriesExceeded", err)
	}
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(5), func() error {
		calls++
		return fmt.Errorf("trust rejected: %w", core.ErrActionNotAllowed)
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (non-retryable errors stop the loop)", calls)
	}
	if !errors.Is(err, core.ErrActionNotAllowed) {
		t.Fatalf("got %v, want ErrActionNotAllowed", err)
	}
	if errors.Is(err, core.ErrMaxRetriesExceeded) {
		t.Fatal("non-retryable error should not be wrapped as retries-exceeded")
	}
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := &RetryConfig{
		MaxAttempts:   10,
		InitialDelay:  time.Hour,
		MaxDelay:      time.Hour,
		BackoffFactor: 1.0,
	}

	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, cfg, func() error {
			calls++
			return fmt.Errorf("down: %w", core.ErrConnectionFailed)
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("got %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Retry did not return after cancellation")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryNilConfigUsesDefaults(t *testing.T) {
	err := Retry(context.Background(), nil, func() error { return nil })
	if err != nil {
		t.Fatalf("Retry with nil config: %v", err)
	}
}

func TestRetryWithCircuitBreakerOpenShortCircuits(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		Name:             "phi4",
		FailureThreshold: 1,
	})
	cb.RecordFailure() // opens

	calls := 0
	err := RetryWithCircuitBreaker(context.Background(), fastRetryConfig(5), cb, func() error {
		calls++
		return nil
	})
	if calls != 0 {
		t.Fatal("fn invoked while breaker open")
	}
	// ErrCircuitBreakerOpen is not classified as retryable, so the loop
	// stops on the first rejection instead of hammering the open breaker.
	if !errors.Is(err, core.ErrCircuitBreakerOpen) {
		t.Fatalf("got %v, want ErrCircuitBreakerOpen", err)
	}
}

func TestRetryWithCircuitBreakerRecordsOutcomes(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		Name:             "websearch",
		FailureThreshold: 10,
	})

	calls := 0
	err := RetryWithCircuitBreaker(context.Background(), fastRetryConfig(3), cb, func() error {
		calls++
		if calls < 2 {
			return fmt.Errorf("blip: %w", core.ErrTransportFailed)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RetryWithCircuitBreaker: %v", err)
	}

	m := cb.GetMetrics()
	if m["total_failures"].(int64) != 1 {
		t.Fatalf("total_failures = %v, want 1", m["total_failures"])
	}
	if m["total_successes"].(int64) != 1 {
		t.Fatalf("total_successes = %v, want 1", m["total_successes"])
	}
	if m["state"] != "closed" {
		t.Fatalf("state = %v, want closed", m["state"])
	}
}
