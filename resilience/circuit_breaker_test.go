package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hearthai/hearth/core"
)

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		Name:             "phi4",
		FailureThreshold: 3,
	})

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	if got := cb.GetState(); got != "closed" {
		t.Fatalf("state after 2 failures = %q, want closed", got)
	}

	cb.RecordFailure()
	if got := cb.GetState(); got != "open" {
		t.Fatalf("state after 3 failures = %q, want open", got)
	}
	if cb.CanExecute() {
		t.Fatal("open breaker allowed execution before recovery timeout")
	}
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		Name:             "phi4",
		FailureThreshold: 3,
	})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if got := cb.GetState(); got != "closed" {
		t.Fatalf("state = %q, want closed (failures are consecutive, not cumulative)", got)
	}
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		Name:             "websearch",
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Millisecond,
	})

	cb.RecordFailure()
	if got := cb.GetState(); got != "open" {
		t.Fatalf("state = %q, want open", got)
	}

	time.Sleep(20 * time.Millisecond)

	// First caller after the recovery timeout gets the probe slot.
	if !cb.CanExecute() {
		t.Fatal("probe request rejected after recovery timeout")
	}
	if got := cb.GetState(); got != "half-open" {
		t.Fatalf("state = %q, want half-open", got)
	}

	// With HalfOpenMaxRequests defaulting to 1, a second caller is rejected
	// while the probe is in flight.
	if cb.CanExecute() {
		t.Fatal("second request allowed while probe in flight")
	}

	cb.RecordSuccess()
	if got := cb.GetState(); got != "closed" {
		t.Fatalf("state after successful probe = %q, want closed", got)
	}
	if !cb.CanExecute() {
		t.Fatal("closed breaker rejected execution")
	}
}

func TestCircuitBreakerProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		Name:             "websearch",
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Millisecond,
	})

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if !cb.CanExecute() {
		t.Fatal("probe request rejected")
	}
	cb.RecordFailure()

	if got := cb.GetState(); got != "open" {
		t.Fatalf("state after failed probe = %q, want open", got)
	}
	if cb.CanExecute() {
		t.Fatal("breaker allowed execution immediately after failed probe")
	}
}

func TestCircuitBreakerExecute(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		Name:             "memory",
		FailureThreshold: 2,
	})
	boom := errors.New("boom")

	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("Execute success: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := cb.Execute(context.Background(), func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("Execute failure %d: got %v, want boom", i, err)
		}
	}

	calls := 0
	err := cb.Execute(context.Background(), func() error { calls++; return nil })
	if !errors.Is(err, core.ErrCircuitBreakerOpen) {
		t.Fatalf("Execute with open breaker: got %v, want ErrCircuitBreakerOpen", err)
	}
	if calls != 0 {
		t.Fatal("fn invoked while breaker open")
	}
}

func TestCircuitBreakerExecuteCancelledContext(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("phi4"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func() error {
		t.Fatal("fn invoked with cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestCircuitBreakerMetrics(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		Name:             "conversation",
		FailureThreshold: 2,
	})

	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure() // opens
	cb.CanExecute()    // rejected

	m := cb.GetMetrics()
	if m["name"] != "conversation" {
		t.Fatalf("name = %v", m["name"])
	}
	if m["state"] != "open" {
		t.Fatalf("state = %v, want open", m["state"])
	}
	if m["total_successes"].(int64) != 1 {
		t.Fatalf("total_successes = %v", m["total_successes"])
	}
	if m["total_failures"].(int64) != 2 {
		t.Fatalf("total_failures = %v", m["total_failures"])
	}
	if m["total_rejections"].(int64) != 1 {
		t.Fatalf("total_rejections = %v", m["total_rejections"])
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		Name:             "phi4",
		FailureThreshold: 1,
	})

	cb.RecordFailure()
	if got := cb.GetState(); got != "open" {
		t.Fatalf("state = %q, want open", got)
	}

	cb.Reset()
	if got := cb.GetState(); got != "closed" {
		t.Fatalf("state after reset = %q, want closed", got)
	}
	if !cb.CanExecute() {
		t.Fatal("reset breaker rejected execution")
	}
}

func TestCircuitBreakerConfigDefaults(t *testing.T) {
	cb := NewCircuitBreaker(nil)
	if cb.config.FailureThreshold != 5 {
		t.Fatalf("FailureThreshold = %d, want 5", cb.config.FailureThreshold)
	}
	if cb.config.RecoveryTimeout != 30*time.Second {
		t.Fatalf("RecoveryTimeout = %v, want 30s", cb.config.RecoveryTimeout)
	}
	if cb.config.HalfOpenMaxRequests != 1 {
		t.Fatalf("HalfOpenMaxRequests = %d, want 1", cb.config.HalfOpenMaxRequests)
	}

	cb = NewCircuitBreaker(&CircuitBreakerConfig{Name: "x", FailureThreshold: -1})
	if cb.config.FailureThreshold != 5 {
		t.Fatalf("negative FailureThreshold not corrected: %d", cb.config.FailureThreshold)
	}
}
