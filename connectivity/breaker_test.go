package connectivity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("scholar_enrich", WithBreakerThreshold(3))

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	if cb.State() != BreakerClosed {
		t.Fatal("breaker opened before threshold")
	}
	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatal("breaker did not open at threshold")
	}
	if cb.Allow() {
		t.Fatal("open breaker allowed a call")
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	cb := NewCircuitBreaker("scholar_enrich",
		WithBreakerThreshold(1),
		WithBreakerResetTimeout(10*time.Second),
		WithBreakerHalfOpenMax(2),
		WithBreakerClock(clock),
	)

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatal("expected open")
	}

	now = now.Add(11 * time.Second)
	if cb.State() != BreakerHalfOpen {
		t.Fatal("expected half-open after reset timeout")
	}

	cb.RecordSuccess()
	if cb.State() != BreakerHalfOpen {
		t.Fatal("closed before halfOpenMax successes")
	}
	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Fatal("expected closed after recovery")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker("faculty_discover",
		WithBreakerThreshold(1),
		WithBreakerResetTimeout(time.Second),
		WithBreakerClock(func() time.Time { return now }),
	)

	cb.RecordFailure()
	now = now.Add(2 * time.Second)
	if cb.State() != BreakerHalfOpen {
		t.Fatal("expected half-open")
	}
	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatal("failure in half-open must reopen")
	}
}

func TestWithCircuitBreaker_RejectsWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker("scholar_enrich", WithBreakerThreshold(1))

	calls := 0
	h := WithCircuitBreaker(cb)(func(ctx context.Context, payload []byte) ([]byte, error) {
		calls++
		return nil, errors.New("boom")
	})

	if _, err := h(context.Background(), nil); err == nil {
		t.Fatal("expected first call to fail")
	}
	_, err := h(context.Background(), nil)
	var open *ErrCircuitOpen
	if !errors.As(err, &open) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if open.Service != "scholar_enrich" {
		t.Errorf("service = %q", open.Service)
	}
	if calls != 1 {
		t.Fatalf("handler called %d times, want 1", calls)
	}
}
