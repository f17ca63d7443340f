package infra

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Hour})

	boom := errors.New("provider unavailable")
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	if cb.State() != CircuitClosed {
		t.Fatalf("state after 1 failure = %s, want closed", cb.State())
	}

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	if cb.State() != CircuitOpen {
		t.Fatalf("state after 2 failures = %s, want open", cb.State())
	}

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		t.Fatal("fn should not run while circuit is open")
		return nil
	})
	if err != ErrCircuitOpen {
		t.Fatalf("got %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Millisecond})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("fail") })
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	time.Sleep(15 * time.Millisecond)

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("state after 1 half-open success = %s, want half-open", cb.State())
	}

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	if cb.State() != CircuitClosed {
		t.Fatalf("state after 2nd half-open success = %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Timeout: 10 * time.Millisecond})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("fail") })
	time.Sleep(15 * time.Millisecond)

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("still failing") })
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %s, want open after half-open probe fails", cb.State())
	}
}

func TestCircuitBreakerRegistry_IsolatesProviders(t *testing.T) {
	reg := NewCircuitBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Hour})

	_ = reg.Get("anthropic").Execute(context.Background(), func(ctx context.Context) error { return errors.New("down") })

	if reg.Get("anthropic").State() != CircuitOpen {
		t.Fatalf("anthropic breaker should be open")
	}
	if reg.Get("openai").State() != CircuitClosed {
		t.Fatalf("openai breaker should be unaffected by anthropic's failures")
	}

	open := reg.OpenCircuits()
	if len(open) != 1 || open[0] != "anthropic" {
		t.Fatalf("OpenCircuits = %v, want [anthropic]", open)
	}
}
