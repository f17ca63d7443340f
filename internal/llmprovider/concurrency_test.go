package llmprovider

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type blockingModel struct {
	inFlight  atomic.Int64
	maxSeen   atomic.Int64
	unblock   chan struct{}
}

func (b *blockingModel) Name() string { return "blocking" }

func (b *blockingModel) Generate(ctx context.Context, req Request) (Response, error) {
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		cur := b.maxSeen.Load()
		if n <= cur || b.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	<-b.unblock
	return Response{Text: "ok"}, nil
}

func TestWithConcurrencyLimit_BoundsInFlightCalls(t *testing.T) {
	inner := &blockingModel{unblock: make(chan struct{})}
	limited := WithConcurrencyLimit(inner, 2)

	const callers = 5
	done := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, _ = limited.Generate(context.Background(), Request{})
			done <- struct{}{}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	if got := inner.maxSeen.Load(); got > 2 {
		t.Fatalf("expected at most 2 concurrent calls, saw %d", got)
	}

	close(inner.unblock)
	for i := 0; i < callers; i++ {
		<-done
	}
}

func TestWithConcurrencyLimit_ContextCancelReturnsRetryableError(t *testing.T) {
	inner := &blockingModel{unblock: make(chan struct{})}
	limited := WithConcurrencyLimit(inner, 1)

	done := make(chan struct{})
	go func() {
		_, _ = limited.Generate(context.Background(), Request{})
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := limited.Generate(ctx, Request{})
	if err == nil {
		t.Fatal("expected error when context is already cancelled while waiting for a permit")
	}
	perr, ok := err.(*ProviderError)
	if !ok || !perr.Retryable {
		t.Fatalf("expected a retryable ProviderError, got %#v", err)
	}

	close(inner.unblock)
	<-done
}
