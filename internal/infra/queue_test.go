package infra

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCommandQueue_SerialExecutionWithinLane(t *testing.T) {
	q := NewCommandQueue()

	var order []int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			_, _ = q.EnqueueInLane(context.Background(), "conv-1", func(ctx context.Context) (any, error) {
				time.Sleep(10 * time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return i, nil
			}, nil)
		}()
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	if len(order) != 3 {
		t.Fatalf("expected 3 results, got %d", len(order))
	}
	for i, v := range order {
		if v != i+1 {
			t.Errorf("expected order[%d] = %d, got %d", i, i+1, v)
		}
	}
}

func TestCommandQueue_LanesAreIndependent(t *testing.T) {
	q := NewCommandQueue()

	blockA := make(chan struct{})
	doneB := make(chan struct{})

	go func() {
		_, _ = q.EnqueueInLane(context.Background(), "conv-a", func(ctx context.Context) (any, error) {
			<-blockA
			return nil, nil
		}, nil)
	}()

	time.Sleep(5 * time.Millisecond)

	go func() {
		_, _ = q.EnqueueInLane(context.Background(), "conv-b", func(ctx context.Context) (any, error) {
			close(doneB)
			return nil, nil
		}, nil)
	}()

	select {
	case <-doneB:
	case <-time.After(time.Second):
		t.Fatal("lane conv-b was blocked by lane conv-a")
	}
	close(blockA)
}

func TestCommandQueue_LaneConcurrencyCap(t *testing.T) {
	q := NewCommandQueue()
	q.SetLaneConcurrency("fanout", 3)

	var inFlight, maxInFlight int32
	var wg sync.WaitGroup
	for i := 0; i < 9; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.EnqueueInLane(context.Background(), "fanout", func(ctx context.Context) (any, error) {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					max := atomic.LoadInt32(&maxInFlight)
					if n <= max || atomic.CompareAndSwapInt32(&maxInFlight, max, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil, nil
			}, nil)
		}()
	}
	wg.Wait()

	if maxInFlight > 3 {
		t.Fatalf("lane concurrency cap violated: max in-flight %d, want <= 3", maxInFlight)
	}
}

func TestCommandQueue_ContextCancellationUnblocksCaller(t *testing.T) {
	q := NewCommandQueue()
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = q.EnqueueInLane(context.Background(), "busy", func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	errCh := make(chan error, 1)
	go func() {
		_, err := q.EnqueueInLane(ctx, "busy", func(ctx context.Context) (any, error) { return nil, nil }, nil)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancellation did not unblock the waiting caller")
	}
	close(release)
}
