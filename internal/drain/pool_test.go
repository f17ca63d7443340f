package drain

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/conversationai/pipeline/internal/jobq"
	"github.com/conversationai/pipeline/internal/llmprovider"
	"github.com/conversationai/pipeline/pkg/convmodel"
	"github.com/redis/go-redis/v9"
)

func newTestJobQueue(t *testing.T) *jobq.Queue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return jobq.New(client)
}

func TestPool_RunsEnqueuedJobAndAcks(t *testing.T) {
	llm := &scriptedLLM{resp: llmprovider.Response{Text: "hi there"}}
	w, repo, q, _ := newHarness(t, llm)

	now := time.Unix(1700000000, 0)
	repo.PutConversation(&convmodel.Conversation{ID: "conv1", Status: convmodel.ConversationOpen})
	repo.PutMessage(&convmodel.Message{ID: "m1", ConversationID: "conv1", CreatedAt: now, SenderType: convmodel.SenderVisitor, Visibility: convmodel.VisibilityPublic, BodyMarkdown: "hello"})
	if err := q.Push(context.Background(), "conv1", "m1"); err != nil {
		t.Fatalf("push: %v", err)
	}

	jobs := newTestJobQueue(t)
	job := jobq.Job{ID: jobq.JobID("conv1", "m1"), ConversationID: "conv1", AIAgentID: "agent1"}
	published, err := jobs.Enqueue(context.Background(), job, time.Minute)
	if err != nil || !published {
		t.Fatalf("Enqueue: published=%v err=%v", published, err)
	}

	pool := NewPool(w, jobs, PoolConfig{Concurrency: 2, Group: "drainers", Consumer: "worker-1", ReadBlock: 100 * time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = pool.Run(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		size, _ := q.Size(context.Background(), "conv1")
		if size == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("pool did not drain the queued job in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestPool_SameConversationJobsDoNotRunConcurrently(t *testing.T) {
	llm := &scriptedLLM{resp: llmprovider.Response{Text: "ok"}}
	w, _, _, _ := newHarness(t, llm)

	jobs := newTestJobQueue(t)
	pool := NewPool(w, jobs, PoolConfig{Concurrency: 8, Group: "g", Consumer: "c"}, nil)

	ctx := context.Background()
	var overlapped bool
	var active int
	done := make(chan struct{}, 2)

	run := func() {
		_, _ = pool.lanes.EnqueueInLane(ctx, "conv1", func(ctx context.Context) (any, error) {
			active++
			if active > 1 {
				overlapped = true
			}
			time.Sleep(20 * time.Millisecond)
			active--
			return nil, nil
		}, nil)
		done <- struct{}{}
	}

	go run()
	go run()
	<-done
	<-done

	if overlapped {
		t.Fatal("two jobs for the same conversation ran concurrently")
	}
}
