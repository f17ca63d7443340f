package produce

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/conversationai/pipeline/internal/dedup"
	"github.com/conversationai/pipeline/internal/jobq"
	"github.com/conversationai/pipeline/internal/queue"
	"github.com/conversationai/pipeline/internal/store"
	"github.com/conversationai/pipeline/pkg/convmodel"
)

func newTestProducer(t *testing.T) (*Producer, *queue.Queue) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q := queue.New(store.NewMemoryStore())
	jobs := jobq.New(client)
	dedupReg := dedup.New(store.NewMemoryStore())
	return New(q, jobs, dedupReg), q
}

func TestOnNewMessage_PushesQueueAndEnqueuesJob(t *testing.T) {
	p, q := newTestProducer(t)
	ctx := context.Background()

	if err := p.OnNewMessage(ctx, NewMessage{ConversationID: "conv1", AIAgentID: "agent1", MessageID: "m1"}); err != nil {
		t.Fatalf("OnNewMessage: %v", err)
	}

	head, ok, err := q.Peek(ctx, "conv1")
	if err != nil || !ok || head != "m1" {
		t.Fatalf("queue head = (%q, %v, %v), want (m1, true, nil)", head, ok, err)
	}

	if err := p.Jobs.EnsureGroup(ctx, "workers"); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	jobs, _, err := p.Jobs.Read(ctx, "workers", "w1", 10, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ConversationID != "conv1" {
		t.Fatalf("got %+v, want one enqueued job for conv1", jobs)
	}
}

func TestSupersede_PreservesAnchorAcrossReplacement(t *testing.T) {
	p, _ := newTestProducer(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	runID1, replaced1, err := p.Supersede(ctx, "conv1", convmodel.DirectionReply, "run1", "m1", now, now, nil)
	if err != nil {
		t.Fatalf("Supersede (first): %v", err)
	}
	if replaced1 {
		t.Fatalf("first trigger must not report a replacement")
	}
	if runID1 != "run1" {
		t.Fatalf("got run id %q, want run1", runID1)
	}

	var cancelledRunID string
	cancel := func(_ context.Context, runID string) { cancelledRunID = runID }

	later := now.Add(time.Second)
	runID2, replaced2, err := p.Supersede(ctx, "conv1", convmodel.DirectionReply, "run2", "m2", later, later, cancel)
	if err != nil {
		t.Fatalf("Supersede (second): %v", err)
	}
	if !replaced2 {
		t.Fatalf("second trigger must report a replacement")
	}
	if runID2 != "run2" {
		t.Fatalf("got run id %q, want run2", runID2)
	}
	if cancelledRunID != "run1" {
		t.Fatalf("expected run1 to be cancelled, got %q", cancelledRunID)
	}

	state, err := p.Dedup.Get(ctx, "conv1", convmodel.DirectionReply)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if state.AnchorMessageID != "m1" {
		t.Fatalf("anchor must stay m1 across supersede, got %q", state.AnchorMessageID)
	}
}

func TestWakeContinuation_CollapsesDuplicateWake(t *testing.T) {
	p, _ := newTestProducer(t)
	ctx := context.Background()

	if err := p.WakeContinuation(ctx, "conv1", "m5"); err != nil {
		t.Fatalf("WakeContinuation: %v", err)
	}
	if err := p.Jobs.EnsureGroup(ctx, "workers"); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	jobs, _, err := p.Jobs.Read(ctx, "workers", "w1", 10, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}

	// A second wake for the same head before the first is acked collapses.
	if err := p.WakeContinuation(ctx, "conv1", "m5"); err != nil {
		t.Fatalf("WakeContinuation (dup): %v", err)
	}
	jobs2, _, err := p.Jobs.Read(ctx, "workers", "w2", 10, 0)
	if err != nil {
		t.Fatalf("Read (dup check): %v", err)
	}
	if len(jobs2) != 0 {
		t.Fatalf("duplicate wake must not enqueue a second job, got %+v", jobs2)
	}
}
