package jobq

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client)
}

func TestJobID_DeterministicAndOrderSensitive(t *testing.T) {
	a := JobID("conv1", "m1")
	b := JobID("conv1", "m1")
	if a != b {
		t.Fatalf("JobID must be deterministic: %q != %q", a, b)
	}
	if JobID("conv1", "m1") == JobID("conv1", "m2") {
		t.Fatalf("different keys must hash differently")
	}
}

func TestEnqueue_DeduplicatesConcurrentPublish(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	job := Job{ID: JobID("conv1", "m1"), ConversationID: "conv1", AIAgentID: "agent1"}

	published, err := q.Enqueue(ctx, job, time.Minute)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !published {
		t.Fatalf("first Enqueue must publish")
	}

	published, err = q.Enqueue(ctx, job, time.Minute)
	if err != nil {
		t.Fatalf("Enqueue (dup): %v", err)
	}
	if published {
		t.Fatalf("duplicate Enqueue must collapse, not publish again")
	}
}

func TestReadAckRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	const group = "drain-workers"

	if err := q.EnsureGroup(ctx, group); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}

	job := Job{ID: JobID("conv1", "m1"), ConversationID: "conv1", AIAgentID: "agent1"}
	if _, err := q.Enqueue(ctx, job, time.Minute); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	jobs, entryIDs, err := q.Read(ctx, group, "worker-1", 10, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ConversationID != "conv1" {
		t.Fatalf("got %+v, want one job for conv1", jobs)
	}

	if err := q.Ack(ctx, group, jobs[0], entryIDs[0]); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	// After Ack clears the pending marker, the same job id can enqueue
	// again (a later trigger for the same conversation/message).
	published, err := q.Enqueue(ctx, job, time.Minute)
	if err != nil {
		t.Fatalf("Enqueue after Ack: %v", err)
	}
	if !published {
		t.Fatalf("Enqueue after Ack must publish a fresh entry")
	}
}
