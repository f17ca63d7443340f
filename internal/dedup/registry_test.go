package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/conversationai/pipeline/internal/store"
	"github.com/conversationai/pipeline/pkg/convmodel"
)

func TestRegistry_GetSetClear(t *testing.T) {
	ctx := context.Background()
	r := New(store.NewMemoryStore())

	t.Run("get on empty registry returns nil", func(t *testing.T) {
		state, err := r.Get(ctx, "conv1", convmodel.DirectionReply)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if state != nil {
			t.Fatalf("expected nil state, got %+v", state)
		}
	})

	t.Run("set then get round-trips", func(t *testing.T) {
		now := time.Now()
		in := convmodel.WorkflowState{
			RunID:           "run1",
			AnchorMessageID: "m1",
			AnchorCreatedAt: now,
			ConversationID:  "conv1",
			Direction:       convmodel.DirectionReply,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := r.Set(ctx, in, TTL); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out, err := r.Get(ctx, "conv1", convmodel.DirectionReply)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out == nil || out.RunID != "run1" {
			t.Fatalf("got %+v, want run1", out)
		}
	})

	t.Run("clear removes the entry", func(t *testing.T) {
		if err := r.Clear(ctx, "conv1", convmodel.DirectionReply); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out, err := r.Get(ctx, "conv1", convmodel.DirectionReply)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != nil {
			t.Fatalf("expected nil after clear, got %+v", out)
		}
	})
}

func TestRegistry_TriggerDeduplicatedPreservesAnchor(t *testing.T) {
	ctx := context.Background()
	r := New(store.NewMemoryStore())
	now := time.Now()

	runID1, replaced1, err := r.TriggerDeduplicated(ctx, TriggerParams{
		ConversationID:  "conv1",
		Direction:       convmodel.DirectionReply,
		NewRunID:        "run1",
		AnchorMessageID: "m1",
		AnchorCreatedAt: now,
		Now:             now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replaced1 {
		t.Fatal("expected first trigger to not be a replacement")
	}
	if runID1 != "run1" {
		t.Fatalf("got runID %q, want run1", runID1)
	}

	var cancelledRunID string
	runID2, replaced2, err := r.TriggerDeduplicated(ctx, TriggerParams{
		ConversationID:  "conv1",
		Direction:       convmodel.DirectionReply,
		NewRunID:        "run2",
		AnchorMessageID: "m2", // should be ignored: prior anchor wins
		AnchorCreatedAt: now.Add(time.Second),
		Now:             now.Add(time.Second),
		Cancel: func(ctx context.Context, runID string) {
			cancelledRunID = runID
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !replaced2 {
		t.Fatal("expected second trigger to be a replacement")
	}
	if runID2 != "run2" {
		t.Fatalf("got runID %q, want run2", runID2)
	}
	if cancelledRunID != "run1" {
		t.Fatalf("expected cancel callback for run1, got %q", cancelledRunID)
	}

	state, err := r.Get(ctx, "conv1", convmodel.DirectionReply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.AnchorMessageID != "m1" {
		t.Fatalf("got anchor %q, want m1 (invariant 6)", state.AnchorMessageID)
	}
}

func TestRegistry_IsActive(t *testing.T) {
	ctx := context.Background()
	r := New(store.NewMemoryStore())
	now := time.Now()

	runID, _, err := r.TriggerDeduplicated(ctx, TriggerParams{
		ConversationID:  "conv1",
		Direction:       convmodel.DirectionReply,
		NewRunID:        "run1",
		AnchorMessageID: "m1",
		AnchorCreatedAt: now,
		Now:             now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	active, err := r.IsActive(ctx, "conv1", convmodel.DirectionReply, runID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !active {
		t.Fatal("expected current run to be active")
	}

	active, err = r.IsActive(ctx, "conv1", convmodel.DirectionReply, "stale-run")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if active {
		t.Fatal("expected stale run to be inactive")
	}

	active, err = r.IsActive(ctx, "unknown-conv", convmodel.DirectionReply, runID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if active {
		t.Fatal("expected unknown conversation to be inactive")
	}
}
