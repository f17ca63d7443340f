package coalesce

import (
	"context"
	"testing"
	"time"

	"github.com/conversationai/pipeline/pkg/convmodel"
)

type fakeQueue struct {
	ids []string
}

func (f *fakeQueue) PeekBatch(_ context.Context, _ string, n int) ([]string, error) {
	if n > len(f.ids) {
		n = len(f.ids)
	}
	return f.ids[:n], nil
}

type fakeMeta struct {
	metas map[string]*convmodel.MessageMeta
}

func (f *fakeMeta) GetMessageMetadataBatch(_ context.Context, ids []string) (map[string]*convmodel.MessageMeta, error) {
	out := make(map[string]*convmodel.MessageMeta, len(ids))
	for _, id := range ids {
		if m, ok := f.metas[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func noopSleep(time.Duration) {}

func TestResolve_CoalescesConsecutiveVisitorMessages(t *testing.T) {
	now := time.Now()
	m1 := &convmodel.MessageMeta{ID: "m1", CreatedAt: now, SenderType: convmodel.SenderVisitor, Visibility: convmodel.VisibilityPublic}
	m2 := &convmodel.MessageMeta{ID: "m2", CreatedAt: now.Add(100 * time.Millisecond), SenderType: convmodel.SenderVisitor, Visibility: convmodel.VisibilityPublic}
	m3 := &convmodel.MessageMeta{ID: "m3", CreatedAt: now.Add(200 * time.Millisecond), SenderType: convmodel.SenderVisitor, Visibility: convmodel.VisibilityPublic}

	q := &fakeQueue{ids: []string{"m1", "m2", "m3"}}
	meta := &fakeMeta{metas: map[string]*convmodel.MessageMeta{"m1": m1, "m2": m2, "m3": m3}}
	p := New(q, meta, time.Millisecond, DefaultBatchLimit)
	p.sleep = noopSleep

	result, err := p.Resolve(context.Background(), "conv1", m1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.EffectiveTrigger.ID != "m3" {
		t.Fatalf("got effective trigger %q, want m3", result.EffectiveTrigger.ID)
	}
	if len(result.CoalescedIDs) != 3 {
		t.Fatalf("got %d coalesced ids, want 3: %v", len(result.CoalescedIDs), result.CoalescedIDs)
	}
	if got := result.BatchedReason(); got != "batched 3 visitor messages" {
		t.Fatalf("got reason %q", got)
	}
}

func TestResolve_StopsAtNonVisitorSender(t *testing.T) {
	now := time.Now()
	m1 := &convmodel.MessageMeta{ID: "m1", CreatedAt: now, SenderType: convmodel.SenderVisitor, Visibility: convmodel.VisibilityPublic}
	m2 := &convmodel.MessageMeta{ID: "m2", CreatedAt: now.Add(100 * time.Millisecond), SenderType: convmodel.SenderAIAgent, Visibility: convmodel.VisibilityPublic}

	q := &fakeQueue{ids: []string{"m1", "m2"}}
	meta := &fakeMeta{metas: map[string]*convmodel.MessageMeta{"m1": m1, "m2": m2}}
	p := New(q, meta, time.Millisecond, DefaultBatchLimit)
	p.sleep = noopSleep

	result, err := p.Resolve(context.Background(), "conv1", m1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.EffectiveTrigger.ID != "m1" {
		t.Fatalf("got effective trigger %q, want m1", result.EffectiveTrigger.ID)
	}
	if len(result.CoalescedIDs) != 1 {
		t.Fatalf("got %d coalesced ids, want 1", len(result.CoalescedIDs))
	}
	if result.BatchedReason() != "" {
		t.Fatalf("expected empty batched reason for single message, got %q", result.BatchedReason())
	}
}

func TestResolve_SingleMessageNoSiblings(t *testing.T) {
	now := time.Now()
	m1 := &convmodel.MessageMeta{ID: "m1", CreatedAt: now, SenderType: convmodel.SenderVisitor, Visibility: convmodel.VisibilityPublic}

	q := &fakeQueue{ids: []string{"m1"}}
	meta := &fakeMeta{metas: map[string]*convmodel.MessageMeta{"m1": m1}}
	p := New(q, meta, time.Millisecond, DefaultBatchLimit)
	p.sleep = noopSleep

	result, err := p.Resolve(context.Background(), "conv1", m1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.EffectiveTrigger.ID != "m1" || len(result.CoalescedIDs) != 1 {
		t.Fatalf("got %+v", result)
	}
}
