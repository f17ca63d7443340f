package observability

import (
	"sync"
	"testing"
)

func TestDiagnosticEventsGatedByEnabled(t *testing.T) {
	ResetDiagnosticsForTest()
	defer ResetDiagnosticsForTest()

	var mu sync.Mutex
	var received []DiagnosticEventPayload
	unsubscribe := OnDiagnosticEvent(func(event DiagnosticEventPayload) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, event)
	})
	defer unsubscribe()

	EmitModelUsage(&ModelUsageEvent{SessionID: "conv-1", Provider: "anthropic"})
	mu.Lock()
	if len(received) != 0 {
		t.Fatalf("expected no events while diagnostics disabled, got %d", len(received))
	}
	mu.Unlock()

	SetDiagnosticsEnabled(true)
	defer SetDiagnosticsEnabled(false)
	if !IsDiagnosticsEnabled() {
		t.Fatal("expected diagnostics enabled")
	}

	EmitModelUsage(&ModelUsageEvent{SessionID: "conv-1", Provider: "anthropic", Model: "claude-3-opus"})

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}
	usage, ok := received[0].(*ModelUsageEvent)
	if !ok {
		t.Fatalf("expected *ModelUsageEvent, got %T", received[0])
	}
	if usage.EventType() != EventTypeModelUsage {
		t.Errorf("got event type %q, want %q", usage.EventType(), EventTypeModelUsage)
	}
	if usage.SessionID != "conv-1" || usage.Model != "claude-3-opus" {
		t.Errorf("unexpected event payload: %+v", usage)
	}
	if usage.Sequence() == 0 {
		t.Error("expected a nonzero sequence number")
	}
	if usage.Timestamp() == 0 {
		t.Error("expected a nonzero timestamp")
	}
}

func TestDiagnosticLaneAndRunAttemptEvents(t *testing.T) {
	ResetDiagnosticsForTest()
	defer ResetDiagnosticsForTest()
	SetDiagnosticsEnabled(true)
	defer SetDiagnosticsEnabled(false)

	var mu sync.Mutex
	var kinds []DiagnosticEventType
	unsubscribe := OnDiagnosticEvent(func(event DiagnosticEventPayload) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, event.EventType())
	})
	defer unsubscribe()

	EmitLaneEnqueue(&LaneEnqueueEvent{Lane: "conv-1", QueueSize: 1})
	EmitLaneDequeue(&LaneDequeueEvent{Lane: "conv-1", QueueSize: 0, WaitMs: 5})
	EmitRunAttempt(&RunAttemptEvent{SessionID: "conv-1", RunID: "run-1", Attempt: 2})
	EmitSessionStuck(&SessionStuckEvent{SessionID: "conv-1", State: SessionStateProcessing, AgeMs: 9000})

	mu.Lock()
	defer mu.Unlock()
	want := []DiagnosticEventType{EventTypeLaneEnqueue, EventTypeLaneDequeue, EventTypeRunAttempt, EventTypeSessionStuck}
	if len(kinds) != len(want) {
		t.Fatalf("got %d events, want %d: %v", len(kinds), len(want), kinds)
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Errorf("event %d: got %q, want %q", i, kinds[i], k)
		}
	}
}

func TestDiagnosticListenerPanicIsContained(t *testing.T) {
	ResetDiagnosticsForTest()
	defer ResetDiagnosticsForTest()
	SetDiagnosticsEnabled(true)
	defer SetDiagnosticsEnabled(false)

	unsubscribe := OnDiagnosticEvent(func(event DiagnosticEventPayload) {
		panic("listener exploded")
	})
	defer unsubscribe()

	EmitModelUsage(&ModelUsageEvent{SessionID: "conv-1"})
}
