package emitter

import (
	"context"
	"testing"
)

func TestChannelSinkPublishAndDrain(t *testing.T) {
	sink := NewChannelSink(2, nil)
	ctx := context.Background()

	sink.Publish(ctx, Event{Kind: KindTyping, ConversationID: "c1"})
	sink.Publish(ctx, Event{Kind: KindToolProgress, ConversationID: "c1"})

	select {
	case e := <-sink.Events():
		if e.Kind != KindTyping {
			t.Fatalf("got kind %v, want %v", e.Kind, KindTyping)
		}
	default:
		t.Fatal("expected buffered event")
	}
}

func TestChannelSinkDropsOldestWhenSaturated(t *testing.T) {
	sink := NewChannelSink(1, nil)
	ctx := context.Background()

	sink.Publish(ctx, Event{Kind: KindTyping})
	sink.Publish(ctx, Event{Kind: KindDecisionMade}) // should drop typing, keep this

	e := <-sink.Events()
	if e.Kind != KindDecisionMade {
		t.Fatalf("got kind %v, want %v", e.Kind, KindDecisionMade)
	}
}

func TestDecisionAudience(t *testing.T) {
	if got := DecisionAudience(true); got != AudienceAll {
		t.Fatalf("got %v, want all", got)
	}
	if got := DecisionAudience(false); got != AudienceDashboard {
		t.Fatalf("got %v, want dashboard", got)
	}
}

func TestWorkflowCompletedAudience(t *testing.T) {
	if got := WorkflowCompletedAudience("success"); got != AudienceAll {
		t.Fatalf("got %v, want all", got)
	}
	if got := WorkflowCompletedAudience("error"); got != AudienceDashboard {
		t.Fatalf("got %v, want dashboard", got)
	}
}
