package typing

import (
	"context"
	"testing"
	"time"

	"github.com/conversationai/pipeline/internal/emitter"
)

func validRoute() Route {
	return Route{
		ConversationID: "conv1",
		OrganizationID: "org1",
		WebsiteID:      "site1",
		VisitorID:      "visitor1",
	}
}

func TestStartEmitsImmediateTrue(t *testing.T) {
	sink := emitter.NewChannelSink(8, nil)
	c := New(sink, nil, validRoute(), time.Hour)
	ctx := context.Background()

	c.Start(ctx)
	defer c.Stop(ctx)

	select {
	case e := <-sink.Events():
		if e.Kind != emitter.KindTyping || !e.IsTyping {
			t.Fatalf("got %+v, want immediate typing=true", e)
		}
	default:
		t.Fatal("expected immediate typing=true event")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	sink := emitter.NewChannelSink(8, nil)
	c := New(sink, nil, validRoute(), time.Hour)
	ctx := context.Background()

	c.Start(ctx)
	c.Start(ctx)
	c.Start(ctx)

	count := 0
drain:
	for {
		select {
		case <-sink.Events():
			count++
		default:
			break drain
		}
	}
	if count != 1 {
		t.Fatalf("got %d start events, want exactly 1", count)
	}
}

func TestStopEmitsFalseAfterClearingTimer(t *testing.T) {
	sink := emitter.NewChannelSink(8, nil)
	c := New(sink, nil, validRoute(), time.Hour)
	ctx := context.Background()

	c.Start(ctx)
	<-sink.Events() // drain the initial true

	c.Stop(ctx)

	select {
	case e := <-sink.Events():
		if e.Kind != emitter.KindTyping || e.IsTyping {
			t.Fatalf("got %+v, want typing=false", e)
		}
	default:
		t.Fatal("expected stop to emit typing=false")
	}
	if !c.IsSealed() {
		t.Fatal("expected controller sealed after Stop")
	}
}

func TestStopIsIdempotentAndSealsAgainstRestart(t *testing.T) {
	sink := emitter.NewChannelSink(8, nil)
	c := New(sink, nil, validRoute(), time.Hour)
	ctx := context.Background()

	c.Start(ctx)
	<-sink.Events()
	c.Stop(ctx)
	<-sink.Events()

	c.Stop(ctx)  // second stop: no-op, must not panic on closed channel
	c.Start(ctx) // start after seal: must not restart

	select {
	case e := <-sink.Events():
		t.Fatalf("unexpected event after seal: %+v", e)
	default:
	}
}

func TestMissingRoutingFieldsSuppressesHeartbeat(t *testing.T) {
	sink := emitter.NewChannelSink(8, nil)
	route := validRoute()
	route.VisitorID = ""
	c := New(sink, nil, route, time.Hour)
	ctx := context.Background()

	c.Start(ctx)

	select {
	case e := <-sink.Events():
		t.Fatalf("expected no emission, got %+v", e)
	default:
	}
}

func TestPeriodicRefreshAtInterval(t *testing.T) {
	sink := emitter.NewChannelSink(8, nil)
	c := New(sink, nil, validRoute(), 20*time.Millisecond)
	ctx := context.Background()

	c.Start(ctx)
	defer c.Stop(ctx)

	<-sink.Events() // initial

	select {
	case e := <-sink.Events():
		if !e.IsTyping {
			t.Fatalf("got %+v, want periodic typing=true", e)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected a periodic refresh event")
	}
}
