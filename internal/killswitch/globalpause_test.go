package killswitch

import (
	"context"
	"testing"
	"time"

	"github.com/conversationai/pipeline/internal/store"
)

func TestGlobalPause_ShortCircuitsBeforeStoreLookup(t *testing.T) {
	s := store.NewMemoryStore()
	c := New(s, nil)
	c.Global = NewGlobalPause()

	paused, err := c.IsPaused(context.Background(), "conv1", time.Now())
	if err != nil || paused {
		t.Fatalf("expected not paused before Set, got paused=%v err=%v", paused, err)
	}

	c.Global.Set(true)
	paused, err = c.IsPaused(context.Background(), "conv1", time.Now())
	if err != nil || !paused {
		t.Fatalf("expected global pause to short-circuit to paused=true, got paused=%v err=%v", paused, err)
	}

	c.Global.Set(false)
	paused, err = c.IsPaused(context.Background(), "conv1", time.Now())
	if err != nil || paused {
		t.Fatalf("expected resume to clear global pause, got paused=%v err=%v", paused, err)
	}
}
