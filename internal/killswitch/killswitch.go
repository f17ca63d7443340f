// Package killswitch implements the AI pause flag (spec component C6): a
// cheap Redis-cached boolean checked before a drain starts, after each
// queue element, and between pipeline stages, falling back to the
// conversation's durable aiPausedUntil timestamp when the cache is cold.
// The cheap-check-before-expensive-work shape mirrors the teacher's
// attention feed, which always filters on cheap status/priority fields
// before any heavier item lookup.
package killswitch

import (
	"context"
	"fmt"
	"time"

	"github.com/conversationai/pipeline/internal/store"
)

// DurableLookup resolves the durable fallback: conversation.aiPausedUntil.
// Implemented by internal/db.Repository in production.
type DurableLookup interface {
	AIPausedUntil(ctx context.Context, conversationID string) (*time.Time, error)
}

// Checker reads the pause flag.
type Checker struct {
	store   store.Store
	durable DurableLookup

	// Global, if set, is checked before the per-conversation Redis lookup
	// so an operator's emergency stop short-circuits every conversation
	// without needing either data store to be reachable.
	Global *GlobalPause
}

// New creates a Checker. durable may be nil, in which case a cold cache
// always reports not-paused.
func New(s store.Store, durable DurableLookup) *Checker {
	return &Checker{store: s, durable: durable}
}

func pauseKey(conversationID string) string {
	return fmt.Sprintf("ai:pause:%s", conversationID)
}

// IsPaused checks the Redis-cached flag first; on a cache miss it falls
// back to the durable aiPausedUntil timestamp and, if still in the future,
// repopulates the cache so subsequent checks in the same drain stay cheap.
func (c *Checker) IsPaused(ctx context.Context, conversationID string, now time.Time) (bool, error) {
	if c.Global != nil && c.Global.IsPaused() {
		return true, nil
	}

	raw, ok, err := c.store.Get(ctx, pauseKey(conversationID))
	if err != nil {
		return false, err
	}
	if ok {
		return raw == "1", nil
	}

	if c.durable == nil {
		return false, nil
	}
	until, err := c.durable.AIPausedUntil(ctx, conversationID)
	if err != nil {
		return false, err
	}
	if until == nil || !now.Before(*until) {
		return false, nil
	}
	ttl := until.Sub(now)
	if err := c.store.SetEX(ctx, pauseKey(conversationID), "1", ttl); err != nil {
		return false, err
	}
	return true, nil
}

// Pause sets the cached flag. until, if provided, bounds the TTL; a nil
// until pauses indefinitely (until an explicit Resume).
func (c *Checker) Pause(ctx context.Context, conversationID string, until *time.Time) error {
	ttl := time.Duration(0)
	if until != nil {
		ttl = time.Until(*until)
		if ttl <= 0 {
			return c.store.Del(ctx, pauseKey(conversationID))
		}
	}
	return c.store.SetEX(ctx, pauseKey(conversationID), "1", ttl)
}

// Resume clears the cached flag. The durable aiPausedUntil field must be
// cleared by the caller (internal/db) in the same logical operation.
func (c *Checker) Resume(ctx context.Context, conversationID string) error {
	return c.store.Del(ctx, pauseKey(conversationID))
}
