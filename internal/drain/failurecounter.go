package drain

import (
	"context"
	"fmt"
	"time"

	"github.com/conversationai/pipeline/internal/store"
)

// FailureCounterTTL is the per (conversationId, messageId) counter
// lifetime from spec.md §3/§4.9.
const FailureCounterTTL = time.Hour

// failureCounter implements the ai:fail:{conv}:{msg} counter via
// internal/store.Store's Incr/Expire/Del primitives.
type failureCounter struct {
	store store.Store
}

func failureKey(conversationID, messageID string) string {
	return fmt.Sprintf("ai:fail:%s:%s", conversationID, messageID)
}

// increment bumps the counter, (re)arming its TTL on the first increment.
func (f *failureCounter) increment(ctx context.Context, conversationID, messageID string) (int64, error) {
	key := failureKey(conversationID, messageID)
	n, err := f.store.Incr(ctx, key)
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := f.store.Expire(ctx, key, FailureCounterTTL); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (f *failureCounter) clear(ctx context.Context, conversationID, messageID string) error {
	return f.store.Del(ctx, failureKey(conversationID, messageID))
}
