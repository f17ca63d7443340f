// Package queue implements the per-conversation trigger queue and drain
// lock (spec component C4): an ordered, dedup-on-push list of pending
// message ids per conversation, plus a single-holder lock with fencing
// token renewal. Backed by internal/store.Store so it is testable against
// an in-memory fake and run in production against Redis.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/conversationai/pipeline/internal/store"
)

// Queue provides the per-conversation FIFO and drain lock operations of
// spec.md §4.4.
type Queue struct {
	store store.Store
}

// New creates a Queue backed by the given store.
func New(s store.Store) *Queue {
	return &Queue{store: s}
}

func queueKey(conversationID string) string {
	return fmt.Sprintf("ai:queue:%s", conversationID)
}

func lockKey(conversationID string) string {
	return fmt.Sprintf("ai:lock:%s", conversationID)
}

// Push appends messageID to the conversation's queue, deduping on
// membership (invariant 4).
func (q *Queue) Push(ctx context.Context, conversationID, messageID string) error {
	return q.store.Push(ctx, queueKey(conversationID), messageID)
}

// Peek returns the head message id, or ("", false) if the queue is empty.
func (q *Queue) Peek(ctx context.Context, conversationID string) (string, bool, error) {
	return q.store.Peek(ctx, queueKey(conversationID))
}

// PeekBatch returns up to n ids from the head of the queue, in order.
func (q *Queue) PeekBatch(ctx context.Context, conversationID string, n int) ([]string, error) {
	return q.store.PeekBatch(ctx, queueKey(conversationID), n)
}

// Remove drops a single messageID from the queue.
func (q *Queue) Remove(ctx context.Context, conversationID, messageID string) error {
	return q.store.Remove(ctx, queueKey(conversationID), messageID)
}

// RemoveMany removes each id in ids from the queue. Used to drop an entire
// coalesced batch atomically from the caller's point of view (all removals
// happen under the caller's held drain lock, per invariant 5).
func (q *Queue) RemoveMany(ctx context.Context, conversationID string, ids []string) error {
	for _, id := range ids {
		if err := q.Remove(ctx, conversationID, id); err != nil {
			return err
		}
	}
	return nil
}

// Size returns the number of pending entries for a conversation.
func (q *Queue) Size(ctx context.Context, conversationID string) (int, error) {
	return q.store.Size(ctx, queueKey(conversationID))
}

// Lock attempts to acquire the single-holder drain lock for conversationID.
// holder is typically a job id (the fencing token); re-entry by the same
// holder succeeds and renews the TTL.
func (q *Queue) Lock(ctx context.Context, conversationID, holder string, ttl time.Duration) (bool, error) {
	return q.store.Lock(ctx, lockKey(conversationID), holder, ttl)
}

// Renew extends the lock TTL. A false return means the lock was lost (e.g.
// expired and taken by another worker) and the drain loop must exit
// immediately without further side effects.
func (q *Queue) Renew(ctx context.Context, conversationID, holder string, ttl time.Duration) (bool, error) {
	return q.store.Renew(ctx, lockKey(conversationID), holder, ttl)
}

// Release drops the lock iff still held by holder.
func (q *Queue) Release(ctx context.Context, conversationID, holder string) error {
	return q.store.Release(ctx, lockKey(conversationID), holder)
}
