// Package store abstracts the Redis-backed key-value operations the
// queue, lock, dedup registry, and kill-switch are built on, per the
// design note "Redis as both queue and lock": a small interface keeps the
// core testable against an in-memory fake while production runs against
// real Redis.
package store

import (
	"context"
	"time"
)

// Store is the shared key-value contract. List operations model a Redis
// list (LPUSH/LRANGE/LREM semantics); the scalar operations model
// GET/SETEX/DEL/INCR/EXPIRE.
type Store interface {
	// Push appends value to the tail of the list at key if it is not
	// already present (dedup-on-push, per invariant 4).
	Push(ctx context.Context, key, value string) error

	// Peek returns the head of the list at key, or "" if empty.
	Peek(ctx context.Context, key string) (string, bool, error)

	// PeekBatch returns up to n items from the head of the list, in order.
	PeekBatch(ctx context.Context, key string, n int) ([]string, error)

	// Remove deletes the first occurrence of value from the list at key.
	Remove(ctx context.Context, key, value string) error

	// Size returns the length of the list at key.
	Size(ctx context.Context, key string) (int, error)

	// Lock attempts to acquire a single-holder lock with the given TTL.
	// Returns true if acquired (or already held by holder).
	Lock(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)

	// Renew extends the TTL of a lock iff it is still held by holder.
	Renew(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)

	// Release drops the lock iff it is held by holder.
	Release(ctx context.Context, key, holder string) error

	// Get returns the raw string value at key, or "" and false if absent.
	Get(ctx context.Context, key string) (string, bool, error)

	// SetEX stores value at key with the given TTL (0 = no expiry).
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error

	// Del removes key.
	Del(ctx context.Context, key string) error

	// Incr atomically increments the integer at key (creating it at 0
	// first) and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets a TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
