package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes key only if its current value still equals holder,
// avoiding a release race where a stale caller drops a lock a newer holder
// has since acquired.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// renewScript extends TTL only if the lock is still held by holder.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisStore implements Store against a real (or miniredis) Redis server.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore wraps an existing redis client (or cluster/ring client;
// anything implementing redis.Cmdable).
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Push(ctx context.Context, key, value string) error {
	// LPOS avoids duplicate membership (invariant 4); small lists only, so
	// the O(n) scan is acceptable for a per-conversation queue.
	pos, err := s.client.LPos(ctx, key, value, redis.LPosArgs{}).Result()
	if err == nil && pos >= 0 {
		return nil
	}
	if err != nil && err != redis.Nil {
		return err
	}
	return s.client.RPush(ctx, key, value).Err()
}

func (s *RedisStore) Peek(ctx context.Context, key string) (string, bool, error) {
	vals, err := s.client.LRange(ctx, key, 0, 0).Result()
	if err != nil {
		return "", false, err
	}
	if len(vals) == 0 {
		return "", false, nil
	}
	return vals[0], true, nil
}

func (s *RedisStore) PeekBatch(ctx context.Context, key string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.client.LRange(ctx, key, 0, int64(n-1)).Result()
}

func (s *RedisStore) Remove(ctx context.Context, key, value string) error {
	return s.client.LRem(ctx, key, 1, value).Err()
}

func (s *RedisStore) Size(ctx context.Context, key string) (int, error) {
	n, err := s.client.LLen(ctx, key).Result()
	return int(n), err
}

func (s *RedisStore) Lock(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	// Re-entrant: same holder already owns it.
	current, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if current != holder {
		return false, nil
	}
	if err := s.client.PExpire(ctx, key, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStore) Renew(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	res, err := renewScript.Run(ctx, s.client, []string{key}, holder, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) Release(ctx context.Context, key, holder string) error {
	_, err := releaseScript.Run(ctx, s.client, []string{key}, holder).Result()
	return err
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key).Result()
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}
