// Package jobq implements the drain job queue: a Redis Streams-backed
// work queue deduplicated by a deterministic job id, consumed by the
// drain worker pool. Grounded on the teacher's internal/gateway
// ResolveLockPath, which hashes a config path into a deterministic lock
// filename with sha1 — the same "stable hash of identifying fields"
// pattern, applied here to collapse concurrent enqueues for the same
// (conversationId, messageId) into one job id instead of a filename.
package jobq

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const streamKey = "ai:jobs"

// JobID returns the deterministic job id for a (conversationId, key) pair,
// per spec.md §4.10 ("jobId = hash(conversationId, m.id)"). key is the
// triggering message id for onNewMessage, or the head id for a
// continuation wake.
func JobID(conversationID, key string) string {
	sum := sha1.Sum([]byte(conversationID + ":" + key))
	return hex.EncodeToString(sum[:])
}

// Job is one enqueued unit of drain work.
type Job struct {
	ID             string
	ConversationID string
	AIAgentID      string
}

// Queue publishes and consumes drain jobs over a Redis stream.
type Queue struct {
	client redis.Cmdable
}

// New wraps an existing redis client (or cluster/ring client; anything
// implementing redis.Cmdable).
func New(client redis.Cmdable) *Queue {
	return &Queue{client: client}
}

// pendingKey tracks which job ids are currently outstanding (claimed but
// not yet acked), so Enqueue can collapse a duplicate publish instead of
// creating a second stream entry for the same job id.
func pendingKey(jobID string) string {
	return fmt.Sprintf("ai:jobs:pending:%s", jobID)
}

// Enqueue publishes a job, deduplicating on jobID: if a job with this id
// is already pending, the publish is a no-op (the concurrent-enqueue
// collapse spec.md §4.10 requires for onNewMessage/wakeContinuation).
func (q *Queue) Enqueue(ctx context.Context, job Job, pendingTTL time.Duration) (bool, error) {
	set, err := q.client.SetNX(ctx, pendingKey(job.ID), "1", pendingTTL).Result()
	if err != nil {
		return false, err
	}
	if !set {
		return false, nil
	}
	_, err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{
			"jobId":          job.ID,
			"conversationId": job.ConversationID,
			"aiAgentId":      job.AIAgentID,
		},
	}).Result()
	if err != nil {
		q.client.Del(ctx, pendingKey(job.ID))
		return false, err
	}
	return true, nil
}

// EnsureGroup creates the consumer group if it does not already exist.
func (q *Queue) EnsureGroup(ctx context.Context, group string) error {
	err := q.client.XGroupCreateMkStream(ctx, streamKey, group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

// Read claims up to count pending jobs for consumer within group, blocking
// up to block for new entries when none are immediately available.
func (q *Queue) Read(ctx context.Context, group, consumer string, count int64, block time.Duration) ([]Job, []string, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{streamKey, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var jobs []Job
	var entryIDs []string
	for _, stream := range res {
		for _, msg := range stream.Messages {
			jobs = append(jobs, Job{
				ID:             fmt.Sprint(msg.Values["jobId"]),
				ConversationID: fmt.Sprint(msg.Values["conversationId"]),
				AIAgentID:      fmt.Sprint(msg.Values["aiAgentId"]),
			})
			entryIDs = append(entryIDs, msg.ID)
		}
	}
	return jobs, entryIDs, nil
}

// Ack acknowledges processed entries and clears their pending markers so a
// future trigger for the same (conversationId, messageId) can enqueue
// again.
func (q *Queue) Ack(ctx context.Context, group string, job Job, entryID string) error {
	if err := q.client.XAck(ctx, streamKey, group, entryID).Err(); err != nil {
		return err
	}
	return q.client.Del(ctx, pendingKey(job.ID)).Err()
}
