// Package produce implements the job producer (spec component C10): the
// entry point the rest of the application calls into on a new message, a
// superseding message, or a continuation wake, translating each into a
// queue push and/or a deduplicated drain job enqueue. Grounded on the
// shape of the teacher's internal/gateway command dispatch, which also
// sits between inbound events and a lane-keyed work queue.
package produce

import (
	"context"
	"time"

	"github.com/conversationai/pipeline/internal/dedup"
	"github.com/conversationai/pipeline/internal/jobq"
	"github.com/conversationai/pipeline/internal/queue"
	"github.com/conversationai/pipeline/pkg/convmodel"
)

// PendingJobTTL bounds how long a job id is considered "already enqueued"
// for dedup purposes (spec.md §4.10's "concurrent enqueues collapse").
// Long enough to span a drain cycle, short enough that a crashed worker
// doesn't permanently block re-enqueue.
const PendingJobTTL = 2 * time.Minute

// Producer exposes onNewMessage, supersede, and wakeContinuation exactly
// per spec.md §4.10.
type Producer struct {
	Queue *queue.Queue
	Jobs  *jobq.Queue
	Dedup *dedup.Registry
}

// New builds a Producer.
func New(q *queue.Queue, jobs *jobq.Queue, dedupReg *dedup.Registry) *Producer {
	return &Producer{Queue: q, Jobs: jobs, Dedup: dedupReg}
}

// NewMessage describes an inbound trigger candidate.
type NewMessage struct {
	ConversationID string
	AIAgentID      string
	MessageID      string
}

// OnNewMessage pushes the message into the conversation's queue (dedup on
// push, invariant 4) and enqueues a drain job keyed by
// hash(conversationId, messageId) so concurrent enqueues for the same
// message collapse into one job.
func (p *Producer) OnNewMessage(ctx context.Context, m NewMessage) error {
	if err := p.Queue.Push(ctx, m.ConversationID, m.MessageID); err != nil {
		return err
	}
	job := jobq.Job{
		ID:             jobq.JobID(m.ConversationID, m.MessageID),
		ConversationID: m.ConversationID,
		AIAgentID:      m.AIAgentID,
	}
	_, err := p.Jobs.Enqueue(ctx, job, PendingJobTTL)
	return err
}

// Supersede cancels the active run for conversationId/direction via
// triggerDeduplicated (spec.md §4.3), preserving the original anchor. It
// does not clear the queue: the superseding message still needs to be
// drained, just under a new run id.
func (p *Producer) Supersede(ctx context.Context, conversationID string, direction convmodel.Direction, newRunID, anchorMessageID string, anchorCreatedAt, now time.Time, cancel dedup.Canceller) (runID string, replaced bool, err error) {
	return p.Dedup.TriggerDeduplicated(ctx, dedup.TriggerParams{
		ConversationID:  conversationID,
		Direction:       direction,
		NewRunID:        newRunID,
		AnchorMessageID: anchorMessageID,
		AnchorCreatedAt: anchorCreatedAt,
		Now:             now,
		Cancel:          cancel,
	})
}

// WakeContinuation enqueues a drain job to resume work left unfinished by
// a prior drain's time/message budget, keyed by the next head message id
// so a pending wake for the same head collapses rather than duplicating.
// It satisfies internal/drain.Continuation.
func (p *Producer) WakeContinuation(ctx context.Context, conversationID, nextHeadMessageID string) error {
	job := jobq.Job{
		ID:             jobq.JobID(conversationID, "wake:"+nextHeadMessageID),
		ConversationID: conversationID,
	}
	_, err := p.Jobs.Enqueue(ctx, job, PendingJobTTL)
	return err
}
