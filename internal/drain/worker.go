// Package drain implements the drain worker (spec component C9): consumes
// one conversation's queue at a time under its lock, coalesces consecutive
// visitor triggers, drives the pipeline, and requeues a continuation job
// when it runs out of its time/message budget. Grounded on the teacher's
// internal/infra.CommandQueue lane model for per-conversation
// serialization (one lane per conversation id, pinned to concurrency 1),
// adapted here into a direct lock-and-loop worker rather than a generic
// lane executor, since the spec's drain loop has a bespoke 7-step shape
// the generic lane runner doesn't need to know about.
package drain

import (
	"context"
	"time"

	"github.com/conversationai/pipeline/internal/backoff"
	"github.com/conversationai/pipeline/internal/coalesce"
	"github.com/conversationai/pipeline/internal/dedup"
	"github.com/conversationai/pipeline/internal/emitter"
	"github.com/conversationai/pipeline/internal/killswitch"
	"github.com/conversationai/pipeline/internal/observability"
	"github.com/conversationai/pipeline/internal/pipeline"
	"github.com/conversationai/pipeline/internal/queue"
	"github.com/conversationai/pipeline/internal/store"
	"github.com/conversationai/pipeline/pkg/convmodel"
)

// Config tunes the drain loop's budgets, per spec.md §6's environment
// variables.
type Config struct {
	MaxMessages      int           // AI_AGENT_DRAIN_MAX_MESSAGES, default 20
	MaxRuntime       time.Duration // AI_AGENT_DRAIN_MAX_RUNTIME_MS, default 45s
	LockTTL          time.Duration // AI_AGENT_DRAIN_LOCK_TTL_MS, default 60s
	FailureThreshold int64         // bounded retry threshold, default 3

	// RetryBackoff paces redelivery of a retryable failure between the
	// failure count and the next Run that picks the job back up.
	RetryBackoff backoff.BackoffPolicy
}

// DefaultConfig returns the recommended budgets from spec.md §6.
func DefaultConfig() Config {
	return Config{
		MaxMessages:      20,
		MaxRuntime:       45 * time.Second,
		LockTTL:          60 * time.Second,
		FailureThreshold: 3,
		RetryBackoff: backoff.BackoffPolicy{
			InitialMs: 200,
			MaxMs:     5000,
			Factor:    2,
			Jitter:    0.2,
		},
	}
}

// Continuation is how the drain worker hands off remaining work when its
// budget runs out (spec.md §4.9 step 6), implemented by internal/produce.
type Continuation interface {
	WakeContinuation(ctx context.Context, conversationID, nextHeadMessageID string) error
}

// MetaLookup is the narrow slice of db.Repository the drain loop needs for
// per-message metadata, kept local so this package doesn't import
// internal/db directly for its whole interface.
type MetaLookup interface {
	GetMessageMetadata(ctx context.Context, messageID string) (*convmodel.MessageMeta, error)
	GetMessageMetadataBatch(ctx context.Context, ids []string) (map[string]*convmodel.MessageMeta, error)
	GetConversationByID(ctx context.Context, conversationID string) (*convmodel.Conversation, error)
	GetConversationMessagesAfterCursor(ctx context.Context, conversationID string, after time.Time, afterID string, limit int) ([]*convmodel.MessageMeta, error)
}

// IDGenerator mints run ids for the dedup registry and drain lock fencing
// tokens; satisfied by convmodel.NewULID.
type IDGenerator func(now time.Time) string

// Worker runs the 7-step drain loop of spec.md §4.9 for one job at a time.
type Worker struct {
	Queue       *queue.Queue
	Meta        MetaLookup
	KillSwitch  *killswitch.Checker
	Dedup       *dedup.Registry
	Coalesce    *coalesce.Policy
	Pipeline    *pipeline.Pipeline
	Emitter     emitter.Sink
	Continue    Continuation
	NewID       IDGenerator
	Config      Config
	Now         func() time.Time

	// Metrics reports pending-queue depth after each drain iteration. Nil
	// disables recording.
	Metrics *observability.Metrics

	failures failureCounter
}

// New builds a Worker. s backs the failure counter (same store the queue
// and kill-switch use).
func New(s store.Store, q *queue.Queue, meta MetaLookup, ks *killswitch.Checker, dd *dedup.Registry, co *coalesce.Policy, pl *pipeline.Pipeline, sink emitter.Sink, cont Continuation, newID IDGenerator) *Worker {
	return &Worker{
		Queue: q, Meta: meta, KillSwitch: ks, Dedup: dd, Coalesce: co,
		Pipeline: pl, Emitter: sink, Continue: cont, NewID: newID,
		Config: DefaultConfig(), Now: time.Now,
		failures: failureCounter{store: s},
	}
}

// Job is one unit of drain work, per spec.md §4.9.
type Job struct {
	ID               string // fencing token for the lock
	ConversationID   string
	AIAgentID        string
	TriggerMessageID string // optional: set for a fresh trigger, empty for a bare wake
}

// Run executes one drain iteration for job.
func (w *Worker) Run(ctx context.Context, job Job) error {
	acquired, err := w.Queue.Lock(ctx, job.ConversationID, job.ID, w.Config.LockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer w.Queue.Release(ctx, job.ConversationID, job.ID)

	conv, err := w.Meta.GetConversationByID(ctx, job.ConversationID)
	if err != nil {
		return err
	}
	now := w.now()
	if conv == nil || conv.IsPaused(now) {
		return nil
	}

	w.emitConversationSeen(ctx, job, conv)

	if err := w.hydrateQueueIfEmpty(ctx, conv); err != nil {
		return err
	}

	processed := 0
	start := now
	lastHead := ""
	for processed < w.Config.MaxMessages && w.now().Sub(start) < w.Config.MaxRuntime {
		paused, err := w.KillSwitch.IsPaused(ctx, job.ConversationID, w.now())
		if err != nil {
			return err
		}
		if paused {
			return nil
		}

		headID, ok, err := w.Queue.Peek(ctx, job.ConversationID)
		if err != nil {
			return err
		}
		if !ok {
			lastHead = ""
			break
		}
		lastHead = headID

		head, err := w.Meta.GetMessageMetadata(ctx, headID)
		if err != nil {
			return err
		}
		cursorCreated, cursorID := conv.Cursor()
		if head == nil || !head.IsTriggerCandidate() || messageAtOrBeforeCursor(head, cursorCreated, cursorID) {
			if err := w.Queue.Remove(ctx, job.ConversationID, headID); err != nil {
				return err
			}
			continue
		}

		result, err := w.Coalesce.Resolve(ctx, job.ConversationID, head)
		if err != nil {
			return err
		}

		runID := w.NewID(w.now())
		if w.Dedup != nil {
			runID, _, err = w.Dedup.TriggerDeduplicated(ctx, dedup.TriggerParams{
				ConversationID:  job.ConversationID,
				Direction:       convmodel.DirectionReply,
				NewRunID:        runID,
				AnchorMessageID: result.EffectiveTrigger.ID,
				AnchorCreatedAt: result.EffectiveTrigger.CreatedAt,
				Now:             w.now(),
			})
			if err != nil {
				return err
			}
		}

		outcome := w.Pipeline.Run(ctx, pipeline.Trigger{
			ConversationID:   job.ConversationID,
			AIAgentID:        job.AIAgentID,
			OrganizationID:   conv.OrganizationID,
			WebsiteID:        conv.WebsiteID,
			VisitorID:        conv.VisitorID,
			TriggerMessageID: result.EffectiveTrigger.ID,
			TriggerCreatedAt: result.EffectiveTrigger.CreatedAt,
			Direction:        convmodel.DirectionReply,
			RunID:            runID,
			BatchedReason:    result.BatchedReason(),
		})

		switch outcome.Status {
		case pipeline.OutcomeSuccess, pipeline.OutcomeSkipped, pipeline.OutcomeCancelled:
			if err := w.Queue.RemoveMany(ctx, job.ConversationID, result.CoalescedIDs); err != nil {
				return err
			}
			processed += len(result.CoalescedIDs)
			if _, err := w.Queue.Renew(ctx, job.ConversationID, job.ID, w.Config.LockTTL); err != nil {
				return err
			}
			if err := w.failures.clear(ctx, job.ConversationID, result.EffectiveTrigger.ID); err != nil {
				return err
			}
			conv.AIAgentLastProcessedMessageID = result.EffectiveTrigger.ID
			conv.AIAgentLastProcessedMessageCreated = result.EffectiveTrigger.CreatedAt

		case pipeline.OutcomeError:
			count, cerr := w.failures.increment(ctx, job.ConversationID, result.EffectiveTrigger.ID)
			if cerr != nil {
				return cerr
			}
			observability.EmitRunAttempt(&observability.RunAttemptEvent{
				SessionID: job.ConversationID,
				RunID:     runID,
				Attempt:   int(count),
			})
			// Partial success forces non-retryable treatment regardless of
			// the stage's own verdict, per spec.md §7 ("Partial success").
			retryable := outcome.Retryable && outcome.PublicMessagesSent == 0
			if count < w.Config.FailureThreshold && retryable {
				w.waitBackoff(ctx, count)
				return nil // preserve head; a later continuation retries
			}
			if count >= w.Config.FailureThreshold {
				observability.EmitSessionStuck(&observability.SessionStuckEvent{
					SessionID: job.ConversationID,
					State:     observability.SessionStateProcessing,
					AgeMs:     w.now().Sub(start).Milliseconds(),
				})
			}
			if err := w.Queue.RemoveMany(ctx, job.ConversationID, result.CoalescedIDs); err != nil {
				return err
			}
			processed += len(result.CoalescedIDs)
			if err := w.failures.clear(ctx, job.ConversationID, result.EffectiveTrigger.ID); err != nil {
				return err
			}
			conv.AIAgentLastProcessedMessageID = result.EffectiveTrigger.ID
			conv.AIAgentLastProcessedMessageCreated = result.EffectiveTrigger.CreatedAt
		}
	}

	remaining, err := w.Queue.Size(ctx, job.ConversationID)
	if err != nil {
		return err
	}
	if w.Metrics != nil {
		w.Metrics.SetQueueDepth(job.ConversationID, remaining)
	}
	if remaining > 0 && lastHead != "" && w.Continue != nil {
		if err := w.Continue.WakeContinuation(ctx, job.ConversationID, lastHead); err != nil {
			return err
		}
	}
	return nil
}

// waitBackoff pauses before the caller releases the lock, so a retried job
// isn't redelivered at full speed against a still-failing downstream call.
// attempt is the failure count (1-indexed); the wait is skipped if ctx is
// already done.
func (w *Worker) waitBackoff(ctx context.Context, attempt int64) {
	d := backoff.ComputeBackoff(w.Config.RetryBackoff, int(attempt))
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func messageAtOrBeforeCursor(m *convmodel.MessageMeta, cursorCreated time.Time, cursorID string) bool {
	if cursorID == "" {
		return false
	}
	if m.CreatedAt.Equal(cursorCreated) {
		return m.ID <= cursorID
	}
	return m.CreatedAt.Before(cursorCreated)
}

func (w *Worker) hydrateQueueIfEmpty(ctx context.Context, conv *convmodel.Conversation) error {
	size, err := w.Queue.Size(ctx, conv.ID)
	if err != nil {
		return err
	}
	if size > 0 {
		return nil
	}
	cursorCreated, cursorID := conv.Cursor()
	metas, err := w.Meta.GetConversationMessagesAfterCursor(ctx, conv.ID, cursorCreated, cursorID, 500)
	if err != nil {
		return err
	}
	for _, m := range metas {
		if !m.IsTriggerCandidate() {
			continue
		}
		if err := w.Queue.Push(ctx, conv.ID, m.ID); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) emitConversationSeen(ctx context.Context, job Job, conv *convmodel.Conversation) {
	w.Emitter.Publish(ctx, emitter.Event{
		Kind:           emitter.KindConversationSeen,
		OrganizationID: conv.OrganizationID,
		WebsiteID:      conv.WebsiteID,
		ConversationID: conv.ID,
		VisitorID:      conv.VisitorID,
		Audience:       emitter.AudienceAll,
		Time:           w.now(),
	})
}
