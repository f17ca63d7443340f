// Package coalesce decides when consecutive visitor messages merge into a
// single effective trigger (spec component C5), adapted from the shape of
// the teacher's gateway.MessageDebouncer (one timer per pending batch,
// buffer flushed under lock) but replacing session-keyed batching with the
// consecutive-visitor-run walk spec.md §4.5 requires.
package coalesce

import (
	"context"
	"time"

	"github.com/conversationai/pipeline/pkg/convmodel"
)

// DefaultBatchLimit is COALESCE_BATCH_LIMIT from spec.md §4.5.
const DefaultBatchLimit = 10

// DefaultDebounce is the recommended VISITOR_DEBOUNCE_MS window.
const DefaultDebounce = 250 * time.Millisecond

// QueuePeeker is the subset of internal/queue.Queue the policy needs.
type QueuePeeker interface {
	PeekBatch(ctx context.Context, conversationID string, n int) ([]string, error)
}

// MetaLookup loads sender metadata for a batch of message ids, implemented
// by internal/db.Repository.GetMessageMetadataBatch.
type MetaLookup interface {
	GetMessageMetadataBatch(ctx context.Context, ids []string) (map[string]*convmodel.MessageMeta, error)
}

// Result is the outcome of resolving one head trigger.
type Result struct {
	EffectiveTrigger *convmodel.MessageMeta
	CoalescedIDs     []string
}

// BatchedReason builds the decisionMade reason suffix spec.md's S2 scenario
// expects ("batched 3 visitor messages") when more than one id coalesced.
func (r *Result) BatchedReason() string {
	if r == nil || len(r.CoalescedIDs) <= 1 {
		return ""
	}
	return batchedReasonText(len(r.CoalescedIDs))
}

// Policy implements the coalescing algorithm.
type Policy struct {
	queue      QueuePeeker
	meta       MetaLookup
	debounce   time.Duration
	batchLimit int
	sleep      func(time.Duration)
}

// New creates a Policy. debounce <= 0 uses DefaultDebounce; batchLimit <= 0
// uses DefaultBatchLimit.
func New(queue QueuePeeker, meta MetaLookup, debounce time.Duration, batchLimit int) *Policy {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	return &Policy{queue: queue, meta: meta, debounce: debounce, batchLimit: batchLimit, sleep: time.Sleep}
}

// Resolve runs steps 1-5 of spec.md §4.5 for a conversation whose head
// message is already known to be a visitor-public trigger candidate (the
// caller, internal/drain.Worker, establishes that via step 5 of §4.9
// before invoking coalescing). Human/ai messages never reach here: they
// are handled by the drain loop directly, per step 6.
func (p *Policy) Resolve(ctx context.Context, conversationID string, head *convmodel.MessageMeta) (*Result, error) {
	p.sleep(p.debounce)

	ids, err := p.queue.PeekBatch(ctx, conversationID, p.batchLimit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return &Result{EffectiveTrigger: head, CoalescedIDs: []string{head.ID}}, nil
	}

	metas, err := p.meta.GetMessageMetadataBatch(ctx, ids)
	if err != nil {
		return nil, err
	}

	start := 0
	for i, id := range ids {
		if id == head.ID {
			start = i
			break
		}
	}

	coalesced := []string{head.ID}
	effective := head

	for i := start + 1; i < len(ids); i++ {
		id := ids[i]
		sibling, ok := metas[id]
		if !ok {
			break // gap: metadata missing, stop the walk
		}
		if sibling.SenderType != convmodel.SenderVisitor || sibling.Visibility != convmodel.VisibilityPublic {
			break // first non-visitor stops coalescing (step 6)
		}
		if !sibling.CreatedAt.After(head.CreatedAt) {
			break // must be strictly after the head's createdAt
		}
		coalesced = append(coalesced, id)
		effective = sibling
	}

	return &Result{EffectiveTrigger: effective, CoalescedIDs: coalesced}, nil
}

func batchedReasonText(n int) string {
	return "batched " + itoa(n) + " visitor messages"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
