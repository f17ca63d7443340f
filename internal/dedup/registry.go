// Package dedup implements the workflow dedup registry (spec component
// C3): a Redis-backed map from (conversationId, direction) to the
// currently active run, with a fixed TTL and the supersede semantics that
// let a newer trigger cancel an in-flight run while preserving the
// original anchor (invariant 6). Grounded on internal/store.Store, the
// same shared key-value abstraction the queue and kill-switch use.
package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/conversationai/pipeline/internal/store"
	"github.com/conversationai/pipeline/pkg/convmodel"
)

// TTL is the registry entry lifetime (spec.md §4.3).
const TTL = 24 * time.Hour

// Canceller is invoked best-effort when a run is superseded. Errors are
// swallowed: correctness depends only on isActive guarding side effects,
// never on cancellation actually landing (spec.md §4.3).
type Canceller func(ctx context.Context, runID string)

// Registry implements get/set/clear/triggerDeduplicated/isActive.
type Registry struct {
	store store.Store
}

// New creates a Registry backed by the given store.
func New(s store.Store) *Registry {
	return &Registry{store: s}
}

func key(conversationID string, direction convmodel.Direction) string {
	return fmt.Sprintf("workflow:message:%s:%s", conversationID, direction)
}

// Get returns the current workflow state, if any.
func (r *Registry) Get(ctx context.Context, conversationID string, direction convmodel.Direction) (*convmodel.WorkflowState, error) {
	raw, ok, err := r.store.Get(ctx, key(conversationID, direction))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var state convmodel.WorkflowState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("dedup: decode workflow state: %w", err)
	}
	return &state, nil
}

// Set stores a workflow state with the given TTL. Set must happen-before
// any publish referencing the new runId (spec.md §4.3 ordering note).
func (r *Registry) Set(ctx context.Context, state convmodel.WorkflowState, ttl time.Duration) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("dedup: encode workflow state: %w", err)
	}
	return r.store.SetEX(ctx, key(state.ConversationID, state.Direction), string(raw), ttl)
}

// Clear removes the workflow state for a conversation/direction.
func (r *Registry) Clear(ctx context.Context, conversationID string, direction convmodel.Direction) error {
	return r.store.Del(ctx, key(conversationID, direction))
}

// TriggerParams is the input to TriggerDeduplicated.
type TriggerParams struct {
	ConversationID  string
	Direction       convmodel.Direction
	NewRunID        string
	AnchorMessageID string // if empty and a prior state exists, the prior anchor carries forward
	AnchorCreatedAt time.Time
	Now             time.Time
	Cancel          Canceller
}

// TriggerDeduplicated atomically (from the caller's point of view)
// replaces any active run with a new one, best-effort cancelling the old
// run and preserving the original anchor (invariant 6). Returns the new
// run id and whether an existing run was replaced.
func (r *Registry) TriggerDeduplicated(ctx context.Context, p TriggerParams) (runID string, isReplacement bool, err error) {
	prior, err := r.Get(ctx, p.ConversationID, p.Direction)
	if err != nil {
		return "", false, err
	}

	anchorID := p.AnchorMessageID
	anchorCreated := p.AnchorCreatedAt
	isReplacement = prior != nil
	if prior != nil {
		anchorID = prior.AnchorMessageID
		anchorCreated = prior.AnchorCreatedAt
	}

	next := convmodel.WorkflowState{
		RunID:           p.NewRunID,
		AnchorMessageID: anchorID,
		AnchorCreatedAt: anchorCreated,
		ConversationID:  p.ConversationID,
		Direction:       p.Direction,
		CreatedAt:       p.Now,
		UpdatedAt:       p.Now,
	}
	if prior != nil {
		next.CreatedAt = prior.CreatedAt
	}

	if err := r.Set(ctx, next, TTL); err != nil {
		return "", false, err
	}

	if isReplacement && p.Cancel != nil {
		p.Cancel(ctx, prior.RunID)
	}

	return next.RunID, isReplacement, nil
}

// IsActive reports whether runID is still the registry's current run for
// conversationId/direction. Pipeline stages must check this between steps
// and return skip{superseded} on a mismatch (spec.md §4.7, §7).
func (r *Registry) IsActive(ctx context.Context, conversationID string, direction convmodel.Direction, runID string) (bool, error) {
	state, err := r.Get(ctx, conversationID, direction)
	if err != nil {
		return false, err
	}
	if state == nil {
		return false, nil
	}
	return state.RunID == runID, nil
}
