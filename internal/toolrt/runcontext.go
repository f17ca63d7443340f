package toolrt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/conversationai/pipeline/internal/db"
	"github.com/conversationai/pipeline/pkg/convmodel"
)

// RunContext is the reply-context value carried into every tool call
// during one pipeline run, per spec.md §4.8's sendVisitorMessage contract
// ({allowPublicMessages, triggerMessageId, conversationId, conversation,
// websiteId, visitorId, aiAgentId, counters, stopTyping, startTyping,
// triggerSenderType, triggerVisibility, onPublicMessageSent}). Unlike the
// teacher's tool execution path, which threads state through closures
// captured at registration time, this is an explicit value passed to
// every Execute call so the ledger below is unambiguous per run.
type RunContext struct {
	Ctx context.Context

	OrganizationID      string
	WebsiteID           string
	ConversationID      string
	VisitorID           string
	AIAgentID           string
	AllowPublicMessages bool

	TriggerMessageID  string
	TriggerSenderType convmodel.SenderType
	TriggerVisibility convmodel.Visibility

	BehaviorSettings convmodel.BehaviorSettings

	Repo     db.Repository
	Now      func() time.Time
	StopTyping         func(ctx context.Context)
	StartTyping        func(ctx context.Context)
	OnPublicMessageSent func(ctx context.Context, msg *convmodel.Message)

	mu               sync.Mutex
	sendIndex        int
	sentNormalized   map[string]bool
	heartbeatStopped bool
	paused           bool
}

// NewRunContext builds a RunContext with its ledger initialized.
func NewRunContext(ctx context.Context) *RunContext {
	return &RunContext{
		Ctx:            ctx,
		Now:            time.Now,
		sentNormalized: make(map[string]bool),
	}
}

func normalizeMessageText(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// checkAndMarkDuplicate reports whether normalized text was already sent
// earlier in this run, recording it if not (per-run duplicate
// suppression, spec.md §4.8 and invariant 7).
func (rc *RunContext) checkAndMarkDuplicate(text string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	key := normalizeMessageText(text)
	if rc.sentNormalized[key] {
		return true
	}
	rc.sentNormalized[key] = true
	return false
}

// nextSlotKey returns the slot-based idempotency key
// send:{conversationId}:{triggerMessageId}:slot:{N}, incrementing the
// monotonic send index within the run.
func (rc *RunContext) nextSlotKey() string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	slot := rc.sendIndex
	rc.sendIndex++
	return fmt.Sprintf("send:%s:%s:slot:%d", rc.ConversationID, rc.TriggerMessageID, slot)
}

// markHeartbeatStoppedOnce stops the typing heartbeat on the first
// sendVisitorMessage call in a run only; later calls are emitted directly
// without re-arming typing, per spec.md §4.8 ("do not restart typing
// afterwards").
func (rc *RunContext) markHeartbeatStoppedOnce() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.heartbeatStopped {
		return false
	}
	rc.heartbeatStopped = true
	return true
}

// setPaused records that the conversation went AI-paused mid-run so
// subsequent sendVisitorMessage calls in this run are dropped.
func (rc *RunContext) setPaused() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.paused = true
}

// isPaused reports the mid-run pause flag.
func (rc *RunContext) isPaused() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.paused
}
