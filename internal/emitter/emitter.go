// Package emitter publishes typed realtime events to widget/dashboard
// audiences (spec component C1). It is fire-and-forget: publish failures
// are logged but never surfaced to pipeline callers, the same contract the
// teacher's agent event stream uses for UI/logging/plugin fan-out
// (pkg/models.AgentEvent).
package emitter

import (
	"context"
	"time"
)

// Audience is the set of external subscribers an event reaches.
type Audience string

const (
	AudienceAll       Audience = "all"
	AudienceDashboard Audience = "dashboard"
	AudienceWidget    Audience = "widget"
)

// Kind identifies the event type, per spec.md §6.
type Kind string

const (
	KindWorkflowStarted   Kind = "workflowStarted"
	KindDecisionMade      Kind = "decisionMade"
	KindGenerationProgress Kind = "generationProgress"
	KindToolProgress      Kind = "toolProgress"
	KindTyping            Kind = "typing"
	KindWorkflowCompleted Kind = "workflowCompleted"
	KindConversationSeen  Kind = "conversationSeen"
)

// Event is one realtime fan-out message. Payload fields are a flat struct
// rather than an interface union (unlike the teacher's AgentEvent, which
// carries distinct typed payload pointers) because every event kind here
// shares the same routing envelope and differs only in a handful of
// optional fields.
type Event struct {
	Kind Kind

	OrganizationID string
	WebsiteID      string
	ConversationID string
	VisitorID      string // optional
	UserID         string // optional

	Audience Audience
	Time     time.Time

	// Decision / generation / tool / typing / workflow-completed payload
	// fields. Only the ones relevant to Kind are populated.
	ShouldAct    bool
	Reason       string
	Phase        string // generationProgress: thinking|generating|finalizing
	Tool         string
	ToolState    string // started|finished
	IsTyping     bool
	Status       string // workflowCompleted: success|error|cancelled|skipped
	Action       string
}

// Sink is the publish contract. Implementations must not block pipeline
// progression on delivery failure: Publish always logs failures itself and
// returns an error only so that the small number of callers that need a
// bounded-retry guarantee (the typing heartbeat's stop() event, per
// spec.md §4.2) can detect it. Every other caller treats emission as
// fire-and-forget and ignores the return value.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// ErrorLogger is the minimal logging seam emitter implementations use to
// report publish failures, satisfied by internal/observability.Logger.
type ErrorLogger interface {
	Error(ctx context.Context, msg string, kv ...any)
}

// DecisionAudience implements the §4.1 audience policy for decisionMade.
func DecisionAudience(shouldAct bool) Audience {
	if shouldAct {
		return AudienceAll
	}
	return AudienceDashboard
}

// WorkflowCompletedAudience implements the §4.1 audience policy for
// workflowCompleted.
func WorkflowCompletedAudience(status string) Audience {
	if status == "success" {
		return AudienceAll
	}
	return AudienceDashboard
}
