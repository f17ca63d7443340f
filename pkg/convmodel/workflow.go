package convmodel

import "time"

// Direction distinguishes workflow chains (currently only outbound replies,
// but the registry is keyed by direction so other flows, e.g. proactive
// outreach, can share the mechanism without colliding).
type Direction string

const (
	DirectionReply     Direction = "reply"
	DirectionProactive Direction = "proactive"
)

// WorkflowState is the dedup-registry value for one (conversation,
// direction) pair. On supersede, AnchorMessageID/AnchorCreatedAt are
// carried forward unchanged from the original trigger (invariant 6).
type WorkflowState struct {
	RunID            string
	AnchorMessageID  string
	AnchorCreatedAt  time.Time
	ConversationID   string
	Direction        Direction
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TriggerQueueEntry is one pending message id in a conversation's FIFO.
type TriggerQueueEntry struct {
	MessageID string
	CreatedAt time.Time
}
