package convmodel

import "time"

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderVisitor     SenderType = "visitor"
	SenderHumanAgent  SenderType = "human_agent"
	SenderAIAgent     SenderType = "ai_agent"
)

// Visibility controls whether a message is visible to the visitor.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// MessagePart is a single typed content block within a message (text,
// attachment reference, tool-call echo, etc). The pipeline only looks at
// Text parts; richer part kinds are opaque passthrough for the transport.
type MessagePart struct {
	Kind string
	Text string
}

// Message is immutable once created (soft-deleted only, never mutated).
// IDs are ULIDs so lexicographic string comparison gives time order, which
// is what the FIFO and coalescing algorithms rely on.
type Message struct {
	ID             string
	ConversationID string
	CreatedAt      time.Time
	SenderType     SenderType
	Visibility     Visibility
	BodyMarkdown   string
	Parts          []MessagePart
}

// IsTriggerCandidate reports whether a message can ever cause a drain
// (visitor messages always can; human/ai messages only advance context).
func (m *Message) IsTriggerCandidate() bool {
	return m != nil && m.SenderType == SenderVisitor && m.Visibility == VisibilityPublic
}

// Before implements the total (createdAt, id) order invariant 3/5 rely on.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// MessageMeta is the lightweight projection the drain loop and coalescing
// policy load instead of full message bodies.
type MessageMeta struct {
	ID             string
	ConversationID string
	CreatedAt      time.Time
	SenderType     SenderType
	Visibility     Visibility
}
