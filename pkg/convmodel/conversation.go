// Package convmodel provides the domain types for the AI agent conversation
// pipeline: conversations, messages, agents, and the ephemeral state the
// scheduler and pipeline pass between stages.
package convmodel

import "time"

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationOpen     ConversationStatus = "open"
	ConversationResolved ConversationStatus = "resolved"
	ConversationSpam     ConversationStatus = "spam"
)

// Conversation identifies a single visitor/team thread within a tenant.
type Conversation struct {
	ID             string
	OrganizationID string
	WebsiteID      string
	VisitorID      string // empty if no known visitor

	Status                              ConversationStatus
	AIPausedUntil                       *time.Time
	AIAgentLastProcessedMessageID       string
	AIAgentLastProcessedMessageCreated  time.Time
	AssignedHumanUserIDs                []string
}

// IsPaused reports whether the AI agent is currently paused for this
// conversation, given the current time.
func (c *Conversation) IsPaused(now time.Time) bool {
	if c == nil || c.AIPausedUntil == nil {
		return false
	}
	return now.Before(*c.AIPausedUntil)
}

// HasAssignedHuman reports whether a human is currently assigned.
func (c *Conversation) HasAssignedHuman() bool {
	return c != nil && len(c.AssignedHumanUserIDs) > 0
}

// Cursor returns the (createdAt, id) pair the monotonic-cursor invariant is
// defined over.
func (c *Conversation) Cursor() (time.Time, string) {
	if c == nil {
		return time.Time{}, ""
	}
	return c.AIAgentLastProcessedMessageCreated, c.AIAgentLastProcessedMessageID
}
