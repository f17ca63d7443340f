// Package db defines the conversation/message/agent persistence contract
// (spec.md §6 DB contract) and ships two implementations: internal/db/
// postgres (github.com/jackc/pgx/v5, the system of record) and
// internal/db/memory (an in-process fake for unit and scenario tests).
package db

import (
	"context"
	"time"

	"github.com/conversationai/pipeline/pkg/convmodel"
)

// VisitorContext is the subset of visitor/contact fields the context
// builder (C11) compiles into a markdown block.
type VisitorContext struct {
	Name     string
	Email    string
	City     string
	Country  string
	Language string
	Timezone string
	Browser  string
	Device   string
}

// KnowledgeSnippet is one search result from the knowledge base.
type KnowledgeSnippet struct {
	Text       string
	Source     string
	Confidence float64
}

// Repository is the read/write contract the pipeline depends on. It is
// deliberately narrow: no transaction type is exposed to callers above
// C11/C8, matching the spec's framing of the database as an external
// collaborator specified only by its contract.
type Repository interface {
	// Reads
	GetConversationByID(ctx context.Context, conversationID string) (*convmodel.Conversation, error)
	GetMessageMetadata(ctx context.Context, messageID string) (*convmodel.MessageMeta, error)
	GetMessageMetadataBatch(ctx context.Context, ids []string) (map[string]*convmodel.MessageMeta, error)
	GetConversationMessagesAfterCursor(ctx context.Context, conversationID string, after time.Time, afterID string, limit int) ([]*convmodel.MessageMeta, error)
	GetLatestPublicVisitorMessageID(ctx context.Context, conversationID string) (string, bool, error)
	GetAIAgentByID(ctx context.Context, agentID string) (*convmodel.AiAgent, error)
	GetVisitorWithContact(ctx context.Context, visitorID string) (*VisitorContext, error)
	GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]*convmodel.Message, error)
	SearchKnowledgeBase(ctx context.Context, organizationID, query string, limit int) ([]KnowledgeSnippet, error)

	// Writes
	MarkConversationAsSeen(ctx context.Context, conversationID string, at time.Time) error
	UpdateConversationAICursor(ctx context.Context, conversationID, messageID string, createdAt time.Time) error
	SendMessages(ctx context.Context, conversationID string, messages []OutgoingMessage) ([]*convmodel.Message, error)
	UpdateAIAgentUsage(ctx context.Context, agentID string, promptTokens, completionTokens int) error
	RecordEscalation(ctx context.Context, conversationID, reason string) error
	SetConversationTitle(ctx context.Context, conversationID, title string) error
	SetConversationPriority(ctx context.Context, conversationID, priority string) error
	UpdateSentiment(ctx context.Context, conversationID, label string) error
	SetAIPausedUntil(ctx context.Context, conversationID string, until *time.Time) error
}

// OutgoingMessage is one message to insert via SendMessages.
type OutgoingMessage struct {
	BodyMarkdown string
	SenderType   convmodel.SenderType
	Visibility   convmodel.Visibility
}

// DurableAIPause adapts Repository to internal/killswitch.DurableLookup,
// so the kill-switch's cache-miss fallback reads the same conversation
// row the pipeline already depends on.
type DurableAIPause struct {
	Repo Repository
}

// AIPausedUntil implements killswitch.DurableLookup.
func (d DurableAIPause) AIPausedUntil(ctx context.Context, conversationID string) (*time.Time, error) {
	conv, err := d.Repo.GetConversationByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, nil
	}
	return conv.AIPausedUntil, nil
}
