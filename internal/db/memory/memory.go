// Package memory is an in-process fake of internal/db.Repository used by
// unit tests and the scenario harness in internal/pipeline, grounded on
// the teacher's internal/sessions.Store in-memory test doubles (simple
// maps guarded by one mutex, no persistence).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/conversationai/pipeline/internal/db"
	"github.com/conversationai/pipeline/pkg/convmodel"
)

// Repository is an in-memory db.Repository implementation.
type Repository struct {
	mu sync.Mutex

	conversations map[string]*convmodel.Conversation
	messages      map[string]*convmodel.Message
	agents        map[string]*convmodel.AiAgent
	visitors      map[string]*db.VisitorContext
	knowledge     map[string][]db.KnowledgeSnippet // keyed by organizationID

	agentUsage map[string][2]int // agentID -> {promptTokens, completionTokens}
	escalations []escalation
}

type escalation struct {
	ConversationID string
	Reason         string
}

// New creates an empty Repository.
func New() *Repository {
	return &Repository{
		conversations: make(map[string]*convmodel.Conversation),
		messages:      make(map[string]*convmodel.Message),
		agents:        make(map[string]*convmodel.AiAgent),
		visitors:      make(map[string]*db.VisitorContext),
		knowledge:     make(map[string][]db.KnowledgeSnippet),
		agentUsage:    make(map[string][2]int),
	}
}

// Seeding helpers (test-only, not part of db.Repository).

func (r *Repository) PutConversation(c *convmodel.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.conversations[c.ID] = &cp
}

func (r *Repository) PutMessage(m *convmodel.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.messages[m.ID] = &cp
}

func (r *Repository) PutAgent(a *convmodel.AiAgent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.agents[a.ID] = &cp
}

func (r *Repository) PutVisitor(id string, ctx *db.VisitorContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.visitors[id] = ctx
}

func (r *Repository) PutKnowledge(organizationID string, snippets []db.KnowledgeSnippet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.knowledge[organizationID] = snippets
}

// AgentUsage exposes accumulated usage for assertions in tests.
func (r *Repository) AgentUsage(agentID string) (promptTokens, completionTokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.agentUsage[agentID]
	return u[0], u[1]
}

// Escalations exposes recorded escalations for assertions in tests.
func (r *Repository) Escalations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.escalations))
	for i, e := range r.escalations {
		out[i] = e.ConversationID + ":" + e.Reason
	}
	return out
}

// db.Repository implementation.

func (r *Repository) GetConversationByID(_ context.Context, conversationID string) (*convmodel.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *Repository) GetMessageMetadata(_ context.Context, messageID string) (*convmodel.MessageMeta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[messageID]
	if !ok {
		return nil, nil
	}
	return messageMeta(m), nil
}

func (r *Repository) GetMessageMetadataBatch(_ context.Context, ids []string) (map[string]*convmodel.MessageMeta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*convmodel.MessageMeta, len(ids))
	for _, id := range ids {
		if m, ok := r.messages[id]; ok {
			out[id] = messageMeta(m)
		}
	}
	return out, nil
}

func (r *Repository) GetConversationMessagesAfterCursor(_ context.Context, conversationID string, after time.Time, afterID string, limit int) ([]*convmodel.MessageMeta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matches []*convmodel.Message
	for _, m := range r.messages {
		if m.ConversationID != conversationID {
			continue
		}
		if m.CreatedAt.Before(after) {
			continue
		}
		if m.CreatedAt.Equal(after) && m.ID <= afterID {
			continue
		}
		matches = append(matches, m)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Before(matches[j]) })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]*convmodel.MessageMeta, len(matches))
	for i, m := range matches {
		out[i] = messageMeta(m)
	}
	return out, nil
}

func (r *Repository) GetLatestPublicVisitorMessageID(_ context.Context, conversationID string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *convmodel.Message
	for _, m := range r.messages {
		if m.ConversationID != conversationID {
			continue
		}
		if !m.IsTriggerCandidate() {
			continue
		}
		if latest == nil || latest.Before(m) {
			latest = m
		}
	}
	if latest == nil {
		return "", false, nil
	}
	return latest.ID, true, nil
}

func (r *Repository) GetAIAgentByID(_ context.Context, agentID string) (*convmodel.AiAgent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *Repository) GetVisitorWithContact(_ context.Context, visitorID string) (*db.VisitorContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.visitors[visitorID]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (r *Repository) GetRecentMessages(_ context.Context, conversationID string, limit int) ([]*convmodel.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matches []*convmodel.Message
	for _, m := range r.messages {
		if m.ConversationID == conversationID && m.Visibility == convmodel.VisibilityPublic {
			matches = append(matches, m)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Before(matches[j]) })
	if limit > 0 && len(matches) > limit {
		matches = matches[len(matches)-limit:]
	}
	out := make([]*convmodel.Message, len(matches))
	for i, m := range matches {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}

func (r *Repository) SearchKnowledgeBase(_ context.Context, organizationID, _ string, limit int) ([]db.KnowledgeSnippet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snippets := r.knowledge[organizationID]
	if limit > 0 && len(snippets) > limit {
		snippets = snippets[:limit]
	}
	out := make([]db.KnowledgeSnippet, len(snippets))
	copy(out, snippets)
	return out, nil
}

func (r *Repository) MarkConversationAsSeen(_ context.Context, conversationID string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conversations[conversationID]; !ok {
		return nil
	}
	return nil
}

func (r *Repository) UpdateConversationAICursor(_ context.Context, conversationID, messageID string, createdAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[conversationID]
	if !ok {
		return nil
	}
	c.AIAgentLastProcessedMessageID = messageID
	c.AIAgentLastProcessedMessageCreated = createdAt
	return nil
}

func (r *Repository) SendMessages(_ context.Context, conversationID string, messages []db.OutgoingMessage) ([]*convmodel.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	out := make([]*convmodel.Message, 0, len(messages))
	for _, in := range messages {
		m := &convmodel.Message{
			ID:             convmodel.NewULID(now),
			ConversationID: conversationID,
			CreatedAt:      now,
			SenderType:     in.SenderType,
			Visibility:     in.Visibility,
			BodyMarkdown:   in.BodyMarkdown,
		}
		r.messages[m.ID] = m
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (r *Repository) UpdateAIAgentUsage(_ context.Context, agentID string, promptTokens, completionTokens int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.agentUsage[agentID]
	u[0] += promptTokens
	u[1] += completionTokens
	r.agentUsage[agentID] = u
	return nil
}

func (r *Repository) RecordEscalation(_ context.Context, conversationID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escalations = append(r.escalations, escalation{ConversationID: conversationID, Reason: reason})
	return nil
}

func (r *Repository) SetConversationTitle(_ context.Context, _ string, _ string) error {
	return nil
}

func (r *Repository) SetConversationPriority(_ context.Context, _ string, _ string) error {
	return nil
}

func (r *Repository) UpdateSentiment(_ context.Context, _ string, _ string) error {
	return nil
}

func (r *Repository) SetAIPausedUntil(_ context.Context, conversationID string, until *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[conversationID]
	if !ok {
		return nil
	}
	c.AIPausedUntil = until
	return nil
}

func messageMeta(m *convmodel.Message) *convmodel.MessageMeta {
	return &convmodel.MessageMeta{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		CreatedAt:      m.CreatedAt,
		SenderType:     m.SenderType,
		Visibility:     m.Visibility,
	}
}

var _ db.Repository = (*Repository)(nil)
