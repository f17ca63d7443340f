// Package postgres implements internal/db.Repository against Postgres
// using github.com/jackc/pgx/v5, the sole driver this system of record
// needs (the teacher splits storage across database/sql + lib/pq for one
// store and pgx for another; there is only one store here, so it takes
// the modern driver and lib/pq has no second store left to serve — see
// DESIGN.md). Config/constructor shape follows the same pattern as the
// teacher's CockroachStore: a Config struct builds a DSN, New opens a
// pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conversationai/pipeline/internal/db"
	"github.com/conversationai/pipeline/pkg/convmodel"
)

// Config holds the connection parameters.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int32
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Database:        "pipeline",
		SSLMode:         "disable",
		MaxConns:        20,
		MaxConnIdleTime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

func (c *Config) dsn() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode, int(c.ConnectTimeout.Seconds()),
	)
}

// Repository implements internal/db.Repository against a pgxpool.Pool.
type Repository struct {
	pool *pgxpool.Pool
}

// New opens a connection pool and returns a Repository.
func New(ctx context.Context, config *Config) (*Repository, error) {
	if config == nil {
		config = DefaultConfig()
	}
	poolCfg, err := pgxpool.ParseConfig(config.dsn())
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if config.MaxConns > 0 {
		poolCfg.MaxConns = config.MaxConns
	}
	if config.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = config.MaxConnIdleTime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	return &Repository{pool: pool}, nil
}

// NewFromDSN opens a pool from a raw connection string.
func NewFromDSN(ctx context.Context, dsn string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	return &Repository{pool: pool}, nil
}

// Close releases the pool.
func (r *Repository) Close() {
	r.pool.Close()
}

func (r *Repository) GetConversationByID(ctx context.Context, conversationID string) (*convmodel.Conversation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, organization_id, website_id, COALESCE(visitor_id, ''), status,
		       ai_paused_until, COALESCE(ai_agent_last_processed_message_id, ''),
		       ai_agent_last_processed_message_created_at, assigned_human_user_ids
		FROM conversations WHERE id = $1`, conversationID)

	var c convmodel.Conversation
	var lastCreated *time.Time
	if err := row.Scan(&c.ID, &c.OrganizationID, &c.WebsiteID, &c.VisitorID, &c.Status,
		&c.AIPausedUntil, &c.AIAgentLastProcessedMessageID, &lastCreated, &c.AssignedHumanUserIDs); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get conversation: %w", err)
	}
	if lastCreated != nil {
		c.AIAgentLastProcessedMessageCreated = *lastCreated
	}
	return &c, nil
}

func (r *Repository) GetMessageMetadata(ctx context.Context, messageID string) (*convmodel.MessageMeta, error) {
	out, err := r.GetMessageMetadataBatch(ctx, []string{messageID})
	if err != nil {
		return nil, err
	}
	return out[messageID], nil
}

func (r *Repository) GetMessageMetadataBatch(ctx context.Context, ids []string) (map[string]*convmodel.MessageMeta, error) {
	if len(ids) == 0 {
		return map[string]*convmodel.MessageMeta{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, conversation_id, created_at, sender_type, visibility
		FROM messages WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: get message metadata batch: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*convmodel.MessageMeta, len(ids))
	for rows.Next() {
		var m convmodel.MessageMeta
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.CreatedAt, &m.SenderType, &m.Visibility); err != nil {
			return nil, fmt.Errorf("postgres: scan message metadata: %w", err)
		}
		out[m.ID] = &m
	}
	return out, rows.Err()
}

func (r *Repository) GetConversationMessagesAfterCursor(ctx context.Context, conversationID string, after time.Time, afterID string, limit int) ([]*convmodel.MessageMeta, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, conversation_id, created_at, sender_type, visibility
		FROM messages
		WHERE conversation_id = $1 AND (created_at, id) > ($2, $3)
		ORDER BY created_at ASC, id ASC
		LIMIT $4`, conversationID, after, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: get messages after cursor: %w", err)
	}
	defer rows.Close()

	var out []*convmodel.MessageMeta
	for rows.Next() {
		var m convmodel.MessageMeta
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.CreatedAt, &m.SenderType, &m.Visibility); err != nil {
			return nil, fmt.Errorf("postgres: scan message metadata: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (r *Repository) GetLatestPublicVisitorMessageID(ctx context.Context, conversationID string) (string, bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id FROM messages
		WHERE conversation_id = $1 AND sender_type = $2 AND visibility = $3
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		conversationID, convmodel.SenderVisitor, convmodel.VisibilityPublic)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == pgx.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("postgres: get latest visitor message: %w", err)
	}
	return id, true, nil
}

func (r *Repository) GetAIAgentByID(ctx context.Context, agentID string) (*convmodel.AiAgent, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, model, base_prompt, temperature, max_output_tokens, is_active,
		       enabled_tools, disable_tools,
		       can_resolve, can_mark_spam, can_set_priority, can_escalate,
		       auto_generate_title, auto_analyze_sentiment
		FROM ai_agents WHERE id = $1`, agentID)

	var a convmodel.AiAgent
	if err := row.Scan(&a.ID, &a.Model, &a.BasePrompt, &a.Temperature, &a.MaxOutputTokens, &a.IsActive,
		&a.Metadata.EnabledTools, &a.Metadata.DisableTools,
		&a.BehaviorSettings.CanResolve, &a.BehaviorSettings.CanMarkSpam, &a.BehaviorSettings.CanSetPriority,
		&a.BehaviorSettings.CanEscalate, &a.BehaviorSettings.AutoGenerateTitle, &a.BehaviorSettings.AutoAnalyzeSentiment); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get ai agent: %w", err)
	}
	return &a, nil
}

func (r *Repository) GetVisitorWithContact(ctx context.Context, visitorID string) (*db.VisitorContext, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT COALESCE(name, ''), COALESCE(email, ''), COALESCE(city, ''), COALESCE(country, ''),
		       COALESCE(language, ''), COALESCE(timezone, ''), COALESCE(browser, ''), COALESCE(device, '')
		FROM visitors WHERE id = $1`, visitorID)

	var v db.VisitorContext
	if err := row.Scan(&v.Name, &v.Email, &v.City, &v.Country, &v.Language, &v.Timezone, &v.Browser, &v.Device); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get visitor: %w", err)
	}
	return &v, nil
}

func (r *Repository) GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]*convmodel.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, conversation_id, created_at, sender_type, visibility, body_markdown
		FROM messages
		WHERE conversation_id = $1 AND visibility = $2
		ORDER BY created_at DESC, id DESC LIMIT $3`, conversationID, convmodel.VisibilityPublic, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: get recent messages: %w", err)
	}
	defer rows.Close()

	var out []*convmodel.Message
	for rows.Next() {
		var m convmodel.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.CreatedAt, &m.SenderType, &m.Visibility, &m.BodyMarkdown); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		out = append(out, &m)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (r *Repository) SearchKnowledgeBase(ctx context.Context, organizationID, query string, limit int) ([]db.KnowledgeSnippet, error) {
	if limit <= 0 {
		limit = 5
	}
	// Lexical full-text search over the knowledge_chunks table; an
	// embedding-based (pgvector) path is not implemented here per
	// spec.md's non-goal on embedding model choice.
	rows, err := r.pool.Query(ctx, `
		SELECT chunk_text, source, ts_rank_cd(search_vector, plainto_tsquery($2)) AS rank
		FROM knowledge_chunks
		WHERE organization_id = $1 AND search_vector @@ plainto_tsquery($2)
		ORDER BY rank DESC LIMIT $3`, organizationID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: search knowledge base: %w", err)
	}
	defer rows.Close()

	var out []db.KnowledgeSnippet
	for rows.Next() {
		var s db.KnowledgeSnippet
		if err := rows.Scan(&s.Text, &s.Source, &s.Confidence); err != nil {
			return nil, fmt.Errorf("postgres: scan knowledge snippet: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) MarkConversationAsSeen(ctx context.Context, conversationID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversation_timeline_events (conversation_id, actor, kind, created_at)
		VALUES ($1, 'ai_agent', 'seen', $2)`, conversationID, at)
	return err
}

func (r *Repository) UpdateConversationAICursor(ctx context.Context, conversationID, messageID string, createdAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE conversations
		SET ai_agent_last_processed_message_id = $2, ai_agent_last_processed_message_created_at = $3
		WHERE id = $1`, conversationID, messageID, createdAt)
	return err
}

func (r *Repository) SendMessages(ctx context.Context, conversationID string, messages []db.OutgoingMessage) ([]*convmodel.Message, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	out := make([]*convmodel.Message, 0, len(messages))
	for _, in := range messages {
		now := time.Now()
		id := convmodel.NewULID(now)
		if _, err := tx.Exec(ctx, `
			INSERT INTO messages (id, conversation_id, created_at, sender_type, visibility, body_markdown)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			id, conversationID, now, in.SenderType, in.Visibility, in.BodyMarkdown); err != nil {
			return nil, fmt.Errorf("postgres: insert message: %w", err)
		}
		out = append(out, &convmodel.Message{
			ID:             id,
			ConversationID: conversationID,
			CreatedAt:      now,
			SenderType:     in.SenderType,
			Visibility:     in.Visibility,
			BodyMarkdown:   in.BodyMarkdown,
		})
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit tx: %w", err)
	}
	return out, nil
}

func (r *Repository) UpdateAIAgentUsage(ctx context.Context, agentID string, promptTokens, completionTokens int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE ai_agents
		SET total_prompt_tokens = total_prompt_tokens + $2,
		    total_completion_tokens = total_completion_tokens + $3
		WHERE id = $1`, agentID, promptTokens, completionTokens)
	return err
}

func (r *Repository) RecordEscalation(ctx context.Context, conversationID, reason string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversation_timeline_events (conversation_id, actor, kind, visibility, payload, created_at)
		VALUES ($1, 'ai_agent', 'participant_requested', $2, $3, $4)`,
		conversationID, convmodel.VisibilityPublic, reason, time.Now())
	return err
}

func (r *Repository) SetConversationTitle(ctx context.Context, conversationID, title string) error {
	_, err := r.pool.Exec(ctx, `UPDATE conversations SET title = $2 WHERE id = $1`, conversationID, title)
	return err
}

func (r *Repository) SetConversationPriority(ctx context.Context, conversationID, priority string) error {
	_, err := r.pool.Exec(ctx, `UPDATE conversations SET priority = $2 WHERE id = $1`, conversationID, priority)
	return err
}

func (r *Repository) UpdateSentiment(ctx context.Context, conversationID, label string) error {
	_, err := r.pool.Exec(ctx, `UPDATE conversations SET sentiment = $2 WHERE id = $1`, conversationID, label)
	return err
}

func (r *Repository) SetAIPausedUntil(ctx context.Context, conversationID string, until *time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE conversations SET ai_paused_until = $2 WHERE id = $1`, conversationID, until)
	return err
}

var _ db.Repository = (*Repository)(nil)
