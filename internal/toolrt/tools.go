package toolrt

import (
	"encoding/json"
	"time"

	"github.com/conversationai/pipeline/internal/db"
	"github.com/conversationai/pipeline/pkg/convmodel"
)

// sendVisitorMessageSchema matches spec.md §4.8's sendVisitorMessage input.
const sendVisitorMessageSchema = `{
  "type": "object",
  "properties": {"message": {"type": "string", "minLength": 1}},
  "required": ["message"],
  "additionalProperties": false
}`

type sendVisitorMessageInput struct {
	Message string `json:"message"`
}

type sendVisitorMessageResult struct {
	Sent                   bool      `json:"sent"`
	MessageID              string    `json:"messageId,omitempty"`
	Created                time.Time `json:"created,omitempty"`
	Paused                 bool      `json:"paused,omitempty"`
	StaleTriggerSuppressed bool      `json:"staleTriggerSuppressed,omitempty"`
	DuplicateSuppressed    bool      `json:"duplicateSuppressed,omitempty"`
}

// SendVisitorMessageTool is the multi-turn reply primitive, grounded on
// spec.md §4.8's full contract: stale-trigger suppression, per-run
// duplicate suppression, slot-based idempotency, and the one-shot
// heartbeat stop.
type SendVisitorMessageTool struct{}

func (SendVisitorMessageTool) Name() string        { return "sendVisitorMessage" }
func (SendVisitorMessageTool) Description() string {
	return "Send a reply visible to the visitor in this conversation."
}
func (SendVisitorMessageTool) Schema() []byte { return []byte(sendVisitorMessageSchema) }

func (SendVisitorMessageTool) Execute(rc *RunContext, input json.RawMessage) (ToolResult, error) {
	var in sendVisitorMessageInput
	if err := json.Unmarshal(input, &in); err != nil {
		return ToolResult{Content: "invalid sendVisitorMessage input: " + err.Error(), IsError: true}, nil
	}

	if rc.isPaused() {
		return marshalResult(sendVisitorMessageResult{Sent: false, Paused: true})
	}

	if !rc.AllowPublicMessages {
		return marshalResult(sendVisitorMessageResult{Sent: false})
	}

	latestID, hasLatest, err := rc.Repo.GetLatestPublicVisitorMessageID(rc.Ctx, rc.ConversationID)
	if err != nil {
		return ToolResult{}, err
	}
	if hasLatest && rc.TriggerMessageID != "" && latestID != rc.TriggerMessageID {
		return marshalResult(sendVisitorMessageResult{Sent: false, StaleTriggerSuppressed: true})
	}

	if rc.checkAndMarkDuplicate(in.Message) {
		return marshalResult(sendVisitorMessageResult{Sent: false, DuplicateSuppressed: true})
	}

	// The slot key binds identity for retried sends (spec.md §4.8); the
	// in-memory repository's SendMessages is not itself idempotent, so the
	// key is computed to document the invariant for a durable-queue
	// producer upstream (internal/produce) even though this call always
	// performs exactly one insert per distinct normalized text.
	_ = rc.nextSlotKey()

	if rc.markHeartbeatStoppedOnce() && rc.StopTyping != nil {
		rc.StopTyping(rc.Ctx)
	}

	sent, err := rc.Repo.SendMessages(rc.Ctx, rc.ConversationID, []db.OutgoingMessage{{
		BodyMarkdown: in.Message,
		SenderType:   convmodel.SenderAIAgent,
		Visibility:   convmodel.VisibilityPublic,
	}})
	if err != nil {
		return ToolResult{}, err
	}
	if len(sent) == 0 {
		return ToolResult{Content: "sendVisitorMessage: no message persisted", IsError: true}, nil
	}
	msg := sent[0]

	if rc.OnPublicMessageSent != nil {
		rc.OnPublicMessageSent(rc.Ctx, msg)
	}

	if conv, err := rc.Repo.GetConversationByID(rc.Ctx, rc.ConversationID); err == nil && conv.IsPaused(rc.Now()) {
		rc.setPaused()
	}

	return marshalResult(sendVisitorMessageResult{Sent: true, MessageID: msg.ID, Created: msg.CreatedAt, Paused: rc.isPaused()})
}

// searchKnowledgeBaseSchema matches spec.md §4.8's searchKnowledgeBase input.
const searchKnowledgeBaseSchema = `{
  "type": "object",
  "properties": {"query": {"type": "string", "minLength": 1}},
  "required": ["query"],
  "additionalProperties": false
}`

type searchKnowledgeBaseInput struct {
	Query string `json:"query"`
}

// SearchKnowledgeBaseTool retrieves context snippets for generation.
type SearchKnowledgeBaseTool struct {
	Limit int // defaults to 5 when zero
}

func (SearchKnowledgeBaseTool) Name() string        { return "searchKnowledgeBase" }
func (SearchKnowledgeBaseTool) Description() string {
	return "Search the organization's knowledge base and return relevant snippets with confidence."
}
func (SearchKnowledgeBaseTool) Schema() []byte { return []byte(searchKnowledgeBaseSchema) }

func (t SearchKnowledgeBaseTool) Execute(rc *RunContext, input json.RawMessage) (ToolResult, error) {
	var in searchKnowledgeBaseInput
	if err := json.Unmarshal(input, &in); err != nil {
		return ToolResult{Content: "invalid searchKnowledgeBase input: " + err.Error(), IsError: true}, nil
	}
	limit := t.Limit
	if limit <= 0 {
		limit = 5
	}
	snippets, err := rc.Repo.SearchKnowledgeBase(rc.Ctx, rc.OrganizationID, in.Query, limit)
	if err != nil {
		return ToolResult{}, err
	}
	return marshalResult(struct {
		Snippets []db.KnowledgeSnippet `json:"snippets"`
	}{Snippets: snippets})
}

// escalateToHumanSchema matches spec.md §4.8's escalateToHuman input.
const escalateToHumanSchema = `{
  "type": "object",
  "properties": {"reason": {"type": "string", "minLength": 1}},
  "required": ["reason"],
  "additionalProperties": false
}`

type escalateToHumanInput struct {
	Reason string `json:"reason"`
}

// EscalateToHumanTool records a participant_requested timeline event and a
// human-audience workflow outcome, gated by BehaviorSettings.CanEscalate.
type EscalateToHumanTool struct{}

func (EscalateToHumanTool) Name() string        { return "escalateToHuman" }
func (EscalateToHumanTool) Description() string {
	return "Escalate this conversation to a human agent, recording the reason."
}
func (EscalateToHumanTool) Schema() []byte { return []byte(escalateToHumanSchema) }

func (EscalateToHumanTool) Execute(rc *RunContext, input json.RawMessage) (ToolResult, error) {
	if !rc.BehaviorSettings.CanEscalate {
		return ToolResult{Content: "escalateToHuman disabled for this agent", IsError: true}, nil
	}
	var in escalateToHumanInput
	if err := json.Unmarshal(input, &in); err != nil {
		return ToolResult{Content: "invalid escalateToHuman input: " + err.Error(), IsError: true}, nil
	}
	if err := rc.Repo.RecordEscalation(rc.Ctx, rc.ConversationID, in.Reason); err != nil {
		return ToolResult{}, err
	}
	return marshalResult(struct {
		Escalated bool `json:"escalated"`
	}{Escalated: true})
}

// SetConversationTitleTool sets the conversation title, gated by
// BehaviorSettings.AutoGenerateTitle.
type SetConversationTitleTool struct{}

const setConversationTitleSchema = `{
  "type": "object",
  "properties": {"title": {"type": "string", "minLength": 1, "maxLength": 200}},
  "required": ["title"],
  "additionalProperties": false
}`

func (SetConversationTitleTool) Name() string        { return "setConversationTitle" }
func (SetConversationTitleTool) Description() string { return "Set a short title summarizing this conversation." }
func (SetConversationTitleTool) Schema() []byte      { return []byte(setConversationTitleSchema) }

func (SetConversationTitleTool) Execute(rc *RunContext, input json.RawMessage) (ToolResult, error) {
	if !rc.BehaviorSettings.AutoGenerateTitle {
		return ToolResult{Content: "setConversationTitle disabled for this agent", IsError: true}, nil
	}
	var in struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return ToolResult{Content: "invalid setConversationTitle input: " + err.Error(), IsError: true}, nil
	}
	if err := rc.Repo.SetConversationTitle(rc.Ctx, rc.ConversationID, in.Title); err != nil {
		return ToolResult{}, err
	}
	return marshalResult(struct {
		Set bool `json:"set"`
	}{Set: true})
}

// SetPriorityTool sets the conversation priority, gated by
// BehaviorSettings.CanSetPriority.
type SetPriorityTool struct{}

const setPrioritySchema = `{
  "type": "object",
  "properties": {"level": {"type": "string", "enum": ["low", "normal", "high", "urgent"]}},
  "required": ["level"],
  "additionalProperties": false
}`

func (SetPriorityTool) Name() string        { return "setPriority" }
func (SetPriorityTool) Description() string { return "Set the conversation priority level." }
func (SetPriorityTool) Schema() []byte      { return []byte(setPrioritySchema) }

func (SetPriorityTool) Execute(rc *RunContext, input json.RawMessage) (ToolResult, error) {
	if !rc.BehaviorSettings.CanSetPriority {
		return ToolResult{Content: "setPriority disabled for this agent", IsError: true}, nil
	}
	var in struct {
		Level string `json:"level"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return ToolResult{Content: "invalid setPriority input: " + err.Error(), IsError: true}, nil
	}
	if err := rc.Repo.SetConversationPriority(rc.Ctx, rc.ConversationID, in.Level); err != nil {
		return ToolResult{}, err
	}
	return marshalResult(struct {
		Set bool `json:"set"`
	}{Set: true})
}

// UpdateSentimentTool records the conversation's sentiment label, gated by
// BehaviorSettings.AutoAnalyzeSentiment.
type UpdateSentimentTool struct{}

const updateSentimentSchema = `{
  "type": "object",
  "properties": {"label": {"type": "string", "enum": ["positive", "neutral", "negative"]}},
  "required": ["label"],
  "additionalProperties": false
}`

func (UpdateSentimentTool) Name() string        { return "updateSentiment" }
func (UpdateSentimentTool) Description() string { return "Record the visitor's current sentiment." }
func (UpdateSentimentTool) Schema() []byte      { return []byte(updateSentimentSchema) }

func (UpdateSentimentTool) Execute(rc *RunContext, input json.RawMessage) (ToolResult, error) {
	if !rc.BehaviorSettings.AutoAnalyzeSentiment {
		return ToolResult{Content: "updateSentiment disabled for this agent", IsError: true}, nil
	}
	var in struct {
		Label string `json:"label"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return ToolResult{Content: "invalid updateSentiment input: " + err.Error(), IsError: true}, nil
	}
	if err := rc.Repo.UpdateSentiment(rc.Ctx, rc.ConversationID, in.Label); err != nil {
		return ToolResult{}, err
	}
	return marshalResult(struct {
		Set bool `json:"set"`
	}{Set: true})
}

func marshalResult(v any) (ToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return ToolResult{}, err
	}
	return ToolResult{Content: string(b)}, nil
}

// RegisterDefaults registers the full default tool set on r.
func RegisterDefaults(r *Registry) {
	r.Register(SendVisitorMessageTool{})
	r.Register(SearchKnowledgeBaseTool{})
	r.Register(EscalateToHumanTool{})
	r.Register(SetConversationTitleTool{})
	r.Register(SetPriorityTool{})
	r.Register(UpdateSentimentTool{})
}
