package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/conversationai/pipeline/internal/coalesce"
	"github.com/conversationai/pipeline/internal/db/memory"
	"github.com/conversationai/pipeline/internal/dedup"
	"github.com/conversationai/pipeline/internal/emitter"
	"github.com/conversationai/pipeline/internal/llmprovider"
	"github.com/conversationai/pipeline/internal/store"
	"github.com/conversationai/pipeline/internal/toolrt"
	"github.com/conversationai/pipeline/pkg/convmodel"
)

// scriptedLLM is a fake llmprovider.LanguageModel returning a fixed
// response or error, used to drive deterministic generation-stage
// behavior without a real provider (grounded on the same interface
// internal/llmprovider/anthropic and .../openai implement).
type scriptedLLM struct {
	resp llmprovider.Response
	err  error
	n    int
}

func (s *scriptedLLM) Generate(_ context.Context, _ llmprovider.Request) (llmprovider.Response, error) {
	s.n++
	return s.resp, s.err
}
func (s *scriptedLLM) Name() string { return "scripted" }

func newTestPipeline(t *testing.T, repo *memory.Repository, llm llmprovider.LanguageModel) (*Pipeline, *dedup.Registry) {
	t.Helper()
	dedupReg := dedup.New(store.NewMemoryStore())
	tools := toolrt.NewRegistry()
	toolrt.RegisterDefaults(tools)
	p := New(repo, dedupReg, tools, llm, emitter.NewChannelSink(16, nil), nil)
	p.Now = func() time.Time { return time.Unix(1700000000, 0) }
	return p, dedupReg
}

func baseAgent() *convmodel.AiAgent {
	return &convmodel.AiAgent{
		ID:              "agent1",
		Model:           "test-model",
		BasePrompt:      "You are a support agent.",
		Temperature:     0.2,
		MaxOutputTokens: 512,
		IsActive:        true,
		BehaviorSettings: convmodel.BehaviorSettings{
			CanEscalate: true,
		},
	}
}

// S1 Simple reply.
func TestScenario_S1_SimpleReply(t *testing.T) {
	repo := memory.New()
	repo.PutAgent(baseAgent())
	now := time.Unix(1700000000, 0)
	repo.PutConversation(&convmodel.Conversation{ID: "conv1", Status: convmodel.ConversationOpen})
	repo.PutMessage(&convmodel.Message{ID: "m1", ConversationID: "conv1", CreatedAt: now, SenderType: convmodel.SenderVisitor, Visibility: convmodel.VisibilityPublic, BodyMarkdown: "Hello"})

	llm := &scriptedLLM{resp: llmprovider.Response{Text: "Hi! How can I help?"}}
	p, _ := newTestPipeline(t, repo, llm)

	out := p.Run(context.Background(), Trigger{
		ConversationID: "conv1", AIAgentID: "agent1",
		TriggerMessageID: "m1", TriggerCreatedAt: now,
		Direction: convmodel.DirectionReply,
	})

	if out.Status != OutcomeSuccess {
		t.Fatalf("got status %q, want success: %+v", out.Status, out)
	}
	if out.PublicMessagesSent != 1 {
		t.Fatalf("got %d public messages sent, want 1", out.PublicMessagesSent)
	}
	conv, _ := repo.GetConversationByID(context.Background(), "conv1")
	if conv.AIAgentLastProcessedMessageID != "m1" {
		t.Fatalf("cursor not advanced to m1: %+v", conv)
	}
}

// S3 Supersede during generation: the registry's active run no longer
// matches this trigger's run id by the time generation completes, so the
// run must end cancelled with no visitor-visible message.
func TestScenario_S3_SupersedeDuringGeneration(t *testing.T) {
	repo := memory.New()
	repo.PutAgent(baseAgent())
	now := time.Unix(1700000000, 0)
	repo.PutConversation(&convmodel.Conversation{ID: "conv1", Status: convmodel.ConversationOpen})
	repo.PutMessage(&convmodel.Message{ID: "m1", ConversationID: "conv1", CreatedAt: now, SenderType: convmodel.SenderVisitor, Visibility: convmodel.VisibilityPublic, BodyMarkdown: "Hi"})

	llm := &scriptedLLM{resp: llmprovider.Response{Text: "some reply"}}
	p, dedupReg := newTestPipeline(t, repo, llm)

	// Anchor run "run-old" is registered as the active run, but by the
	// time the pipeline checks isActive post-generation, a newer trigger
	// has already superseded it with "run-new".
	if err := dedupReg.Set(context.Background(), convmodel.WorkflowState{
		RunID: "run-new", ConversationID: "conv1", Direction: convmodel.DirectionReply,
		AnchorMessageID: "m1", AnchorCreatedAt: now, CreatedAt: now, UpdatedAt: now,
	}, dedup.TTL); err != nil {
		t.Fatalf("seed dedup state: %v", err)
	}

	out := p.Run(context.Background(), Trigger{
		ConversationID: "conv1", AIAgentID: "agent1",
		TriggerMessageID: "m1", TriggerCreatedAt: now,
		Direction: convmodel.DirectionReply,
		RunID:     "run-old",
	})

	if out.Status != OutcomeCancelled {
		t.Fatalf("got status %q, want cancelled: %+v", out.Status, out)
	}
	if out.PublicMessagesSent != 0 {
		t.Fatalf("expected no public messages on a cancelled run, got %d", out.PublicMessagesSent)
	}
}

// S4 Duplicate text in one run: two sendVisitorMessage tool calls with
// whitespace/case-equivalent text collapse to one external message.
func TestScenario_S4_DuplicateTextInOneRun(t *testing.T) {
	repo := memory.New()
	repo.PutAgent(baseAgent())
	now := time.Unix(1700000000, 0)
	repo.PutConversation(&convmodel.Conversation{ID: "conv1", Status: convmodel.ConversationOpen})
	repo.PutMessage(&convmodel.Message{ID: "m1", ConversationID: "conv1", CreatedAt: now, SenderType: convmodel.SenderVisitor, Visibility: convmodel.VisibilityPublic, BodyMarkdown: "confirm?"})

	call1, _ := json.Marshal(map[string]string{"message": "Contact details confirmed"})
	call2, _ := json.Marshal(map[string]string{"message": "  contact   details   confirmed  "})
	llm := &scriptedLLM{resp: llmprovider.Response{
		ToolCalls: []llmprovider.ToolCall{
			{ID: "call1", Name: "sendVisitorMessage", Input: call1},
			{ID: "call2", Name: "sendVisitorMessage", Input: call2},
		},
	}}
	p, _ := newTestPipeline(t, repo, llm)

	out := p.Run(context.Background(), Trigger{
		ConversationID: "conv1", AIAgentID: "agent1",
		TriggerMessageID: "m1", TriggerCreatedAt: now,
		Direction: convmodel.DirectionReply,
	})

	if out.Status != OutcomeSuccess {
		t.Fatalf("got status %q, want success: %+v", out.Status, out)
	}
	if out.PublicMessagesSent != 1 {
		t.Fatalf("got %d public messages sent, want exactly 1 (duplicate suppressed)", out.PublicMessagesSent)
	}
}

// S5 Paused: aiPausedUntil in the future suppresses the whole run.
func TestScenario_S5_Paused(t *testing.T) {
	repo := memory.New()
	repo.PutAgent(baseAgent())
	now := time.Unix(1700000000, 0)
	until := now.Add(time.Hour)
	repo.PutConversation(&convmodel.Conversation{ID: "conv1", Status: convmodel.ConversationOpen, AIPausedUntil: &until})
	repo.PutMessage(&convmodel.Message{ID: "m1", ConversationID: "conv1", CreatedAt: now, SenderType: convmodel.SenderVisitor, Visibility: convmodel.VisibilityPublic, BodyMarkdown: "hello?"})

	llm := &scriptedLLM{}
	p, _ := newTestPipeline(t, repo, llm)

	out := p.Run(context.Background(), Trigger{
		ConversationID: "conv1", AIAgentID: "agent1",
		TriggerMessageID: "m1", TriggerCreatedAt: now,
		Direction: convmodel.DirectionReply,
	})

	if out.Status != OutcomeSkipped || out.Reason != "paused" {
		t.Fatalf("got %+v, want skipped/paused", out)
	}
	if llm.n != 0 {
		t.Fatalf("LLM must not be called while paused")
	}
}

// S6 Retry exhaustion (pipeline's half): a retryable LLM error surfaces as
// Outcome{Error, Retryable:true}; internal/drain's failure counter (not
// this package) is what turns three such outcomes into a dropped trigger.
func TestScenario_S6_RetryableGenerationError(t *testing.T) {
	repo := memory.New()
	repo.PutAgent(baseAgent())
	now := time.Unix(1700000000, 0)
	repo.PutConversation(&convmodel.Conversation{ID: "conv1", Status: convmodel.ConversationOpen})
	repo.PutMessage(&convmodel.Message{ID: "m1", ConversationID: "conv1", CreatedAt: now, SenderType: convmodel.SenderVisitor, Visibility: convmodel.VisibilityPublic, BodyMarkdown: "hello?"})

	llm := &scriptedLLM{err: &llmprovider.ProviderError{Provider: "scripted", Retryable: true, Err: errTimeout{}}}
	p, _ := newTestPipeline(t, repo, llm)

	out := p.Run(context.Background(), Trigger{
		ConversationID: "conv1", AIAgentID: "agent1",
		TriggerMessageID: "m1", TriggerCreatedAt: now,
		Direction: convmodel.DirectionReply,
	})

	if out.Status != OutcomeError || !out.Retryable {
		t.Fatalf("got %+v, want retryable error", out)
	}
}

// S2 Coalesced batch: three consecutive visitor messages resolve to one
// effective trigger via internal/coalesce, and the decision stage's reason
// must name the batch size rather than the single-message default.
func TestScenario_S2_CoalescedBatch(t *testing.T) {
	repo := memory.New()
	repo.PutAgent(baseAgent())
	now := time.Unix(1700000000, 0)
	repo.PutConversation(&convmodel.Conversation{ID: "conv1", Status: convmodel.ConversationOpen})
	repo.PutMessage(&convmodel.Message{ID: "m1", ConversationID: "conv1", CreatedAt: now, SenderType: convmodel.SenderVisitor, Visibility: convmodel.VisibilityPublic, BodyMarkdown: "one"})
	repo.PutMessage(&convmodel.Message{ID: "m2", ConversationID: "conv1", CreatedAt: now.Add(time.Second), SenderType: convmodel.SenderVisitor, Visibility: convmodel.VisibilityPublic, BodyMarkdown: "two"})
	repo.PutMessage(&convmodel.Message{ID: "m3", ConversationID: "conv1", CreatedAt: now.Add(2 * time.Second), SenderType: convmodel.SenderVisitor, Visibility: convmodel.VisibilityPublic, BodyMarkdown: "three"})

	result := &coalesce.Result{
		EffectiveTrigger: &convmodel.MessageMeta{ID: "m3", CreatedAt: now.Add(2 * time.Second)},
		CoalescedIDs:     []string{"m1", "m2", "m3"},
	}
	if reason := result.BatchedReason(); reason != "batched 3 visitor messages" {
		t.Fatalf("got BatchedReason() %q, want %q", reason, "batched 3 visitor messages")
	}

	dedupReg := dedup.New(store.NewMemoryStore())
	tools := toolrt.NewRegistry()
	toolrt.RegisterDefaults(tools)
	sink := emitter.NewChannelSink(16, nil)
	llm := &scriptedLLM{resp: llmprovider.Response{Text: "Hi! How can I help?"}}
	p := New(repo, dedupReg, tools, llm, sink, nil)
	p.Now = func() time.Time { return now }

	out := p.Run(context.Background(), Trigger{
		ConversationID:   "conv1",
		AIAgentID:        "agent1",
		TriggerMessageID: result.EffectiveTrigger.ID,
		TriggerCreatedAt: result.EffectiveTrigger.CreatedAt,
		Direction:        convmodel.DirectionReply,
		BatchedReason:    result.BatchedReason(),
	})
	if out.Status != OutcomeSuccess {
		t.Fatalf("got status %q, want success: %+v", out.Status, out)
	}

	var decisionReason string
	found := false
	for {
		select {
		case ev := <-sink.Events():
			if ev.Kind == emitter.KindDecisionMade {
				decisionReason = ev.Reason
				found = true
			}
		default:
			if !found {
				t.Fatal("no decisionMade event observed")
			}
			if decisionReason != "batched 3 visitor messages" {
				t.Fatalf("got decisionMade reason %q, want %q", decisionReason, "batched 3 visitor messages")
			}
			return
		}
	}
}

type errTimeout struct{}

func (errTimeout) Error() string { return "deadline exceeded" }
