package drain

import (
	"context"
	"testing"
	"time"

	"github.com/conversationai/pipeline/internal/coalesce"
	"github.com/conversationai/pipeline/internal/db"
	"github.com/conversationai/pipeline/internal/db/memory"
	"github.com/conversationai/pipeline/internal/dedup"
	"github.com/conversationai/pipeline/internal/emitter"
	"github.com/conversationai/pipeline/internal/killswitch"
	"github.com/conversationai/pipeline/internal/llmprovider"
	"github.com/conversationai/pipeline/internal/pipeline"
	"github.com/conversationai/pipeline/internal/queue"
	"github.com/conversationai/pipeline/internal/store"
	"github.com/conversationai/pipeline/internal/toolrt"
	"github.com/conversationai/pipeline/pkg/convmodel"
)

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

type fakeContinuation struct {
	woken bool
	conv  string
	head  string
}

func (f *fakeContinuation) WakeContinuation(_ context.Context, conversationID, nextHeadMessageID string) error {
	f.woken = true
	f.conv = conversationID
	f.head = nextHeadMessageID
	return nil
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

func newHarness(t *testing.T, llm llmprovider.LanguageModel) (*Worker, *memory.Repository, *queue.Queue, *fakeContinuation) {
	t.Helper()
	repo := memory.New()
	repo.PutAgent(baseAgent())

	s := store.NewMemoryStore()
	q := queue.New(s)
	ks := killswitch.New(s, db.DurableAIPause{Repo: repo})
	dedupReg := dedup.New(s)
	co := coalesce.New(q, repo, time.Millisecond, coalesce.DefaultBatchLimit)

	tools := toolrt.NewRegistry()
	toolrt.RegisterDefaults(tools)
	pl := pipeline.New(repo, dedupReg, tools, llm, emitter.NewChannelSink(16, nil), nil)
	pl.Now = func() time.Time { return time.Unix(1700000000, 0) }

	cont := &fakeContinuation{}
	ids := 0
	w := New(s, q, repo, ks, dedupReg, co, pl, emitter.NewChannelSink(16, nil), cont, func(_ time.Time) string {
		ids++
		return "run-" + string(rune('a'+ids))
	})
	w.Now = func() time.Time { return time.Unix(1700000000, 0) }
	w.Config.MaxMessages = 20
	w.Config.MaxRuntime = time.Minute
	w.Config.LockTTL = time.Minute
	w.Config.FailureThreshold = 3
	return w, repo, q, cont
}

func TestWorker_DrainsSingleMessageAndAdvancesCursor(t *testing.T) {
	llm := &scriptedLLM{resp: llmprovider.Response{Text: "hi there"}}
	w, repo, q, _ := newHarness(t, llm)

	now := time.Unix(1700000000, 0)
	repo.PutConversation(&convmodel.Conversation{ID: "conv1", Status: convmodel.ConversationOpen})
	repo.PutMessage(&convmodel.Message{ID: "m1", ConversationID: "conv1", CreatedAt: now, SenderType: convmodel.SenderVisitor, Visibility: convmodel.VisibilityPublic, BodyMarkdown: "hello"})
	if err := q.Push(context.Background(), "conv1", "m1"); err != nil {
		t.Fatalf("push: %v", err)
	}

	if err := w.Run(context.Background(), Job{ID: "job1", ConversationID: "conv1", AIAgentID: "agent1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	conv, _ := repo.GetConversationByID(context.Background(), "conv1")
	if conv.AIAgentLastProcessedMessageID != "m1" {
		t.Fatalf("cursor not advanced: %+v", conv)
	}
	size, _ := q.Size(context.Background(), "conv1")
	if size != 0 {
		t.Fatalf("queue not drained, size=%d", size)
	}
}

func TestWorker_PausedConversationSkipsEntirely(t *testing.T) {
	llm := &scriptedLLM{resp: llmprovider.Response{Text: "hi"}}
	w, repo, q, _ := newHarness(t, llm)

	now := time.Unix(1700000000, 0)
	until := now.Add(time.Hour)
	repo.PutConversation(&convmodel.Conversation{ID: "conv1", Status: convmodel.ConversationOpen, AIPausedUntil: &until})
	repo.PutMessage(&convmodel.Message{ID: "m1", ConversationID: "conv1", CreatedAt: now, SenderType: convmodel.SenderVisitor, Visibility: convmodel.VisibilityPublic, BodyMarkdown: "hello"})
	_ = q.Push(context.Background(), "conv1", "m1")

	if err := w.Run(context.Background(), Job{ID: "job1", ConversationID: "conv1", AIAgentID: "agent1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if llm.n != 0 {
		t.Fatalf("LLM must not be invoked for a paused conversation")
	}
	size, _ := q.Size(context.Background(), "conv1")
	if size != 1 {
		t.Fatalf("queue must be left untouched when paused, size=%d", size)
	}
}

// S6: three consecutive retryable failures on the same trigger exhaust the
// bounded retry budget and the message is dropped rather than retried a
// fourth time.
func TestWorker_FailureThresholdDropsMessageAfterThreeStrikes(t *testing.T) {
	llm := &scriptedLLM{err: &llmprovider.ProviderError{Provider: "scripted", Retryable: true, Err: errDeadline{}}}
	w, repo, q, _ := newHarness(t, llm)

	now := time.Unix(1700000000, 0)
	repo.PutConversation(&convmodel.Conversation{ID: "conv1", Status: convmodel.ConversationOpen})
	repo.PutMessage(&convmodel.Message{ID: "m1", ConversationID: "conv1", CreatedAt: now, SenderType: convmodel.SenderVisitor, Visibility: convmodel.VisibilityPublic, BodyMarkdown: "hello"})
	_ = q.Push(context.Background(), "conv1", "m1")

	for i := 0; i < 3; i++ {
		if err := w.Run(context.Background(), Job{ID: "job1", ConversationID: "conv1", AIAgentID: "agent1"}); err != nil {
			t.Fatalf("Run attempt %d: %v", i+1, err)
		}
		size, _ := q.Size(context.Background(), "conv1")
		if i < 2 && size != 1 {
			t.Fatalf("attempt %d: message should still be queued for retry, size=%d", i+1, size)
		}
		if i == 2 && size != 0 {
			t.Fatalf("after threshold, message should be dropped, size=%d", size)
		}
	}
	if llm.n != 3 {
		t.Fatalf("expected exactly 3 generation attempts, got %d", llm.n)
	}
}

func TestWorker_HydratesQueueFromCursorWhenEmpty(t *testing.T) {
	llm := &scriptedLLM{resp: llmprovider.Response{Text: "hi"}}
	w, repo, q, _ := newHarness(t, llm)

	now := time.Unix(1700000000, 0)
	repo.PutConversation(&convmodel.Conversation{ID: "conv1", Status: convmodel.ConversationOpen})
	repo.PutMessage(&convmodel.Message{ID: "m1", ConversationID: "conv1", CreatedAt: now, SenderType: convmodel.SenderVisitor, Visibility: convmodel.VisibilityPublic, BodyMarkdown: "hello"})

	if err := w.Run(context.Background(), Job{ID: "job1", ConversationID: "conv1", AIAgentID: "agent1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if llm.n != 1 {
		t.Fatalf("expected the hydrated message to be processed, llm called %d times", llm.n)
	}
	conv, _ := repo.GetConversationByID(context.Background(), "conv1")
	if conv.AIAgentLastProcessedMessageID != "m1" {
		t.Fatalf("cursor not advanced after hydration: %+v", conv)
	}
}

type errDeadline struct{}

func (errDeadline) Error() string { return "deadline exceeded" }
