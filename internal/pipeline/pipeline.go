// Package pipeline implements the five-stage reply algorithm (spec
// component C7): intake, decision, generation, execution, followup. The
// sequencer shape — a fixed ordered run with a structured per-stage result
// and a guaranteed-cleanup block around generation — is grounded on the
// teacher's internal/agent.Loop run-loop (turn index, StreamToolResults
// gating, deferred cleanup), rebuilt around five fixed stages instead of an
// open agentic loop per Design Note §9 ("do not build a bespoke multi-turn
// tool loop in the core").
package pipeline

import (
	"context"
	"time"

	"github.com/conversationai/pipeline/internal/convctx"
	"github.com/conversationai/pipeline/internal/db"
	"github.com/conversationai/pipeline/internal/dedup"
	"github.com/conversationai/pipeline/internal/emitter"
	"github.com/conversationai/pipeline/internal/llmprovider"
	"github.com/conversationai/pipeline/internal/observability"
	"github.com/conversationai/pipeline/internal/toolrt"
	"github.com/conversationai/pipeline/internal/typing"
	"github.com/conversationai/pipeline/pkg/convmodel"
)

// Status is a stage or run-level outcome.
type Status string

const (
	StatusOK    Status = "ok"
	StatusSkip  Status = "skip"
	StatusError Status = "error"
)

// StageResult is the structured per-stage outcome every stage returns, per
// spec.md §4.7.
type StageResult struct {
	Status     Status
	SkipReason string
	Err        error
	Retryable  bool
}

func ok() StageResult                        { return StageResult{Status: StatusOK} }
func skip(reason string) StageResult         { return StageResult{Status: StatusSkip, SkipReason: reason} }
func fail(err error, retryable bool) StageResult {
	return StageResult{Status: StatusError, Err: err, Retryable: retryable}
}

// ResponseMode is the decision stage's chosen reply mode.
type ResponseMode string

const (
	ModeReply         ResponseMode = "reply"
	ModeProactiveReply ResponseMode = "proactive_reply"
	ModeSilent        ResponseMode = "silent"
)

// Decision is the decision stage's output.
type Decision struct {
	Mode      ResponseMode
	ShouldAct bool
	Reason    string
}

// OutcomeStatus is the terminal status of one Run, used for the
// workflowCompleted event and for internal/drain's retry bookkeeping.
type OutcomeStatus string

const (
	OutcomeSuccess   OutcomeStatus = "success"
	OutcomeSkipped   OutcomeStatus = "skipped"
	OutcomeCancelled OutcomeStatus = "cancelled"
	OutcomeError     OutcomeStatus = "error"
)

// Outcome is the terminal result of one pipeline Run.
type Outcome struct {
	Status              OutcomeStatus
	Reason              string
	Action              string
	PublicMessagesSent  int
	Retryable           bool
	Err                 error
}

// Trigger is the effective trigger a drain iteration resolved (possibly
// after coalescing several visitor messages, spec.md §4.5).
type Trigger struct {
	ConversationID   string
	AIAgentID        string
	OrganizationID   string
	WebsiteID        string
	VisitorID        string
	TriggerMessageID string
	TriggerCreatedAt time.Time
	Direction        convmodel.Direction
	RunID            string // the dedup registry's active run id for this trigger

	// BatchedReason is coalesce.Result.BatchedReason()'s output for this
	// trigger: empty unless the drain iteration coalesced more than one
	// consecutive visitor message into it, in which case the decision
	// stage surfaces it in Decision.Reason instead of the single-message
	// default (spec.md §8 scenario S2).
	BatchedReason string
}

// Config tunes the thresholds spec.md §9's Open Questions leave as
// explicit knobs rather than hard-coded constants.
type Config struct {
	HistoryLimit int // recent public messages loaded at intake; default 20

	LowConfidenceThreshold float64       // below this, a reply is auto-escalated instead of sent; default 0.6
	ProactiveWaitThreshold time.Duration // visitor-waiting threshold that allows a proactive reply; default 5m

	// UpdateSeenOnSkip controls whether markConversationAsSeen still runs
	// when the decision stage resolves shouldAct=false. Left as an
	// explicit flag per spec.md §9's open question; default false (only
	// an acted-upon trigger marks the conversation seen).
	UpdateSeenOnSkip bool

	// RestartTypingAfterFirstSend controls whether tool calls emitted
	// after the first sendVisitorMessage re-arm the typing heartbeat.
	// Default false, matching the source behavior spec.md §9 references.
	RestartTypingAfterFirstSend bool

	LLMTimeout time.Duration // wall-clock budget for one Generate call; default 30s
}

// DefaultConfig returns the recommended thresholds from spec.md.
func DefaultConfig() Config {
	return Config{
		HistoryLimit:           20,
		LowConfidenceThreshold: 0.6,
		ProactiveWaitThreshold: 5 * time.Minute,
		LLMTimeout:             30 * time.Second,
	}
}

// Pipeline wires the five stages to their collaborators.
type Pipeline struct {
	Repo           db.Repository
	Dedup          *dedup.Registry
	Tools          *toolrt.Registry
	LLM            llmprovider.LanguageModel
	Emitter        emitter.Sink
	Logger         typing.Logger
	ContextBuilder *convctx.Builder

	// Events records a per-run timeline for debugging and replay. Nil
	// disables recording; the drain worker/pool still emit their own
	// diagnostic events regardless of whether this is set.
	Events *observability.EventRecorder

	// Metrics reports stage durations and drain outcomes. Nil disables
	// recording.
	Metrics *observability.Metrics

	Config Config
	Now    func() time.Time
}

// New builds a Pipeline with DefaultConfig applied for a zero Config.
func New(repo db.Repository, dedupReg *dedup.Registry, tools *toolrt.Registry, llm llmprovider.LanguageModel, sink emitter.Sink, logger typing.Logger) *Pipeline {
	return &Pipeline{
		Repo:           repo,
		Dedup:          dedupReg,
		Tools:          tools,
		LLM:            llm,
		Emitter:        sink,
		Logger:         logger,
		ContextBuilder: convctx.NewBuilder(),
		Config:         DefaultConfig(),
		Now:            time.Now,
	}
}

// state carries everything built up across stages for one Run.
type state struct {
	ctx     context.Context
	trigger Trigger

	conversation *convmodel.Conversation
	agent        *convmodel.AiAgent
	history      []*convmodel.Message
	visitor      *db.VisitorContext

	decision Decision

	genResponse llmprovider.Response

	typingCtl *typing.Controller
	runCtx    *toolrt.RunContext

	publicMessagesSent int
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Run executes the five stages in order for one effective trigger,
// guaranteeing the typing heartbeat is stopped on every exit path
// (invariant 8) and checking the dedup registry's isActive between
// stages so a supersede mid-run yields Outcome{Cancelled} rather than a
// visible duplicate reply (spec.md §7 "Superseded").
func (p *Pipeline) Run(ctx context.Context, trig Trigger) Outcome {
	ctx = observability.AddSessionID(ctx, trig.ConversationID)
	ctx = observability.AddOrganizationID(ctx, trig.OrganizationID)
	ctx = observability.AddWebsiteID(ctx, trig.WebsiteID)
	if p.Events != nil {
		ctx = observability.AddRunID(ctx, trig.RunID)
		runStart := p.now()
		_ = p.Events.RecordRunStart(ctx, trig.RunID, map[string]interface{}{"conversation_id": trig.ConversationID})
		defer func() {
			_ = p.Events.RecordRunEnd(ctx, p.now().Sub(runStart), nil)
		}()
	}
	st := &state{ctx: ctx, trigger: trig}

	p.emitWorkflowStarted(st)

	if res := p.timedStage("intake", st, p.intake); res.Status != StatusOK {
		return p.finish(st, res)
	}
	if cancelled, outcome := p.checkActive(st); cancelled {
		return outcome
	}

	if res := p.timedStage("decision", st, p.decision); res.Status != StatusOK {
		return p.finish(st, res)
	}
	if cancelled, outcome := p.checkActive(st); cancelled {
		return outcome
	}

	if st.decision.ShouldAct {
		res := p.timedStage("generation", st, p.generation)
		// The heartbeat must stop on every exit path out of generation,
		// success or not, before execution or an early return runs.
		if st.typingCtl != nil && !st.typingCtl.IsSealed() {
			st.typingCtl.Stop(ctx)
		}
		if res.Status != StatusOK {
			return p.finish(st, res)
		}
		if cancelled, outcome := p.checkActive(st); cancelled {
			return outcome
		}

		if res := p.timedStage("execution", st, p.execution); res.Status != StatusOK {
			return p.finish(st, res)
		}
	}

	if res := p.timedStage("followup", st, p.followup); res.Status != StatusOK {
		return p.finish(st, res)
	}

	return p.finish(st, ok())
}

// timedStage runs one stage and, when Metrics is set, records its wall
// time under pipeline_stage_duration_seconds{stage}.
func (p *Pipeline) timedStage(stage string, st *state, fn func(*state) StageResult) StageResult {
	if p.Metrics == nil {
		return fn(st)
	}
	start := p.now()
	res := fn(st)
	p.Metrics.RecordStageDuration(stage, p.now().Sub(start).Seconds())
	return res
}

// checkActive re-validates the dedup registry between stages, per
// spec.md §4.7/§7: a supersede mid-run must stop the old run without a
// visible side effect.
func (p *Pipeline) checkActive(st *state) (bool, Outcome) {
	if p.Dedup == nil || st.trigger.RunID == "" {
		return false, Outcome{}
	}
	active, err := p.Dedup.IsActive(st.ctx, st.trigger.ConversationID, st.trigger.Direction, st.trigger.RunID)
	if err != nil {
		return true, p.finish(st, fail(err, true))
	}
	if active {
		return false, Outcome{}
	}
	if st.typingCtl != nil {
		st.typingCtl.Stop(st.ctx)
	}
	return true, p.finish(st, skip("superseded"))
}

func (p *Pipeline) finish(st *state, res StageResult) Outcome {
	var out Outcome
	switch res.Status {
	case StatusOK:
		out = Outcome{Status: OutcomeSuccess, PublicMessagesSent: st.publicMessagesSent}
	case StatusSkip:
		status := OutcomeSkipped
		if res.SkipReason == "superseded" {
			status = OutcomeCancelled
		}
		out = Outcome{Status: status, Reason: res.SkipReason, PublicMessagesSent: st.publicMessagesSent}
	default:
		out = Outcome{Status: OutcomeError, Reason: errString(res.Err), Retryable: res.Retryable, Err: res.Err, PublicMessagesSent: st.publicMessagesSent}
	}
	if p.Metrics != nil {
		p.Metrics.RecordDrain(string(out.Status))
	}
	p.emitWorkflowCompleted(st, out)
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
