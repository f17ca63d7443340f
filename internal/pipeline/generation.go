package pipeline

import (
	"context"
	"strings"

	"github.com/conversationai/pipeline/internal/convctx"
	"github.com/conversationai/pipeline/internal/llmprovider"
	"github.com/conversationai/pipeline/internal/toolrt"
	"github.com/conversationai/pipeline/internal/typing"
	"github.com/conversationai/pipeline/pkg/convmodel"
)

// generation starts the typing heartbeat, invokes the LLM once with the
// compiled system prompt and the tool set filtered for this agent, and
// records the response. Per Design Note §9, this is a single atomic
// Generate call — any further tool-turn looping is the provider's
// business, not this stage's.
func (p *Pipeline) generation(st *state) StageResult {
	st.typingCtl = typing.New(p.Emitter, p.Logger, typing.Route{
		ConversationID: st.trigger.ConversationID,
		OrganizationID: st.trigger.OrganizationID,
		WebsiteID:      st.trigger.WebsiteID,
		VisitorID:      st.trigger.VisitorID,
	}, 0)
	st.typingCtl.Start(st.ctx)

	p.emitGenerationProgress(st, "thinking")

	tools := p.Tools.ForAgent(st.agent)
	built := p.ContextBuilder.Build(st.history, st.visitor, st.agent.Model)
	req := llmprovider.Request{
		Model:           st.agent.Model,
		System:          buildSystemPrompt(st.agent, built.SystemPromptSuffix),
		Messages:        built.Messages,
		Tools:           toolrt.Specs(tools),
		Temperature:     st.agent.Temperature,
		MaxOutputTokens: st.agent.MaxOutputTokens,
	}

	p.emitGenerationProgress(st, "generating")

	genCtx := st.ctx
	var cancel context.CancelFunc
	if p.Config.LLMTimeout > 0 {
		genCtx, cancel = context.WithTimeout(st.ctx, p.Config.LLMTimeout)
		defer cancel()
	}

	resp, err := p.LLM.Generate(genCtx, req)
	if err != nil {
		if pe, isProviderErr := err.(*llmprovider.ProviderError); isProviderErr {
			return fail(pe, pe.Retryable)
		}
		return fail(err, true)
	}
	st.genResponse = resp

	if err := p.Repo.UpdateAIAgentUsage(st.ctx, st.agent.ID, resp.Usage.PromptTokens, resp.Usage.CompletionTokens); err != nil {
		return fail(err, true)
	}

	p.emitGenerationProgress(st, "finalizing")

	st.runCtx = p.newToolRunContext(st)
	return ok()
}

func (p *Pipeline) newToolRunContext(st *state) *toolrt.RunContext {
	rc := toolrt.NewRunContext(st.ctx)
	rc.OrganizationID = st.trigger.OrganizationID
	rc.WebsiteID = st.trigger.WebsiteID
	rc.ConversationID = st.trigger.ConversationID
	rc.VisitorID = st.trigger.VisitorID
	rc.AIAgentID = st.trigger.AIAgentID
	rc.AllowPublicMessages = true
	rc.TriggerMessageID = st.trigger.TriggerMessageID
	rc.BehaviorSettings = st.agent.BehaviorSettings
	rc.Repo = p.Repo
	rc.Now = p.now
	rc.StopTyping = func(ctx context.Context) {
		if st.typingCtl != nil {
			st.typingCtl.Stop(ctx)
		}
	}
	rc.StartTyping = func(ctx context.Context) {
		if p.Config.RestartTypingAfterFirstSend && st.typingCtl != nil {
			st.typingCtl.Start(ctx)
		}
	}
	rc.OnPublicMessageSent = func(ctx context.Context, msg *convmodel.Message) {
		st.publicMessagesSent++
		p.emitToolProgress(st, "sendVisitorMessage", "finished")
	}
	return rc
}

func buildSystemPrompt(agent *convmodel.AiAgent, suffix string) string {
	if suffix == "" {
		return agent.BasePrompt
	}
	var b strings.Builder
	b.WriteString(agent.BasePrompt)
	b.WriteString("\n\n")
	b.WriteString(suffix)
	return b.String()
}
