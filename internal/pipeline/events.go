package pipeline

import "github.com/conversationai/pipeline/internal/emitter"

// Event emission is fire-and-forget everywhere in this package: every
// Publish error is intentionally discarded here, matching the emitter's
// documented contract (internal/emitter.Sink) that only the typing
// heartbeat inspects the return value.

func (p *Pipeline) baseEvent(st *state, kind emitter.Kind, audience emitter.Audience) emitter.Event {
	return emitter.Event{
		Kind:           kind,
		OrganizationID: st.trigger.OrganizationID,
		WebsiteID:      st.trigger.WebsiteID,
		ConversationID: st.trigger.ConversationID,
		VisitorID:      st.trigger.VisitorID,
		Audience:       audience,
		Time:           p.now(),
	}
}

func (p *Pipeline) emitWorkflowStarted(st *state) {
	p.Emitter.Publish(st.ctx, p.baseEvent(st, emitter.KindWorkflowStarted, emitter.AudienceDashboard))
}

func (p *Pipeline) emitDecisionMade(st *state, d Decision) {
	event := p.baseEvent(st, emitter.KindDecisionMade, emitter.DecisionAudience(d.ShouldAct))
	event.ShouldAct = d.ShouldAct
	event.Reason = d.Reason
	p.Emitter.Publish(st.ctx, event)
}

func (p *Pipeline) emitGenerationProgress(st *state, phase string) {
	event := p.baseEvent(st, emitter.KindGenerationProgress, emitter.AudienceDashboard)
	event.Phase = phase
	p.Emitter.Publish(st.ctx, event)
}

func (p *Pipeline) emitToolProgress(st *state, tool, toolState string) {
	event := p.baseEvent(st, emitter.KindToolProgress, emitter.AudienceAll)
	event.Tool = tool
	event.ToolState = toolState
	p.Emitter.Publish(st.ctx, event)
}

func (p *Pipeline) emitWorkflowCompleted(st *state, out Outcome) {
	event := p.baseEvent(st, emitter.KindWorkflowCompleted, emitter.WorkflowCompletedAudience(string(out.Status)))
	event.Status = string(out.Status)
	event.Reason = out.Reason
	event.Action = out.Action
	p.Emitter.Publish(st.ctx, event)
}
