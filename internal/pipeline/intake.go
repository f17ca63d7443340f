package pipeline

import "github.com/conversationai/pipeline/pkg/convmodel"

// intake loads everything later stages need and applies the skip
// conditions of spec.md §4.7: inactive agent, closed/spam conversation,
// human-assigned-and-policy-forbids, paused. Plan/cost-cap enforcement is
// intentionally left to the caller's DB layer (no plan model is part of
// this spec's scope) beyond the paused/assigned checks named explicitly.
func (p *Pipeline) intake(st *state) StageResult {
	conv, err := p.Repo.GetConversationByID(st.ctx, st.trigger.ConversationID)
	if err != nil {
		return fail(err, true)
	}
	if conv == nil {
		return skip("conversation not found")
	}
	st.conversation = conv

	if conv.Status == convmodel.ConversationResolved || conv.Status == convmodel.ConversationSpam {
		return skip("conversation closed")
	}
	if conv.IsPaused(p.now()) {
		return skip("paused")
	}

	agent, err := p.Repo.GetAIAgentByID(st.ctx, st.trigger.AIAgentID)
	if err != nil {
		return fail(err, true)
	}
	if agent == nil || !agent.IsActive {
		return skip("agent inactive")
	}
	st.agent = agent

	if conv.HasAssignedHuman() {
		return skip("human assigned")
	}

	history, err := p.Repo.GetRecentMessages(st.ctx, conv.ID, p.Config.HistoryLimit)
	if err != nil {
		return fail(err, true)
	}
	st.history = history

	if conv.VisitorID != "" {
		visitor, err := p.Repo.GetVisitorWithContact(st.ctx, conv.VisitorID)
		if err != nil {
			return fail(err, true)
		}
		st.visitor = visitor
	}

	return ok()
}
