package pipeline

// followup advances the conversation cursor, clears the dedup registry's
// workflow state (the run is complete, nothing left to supersede), and
// marks the conversation seen. Per spec.md §9's open question, seen-marking
// on a shouldAct=false run is gated by Config.UpdateSeenOnSkip.
func (p *Pipeline) followup(st *state) StageResult {
	if st.decision.ShouldAct || p.Config.UpdateSeenOnSkip {
		if err := p.Repo.MarkConversationAsSeen(st.ctx, st.trigger.ConversationID, p.now()); err != nil {
			return fail(err, true)
		}
	}

	if st.trigger.TriggerMessageID != "" {
		if err := p.Repo.UpdateConversationAICursor(st.ctx, st.trigger.ConversationID, st.trigger.TriggerMessageID, st.trigger.TriggerCreatedAt); err != nil {
			return fail(err, true)
		}
	}

	if p.Dedup != nil {
		if err := p.Dedup.Clear(st.ctx, st.trigger.ConversationID, st.trigger.Direction); err != nil {
			return fail(err, true)
		}
	}

	return ok()
}
