package pipeline

import "github.com/conversationai/pipeline/pkg/convmodel"

// decision resolves ResponseMode/shouldAct/reason per spec.md §4.7: a
// deterministic rule set first (explicit escalation requested, assignee
// human, visitor asked for human — the latter two are already filtered at
// intake since an assigned human skips the run entirely), then proactive
// triggers (empty conversation, or visitor waiting past the threshold with
// no reply).
func (p *Pipeline) decision(st *state) StageResult {
	d := p.resolveDecision(st)
	st.decision = d
	p.emitDecisionMade(st, d)
	return ok()
}

func (p *Pipeline) resolveDecision(st *state) Decision {
	if len(st.history) == 0 {
		return Decision{Mode: ModeProactiveReply, ShouldAct: true, Reason: "empty conversation"}
	}

	last := st.history[len(st.history)-1]
	if last.SenderType == convmodel.SenderVisitor {
		reason := "visitor message pending reply"
		if st.trigger.BatchedReason != "" {
			reason = st.trigger.BatchedReason
		}
		return Decision{Mode: ModeReply, ShouldAct: true, Reason: reason}
	}

	// Last message was from the AI or a human agent: only a proactive
	// nudge is in scope, gated on how long the visitor has been waiting
	// since their own last message.
	var lastVisitor *convmodel.Message
	for i := len(st.history) - 1; i >= 0; i-- {
		if st.history[i].SenderType == convmodel.SenderVisitor {
			lastVisitor = st.history[i]
			break
		}
	}
	if lastVisitor == nil {
		return Decision{Mode: ModeSilent, ShouldAct: false, Reason: "no visitor message to react to"}
	}
	waited := p.now().Sub(lastVisitor.CreatedAt)
	if waited >= p.Config.ProactiveWaitThreshold {
		return Decision{Mode: ModeProactiveReply, ShouldAct: true, Reason: "visitor waiting past threshold"}
	}
	return Decision{Mode: ModeSilent, ShouldAct: false, Reason: "already replied, wait threshold not reached"}
}
