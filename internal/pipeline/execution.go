package pipeline

import (
	"time"

	"github.com/conversationai/pipeline/internal/db"
	"github.com/conversationai/pipeline/pkg/convmodel"
)

// execution runs any tool calls the model requested, then persists a
// plain-text reply as one message if the model answered in text without
// calling sendVisitorMessage. A low-confidence plain-text reply
// (Confidence < threshold, and only when the provider actually reported
// one) is converted to an auto-escalation instead of being sent, per
// spec.md §4.7.
func (p *Pipeline) execution(st *state) StageResult {
	for _, call := range st.genResponse.ToolCalls {
		p.emitToolProgress(st, call.Name, "started")
		if p.Events != nil {
			_ = p.Events.RecordToolStart(st.ctx, call.Name, call.Input)
		}
		toolStart := p.now()
		res, err := p.Tools.Execute(st.runCtx, call.Name, call.Input)
		if p.Events != nil {
			_ = p.Events.RecordToolEnd(st.ctx, call.Name, time.Since(toolStart), res, err)
		}
		if p.Metrics != nil {
			result := "success"
			if err != nil {
				result = "error"
			}
			p.Metrics.RecordToolSend(call.Name, result)
		}
		if err != nil {
			return fail(err, true)
		}
		if call.Name != "sendVisitorMessage" {
			p.emitToolProgress(st, call.Name, "finished")
		}
		_ = res // tool results are consumed by the (not-yet-built) multi-turn
		// echo-back path in a future provider turn; this single-call stage
		// does not re-invoke the model with the result, per Design Note §9.
	}

	if st.publicMessagesSent == 0 && st.genResponse.Text != "" {
		if st.genResponse.Confidence > 0 && st.genResponse.Confidence < p.Config.LowConfidenceThreshold {
			if st.agent.BehaviorSettings.CanEscalate {
				if err := p.Repo.RecordEscalation(st.ctx, st.trigger.ConversationID, "low-confidence reply"); err != nil {
					return fail(err, true)
				}
			}
			return ok()
		}

		sent, err := p.Repo.SendMessages(st.ctx, st.trigger.ConversationID, []db.OutgoingMessage{{
			BodyMarkdown: st.genResponse.Text,
			SenderType:   convmodel.SenderAIAgent,
			Visibility:   convmodel.VisibilityPublic,
		}})
		if err != nil {
			return fail(err, true)
		}
		st.publicMessagesSent += len(sent)
	}

	return ok()
}
