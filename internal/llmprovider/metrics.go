package llmprovider

import (
	"context"
	"time"

	"github.com/conversationai/pipeline/internal/observability"
)

// MetricsRecorder is the narrow seam WithMetrics reports through,
// satisfied structurally by internal/observability.Metrics without this
// package importing it (generation is a leaf the observability stack
// depends on, not the other way around).
type MetricsRecorder interface {
	RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int)
}

// WithMetrics wraps model so every Generate call reports its latency,
// outcome, and token usage through recorder, the way the teacher's
// provider adapters report through Metrics.RecordLLMRequest.
func WithMetrics(model LanguageModel, recorder MetricsRecorder) LanguageModel {
	if recorder == nil {
		return model
	}
	return &metricsModel{model: model, recorder: recorder}
}

type metricsModel struct {
	model    LanguageModel
	recorder MetricsRecorder
}

func (m *metricsModel) Name() string { return m.model.Name() }

func (m *metricsModel) Generate(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	resp, err := m.model.Generate(ctx, req)
	dur := time.Since(start)
	status := "success"
	if err != nil {
		status = "error"
	}
	m.recorder.RecordLLMRequest(m.model.Name(), req.Model, status, dur.Seconds(), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	observability.EmitModelUsage(&observability.ModelUsageEvent{
		SessionID: observability.GetSessionID(ctx),
		Provider:  m.model.Name(),
		Model:     req.Model,
		Usage: observability.UsageDetails{
			PromptTokens: int64(resp.Usage.PromptTokens),
			Output:       int64(resp.Usage.CompletionTokens),
			Total:        int64(resp.Usage.PromptTokens + resp.Usage.CompletionTokens),
		},
		DurationMs: dur.Milliseconds(),
	})
	return resp, err
}

var _ LanguageModel = (*metricsModel)(nil)
