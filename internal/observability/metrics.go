package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting Prometheus metrics
// across the reply pipeline.
//
// The metrics system tracks:
//   - Drain outcomes (one per resolved trigger: success, skipped, cancelled, error)
//   - Per-stage latency within a single pipeline run (intake/decision/generation/execution/followup)
//   - Tool sends by tool name and result
//   - LLM request latency, cost, and token usage by provider and model
//   - Per-conversation pending-queue depth
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordDrain("success")
//	defer metrics.RecordStageDuration("generation", time.Since(start).Seconds())
type Metrics struct {
	// ConversationDrains counts completed pipeline runs by outcome.
	// Labels: outcome (success|skipped|cancelled|error)
	ConversationDrains *prometheus.CounterVec

	// PipelineStageDuration measures latency of each of the five pipeline
	// stages in seconds.
	// Labels: stage (intake|decision|generation|execution|followup)
	// Buckets: 0.001s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s
	PipelineStageDuration *prometheus.HistogramVec

	// ToolSends counts tool invocations by tool name and result.
	// Labels: tool (sendVisitorMessage|searchKnowledgeBase|escalateToHuman|...), result (success|error)
	ToolSends *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider (anthropic|openai), model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// QueueDepth tracks pending (unresolved) trigger count per conversation
	// after each drain iteration.
	// Labels: conversation
	QueueDepth *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup. All metrics are
// automatically registered with Prometheus's default registry and become
// available at the /metrics endpoint.
func NewMetrics() *Metrics {
	return &Metrics{
		ConversationDrains: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpipeline_conversation_drains_total",
				Help: "Total number of resolved triggers by outcome",
			},
			[]string{"outcome"},
		),

		PipelineStageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentpipeline_pipeline_stage_duration_seconds",
				Help:    "Duration of each pipeline stage in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"stage"},
		),

		ToolSends: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpipeline_tool_sends_total",
				Help: "Total number of tool invocations by tool name and result",
			},
			[]string{"tool", "result"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentpipeline_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpipeline_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpipeline_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		QueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agentpipeline_queue_depth",
				Help: "Current pending trigger count by conversation",
			},
			[]string{"conversation"},
		),
	}
}

// RecordDrain increments the drain counter for the given outcome, called
// once per resolved trigger (pipeline.Pipeline.Run finishing).
//
// Example:
//
//	metrics.RecordDrain("success")
func (m *Metrics) RecordDrain(outcome string) {
	m.ConversationDrains.WithLabelValues(outcome).Inc()
}

// RecordStageDuration records how long one pipeline stage took.
//
// Example:
//
//	start := time.Now()
//	// ... run the generation stage ...
//	metrics.RecordStageDuration("generation", time.Since(start).Seconds())
func (m *Metrics) RecordStageDuration(stage string, durationSeconds float64) {
	m.PipelineStageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordToolSend increments the tool-send counter for tool and result.
//
// Example:
//
//	metrics.RecordToolSend("sendVisitorMessage", "success")
func (m *Metrics) RecordToolSend(tool, result string) {
	m.ToolSends.WithLabelValues(tool, result).Inc()
}

// RecordLLMRequest records metrics for an LLM API request.
//
// Example:
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-3-opus", "success", time.Since(start).Seconds(), 100, 500)
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// SetQueueDepth sets the current pending-trigger count for conversation.
//
// Example:
//
//	metrics.SetQueueDepth(conversationID, remaining)
func (m *Metrics) SetQueueDepth(conversation string, depth int) {
	m.QueueDepth.WithLabelValues(conversation).Set(float64(depth))
}
