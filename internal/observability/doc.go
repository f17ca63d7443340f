// Package observability provides comprehensive monitoring and debugging
// capabilities for the reply pipeline through metrics, structured logging,
// and distributed tracing.
//
// # Overview
//
// The observability package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//
// Alongside the three pillars, a diagnostic event bus (diagnostic.go) and
// an in-memory per-run event timeline (events.go) give an operator a
// finer-grained, enable-gated view of one drain's lifecycle than metrics
// alone can carry.
//
// # Metrics
//
// Metrics are implemented using Prometheus client libraries and track:
//   - Drain outcomes by result (success, skipped, cancelled, error)
//   - Per-stage latency inside one pipeline run
//   - Tool sends by tool name and result
//   - LLM request latency, cost, and token usage by provider and model
//   - Pending-queue depth per conversation
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	// Track a resolved trigger
//	metrics.RecordDrain("success")
//
//	// Track a pipeline stage
//	start := time.Now()
//	// ... run the generation stage ...
//	metrics.RecordStageDuration("generation", time.Since(start).Seconds())
//
//	// Track an LLM request
//	start = time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-3-opus", "success",
//	    time.Since(start).Seconds(), promptTokens, completionTokens)
//
//	// Track a tool send
//	metrics.RecordToolSend("sendVisitorMessage", "success")
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic request/session/run/tool-call/edge/agent/message ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	// Add context IDs for correlation
//	ctx := observability.AddRunID(ctx, runID)
//	ctx = observability.AddSessionID(ctx, conversationID)
//
//	// Structured logging with automatic context correlation
//	logger.Info(ctx, "drain started",
//	    "conversation_id", conversationID,
//	    "agent_id", agentID,
//	)
//
//	// Error logging with automatic redaction
//	logger.Error(ctx, "llm request failed",
//	    "error", err,
//	    "provider", "anthropic",
//	    "api_key", apiKey, // Automatically redacted
//	)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to track a drain iteration across
// its pipeline stages and tool calls:
//   - End-to-end request visualization
//   - Performance bottleneck identification
//   - Error correlation across stages
//
// Example usage:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "pipelineworker",
//	    ServiceVersion: "1.0.0",
//	    Environment:    "production",
//	    Endpoint:       "localhost:4317", // OTLP collector
//	    SamplingRate:   0.1,              // Sample 10% of traces
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "pipelineworker.startup")
//	defer span.End()
//
// # Diagnostic event bus and event timeline
//
// diagnostic.go publishes typed events (lane enqueue/dequeue, run attempt,
// session stuck, model usage) to any registered listener, gated by
// SetDiagnosticsEnabled so the fan-out on every stage transition is opt-in.
// events.go records a bounded per-process timeline of run/tool start and
// end events, queryable by run or conversation id for post-hoc debugging
// of a single drain.
//
// # Context Propagation
//
// All three pillars integrate with Go's context for automatic correlation:
//
//	// Add IDs to context
//	ctx = observability.AddSessionID(ctx, conversationID)
//	ctx = observability.AddOrganizationID(ctx, organizationID)
//	ctx = observability.AddRunID(ctx, runID)
//
//	// IDs automatically appear in logs
//	logger.Info(ctx, "stage completed") // Includes session_id, run_id, etc.
//
//	// Spans inherit context
//	ctx, span := tracer.Start(ctx, "operation")
//	// Trace context propagates to child spans
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, OpenAI, generic)
//   - Passwords and secrets
//   - JWT tokens
//   - Bearer tokens
//   - Custom patterns via configuration
//
// Sensitive fields in maps are also redacted:
//   - password, passwd, pwd
//   - secret, api_key, apikey
//   - token, auth, authorization
//   - private_key, privatekey
//
// # Configuration
//
// All components support configuration via structs:
//
//	// Metrics - no configuration needed, auto-registered
//	metrics := observability.NewMetrics()
//
//	// Logging - configurable output, level, format
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:          os.Getenv("LOG_LEVEL"),
//	    Format:         "json",
//	    AddSource:      true,
//	    RedactPatterns: []string{`custom-secret-\d+`},
//	})
//
//	// Tracing - configurable sampling, endpoint, attributes
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "pipelineworker",
//	    ServiceVersion: version,
//	    Environment:    env,
//	    Endpoint:       os.Getenv("OTEL_ENDPOINT"),
//	    SamplingRate:   0.1,
//	})
//	defer shutdown(context.Background())
//
// # Monitoring Dashboard
//
// The metrics exposed can be used to build dashboards:
//
//	# Drain throughput
//	rate(agentpipeline_conversation_drains_total[5m])
//
//	# Stage latency (95th percentile, generation stage)
//	histogram_quantile(0.95, rate(agentpipeline_pipeline_stage_duration_seconds_bucket{stage="generation"}[5m]))
//
//	# LLM request latency (95th percentile)
//	histogram_quantile(0.95, rate(agentpipeline_llm_request_duration_seconds_bucket[5m]))
//
//	# Tool error rate
//	rate(agentpipeline_tool_sends_total{result="error"}[5m])
//
//	# Conversations backing up
//	agentpipeline_queue_depth
//
// # Alerting
//
// Recommended alerts based on metrics:
//   - Rising error-outcome drains: rate(agentpipeline_conversation_drains_total{outcome="error"}[5m])
//   - High LLM latency: p95 latency > 10s
//   - Queue depth growing unbounded for a conversation: agentpipeline_queue_depth
//
// # Further Reading
//
//   - Prometheus best practices: https://prometheus.io/docs/practices/naming/
//   - OpenTelemetry specification: https://opentelemetry.io/docs/specs/otel/
//   - slog documentation: https://pkg.go.dev/log/slog
package observability
