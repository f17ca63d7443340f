// Package llmprovider defines the LanguageModel contract (spec.md §6) and
// classifies provider errors as retryable or fatal so internal/drain can
// apply the bounded-retry policy of §4.9 without knowing which vendor SDK
// produced the error. Adapted from the teacher's internal/agent.LLMProvider
// interface, simplified from a streaming-chunk channel to Design Note §9's
// "keep generation a single atomic call" requirement: no bespoke
// multi-turn tool loop lives in this package.
package llmprovider

import "context"

// Role mirrors the teacher's CompletionMessage role field.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of conversation history passed to the provider.
type Message struct {
	Role Role
	Text string
}

// ToolSpec describes one callable tool, translated from
// internal/toolrt.Tool at the call site.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema []byte // raw JSON schema, validated by santhosh-tekuri/jsonschema
}

// Request is the input to Generate.
type Request struct {
	Model           string
	System          string
	Messages        []Message
	Tools           []ToolSpec
	Temperature     float64
	MaxOutputTokens int
}

// ToolCall is one tool invocation the model requested.
type ToolCall struct {
	ID    string
	Name  string
	Input []byte // raw JSON arguments
}

// Usage reports token accounting for cost tracking and agent usage
// counters (spec.md §4.11 UpdateAIAgentUsage).
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the provider's atomic output: text, any tool calls, and
// usage. Confidence is populated only by providers/configurations that
// emit one; callers apply the auto-escalation threshold of spec.md §4.7
// only when Confidence > 0.
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	Usage      Usage
	Confidence float64
}

// ProviderError classifies failures the way spec.md §6/§7 requires:
// retryable (rate-limit/5xx/timeout) vs fatal (validation/auth).
type ProviderError struct {
	Provider  string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// LanguageModel is the provider contract every adapter implements.
type LanguageModel interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
}
