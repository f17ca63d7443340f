// Package anthropic adapts github.com/anthropics/anthropic-sdk-go to the
// llmprovider.LanguageModel contract. Config shape (API key, retry count,
// retry delay, default model) and the exponential-backoff retry loop are
// carried over from the teacher's providers.AnthropicProvider; the
// streaming/chunk machinery is not, since Design Note §9 collapses
// generation to a single atomic call per drain step.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/conversationai/pipeline/internal/llmprovider"
)

// Config configures a Provider. Mirrors the teacher's AnthropicConfig.
type Config struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// Provider implements llmprovider.LanguageModel against the Anthropic
// Messages API.
type Provider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// New builds a Provider, applying the same defaults the teacher's
// NewAnthropicProvider applies.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Provider{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name implements llmprovider.LanguageModel.
func (p *Provider) Name() string { return "anthropic" }

// Generate implements llmprovider.LanguageModel with the teacher's
// retry-with-exponential-backoff loop, collapsed to one non-streaming
// Messages.New call per attempt.
func (p *Provider) Generate(ctx context.Context, req llmprovider.Request) (llmprovider.Response, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return llmprovider.Response{}, &llmprovider.ProviderError{Provider: "anthropic", Retryable: false, Err: err}
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		msg, err := p.client.Messages.New(ctx, params)
		if err == nil {
			return toResponse(msg), nil
		}

		wrapped := wrapError(err)
		lastErr = wrapped
		if !wrapped.Retryable || attempt == p.maxRetries {
			return llmprovider.Response{}, wrapped
		}

		backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
		select {
		case <-ctx.Done():
			return llmprovider.Response{}, &llmprovider.ProviderError{Provider: "anthropic", Retryable: false, Err: ctx.Err()}
		case <-time.After(backoff):
		}
	}
	return llmprovider.Response{}, lastErr
}

func (p *Provider) buildParams(req llmprovider.Request) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Text)
		if m.Role == llmprovider.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	for _, t := range req.Tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: invalid input schema for tool %s: %w", t.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(t.Description)
		}
		params.Tools = append(params.Tools, toolParam)
	}

	return params, nil
}

func toResponse(msg *anthropic.Message) llmprovider.Response {
	resp := llmprovider.Response{
		Usage: llmprovider.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, llmprovider.ToolCall{
				ID:    variant.ID,
				Name:  variant.Name,
				Input: variant.Input,
			})
		}
	}
	resp.Text = text.String()
	return resp
}

func wrapError(err error) *llmprovider.ProviderError {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &llmprovider.ProviderError{
			Provider:  "anthropic",
			Retryable: isRetryableStatus(apiErr.StatusCode),
			Err:       err,
		}
	}
	return &llmprovider.ProviderError{
		Provider:  "anthropic",
		Retryable: isRetryableMessage(err.Error()),
		Err:       err,
	}
}

func isRetryableStatus(status int) bool {
	return status == 429 || status == 408 || (status >= 500 && status < 600)
}

func isRetryableMessage(msg string) bool {
	for _, needle := range []string{"rate_limit", "too many requests", "timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host", "internal server error", "bad gateway",
		"service unavailable", "gateway timeout"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

var _ llmprovider.LanguageModel = (*Provider)(nil)
