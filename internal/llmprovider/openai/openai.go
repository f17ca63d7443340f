// Package openai adapts github.com/sashabaranov/go-openai to the
// llmprovider.LanguageModel contract, grounded on the teacher's
// providers.OpenAIProvider (retry count/delay fields, tool schema
// conversion, error-substring retry classification) with the streaming
// chat-completion call replaced by a single non-streaming call per
// Design Note §9.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/conversationai/pipeline/internal/llmprovider"
)

// Config configures a Provider.
type Config struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// Provider implements llmprovider.LanguageModel against the OpenAI chat
// completions API.
type Provider struct {
	client       *openai.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// New builds a Provider.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &Provider{
		client:       openai.NewClientWithConfig(clientConfig),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name implements llmprovider.LanguageModel.
func (p *Provider) Name() string { return "openai" }

// Generate implements llmprovider.LanguageModel.
func (p *Provider) Generate(ctx context.Context, req llmprovider.Request) (llmprovider.Response, error) {
	chatReq := p.buildRequest(req)

	var lastErr *llmprovider.ProviderError
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		resp, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err == nil {
			return toResponse(resp), nil
		}

		wrapped := wrapError(err)
		lastErr = wrapped
		if !wrapped.Retryable || attempt == p.maxRetries {
			return llmprovider.Response{}, wrapped
		}

		select {
		case <-ctx.Done():
			return llmprovider.Response{}, &llmprovider.ProviderError{Provider: "openai", Retryable: false, Err: ctx.Err()}
		case <-time.After(p.retryDelay * time.Duration(attempt+1)):
		}
	}
	return llmprovider.Response{}, lastErr
}

func (p *Provider) buildRequest(req llmprovider.Request) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == llmprovider.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Text})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.MaxOutputTokens > 0 {
		chatReq.MaxTokens = req.MaxOutputTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}
	return chatReq
}

func convertTools(tools []llmprovider.ToolSpec) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

func toResponse(resp openai.ChatCompletionResponse) llmprovider.Response {
	out := llmprovider.Response{
		Usage: llmprovider.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.Text = choice.Message.Content
	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llmprovider.ToolCall{
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: []byte(call.Function.Arguments),
		})
	}
	return out
}

func wrapError(err error) *llmprovider.ProviderError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &llmprovider.ProviderError{
			Provider:  "openai",
			Retryable: isRetryableStatus(apiErr.HTTPStatusCode),
			Err:       err,
		}
	}
	return &llmprovider.ProviderError{
		Provider:  "openai",
		Retryable: isRetryableMessage(err.Error()),
		Err:       err,
	}
}

func isRetryableStatus(status int) bool {
	return status == 429 || status == 408 || (status >= 500 && status < 600)
}

func isRetryableMessage(msg string) bool {
	for _, needle := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

var _ llmprovider.LanguageModel = (*Provider)(nil)
