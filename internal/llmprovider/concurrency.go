package llmprovider

import (
	"context"

	"github.com/conversationai/pipeline/internal/infra"
)

// WithConcurrencyLimit wraps model so that at most n Generate calls run at
// once, independent of how many conversations the drain pool is servicing
// concurrently (spec.md §5's concurrency model names this separately from
// the per-conversation lane cap: a burst of short drains across many
// conversations shouldn't be allowed to open more simultaneous LLM calls
// than the provider's own rate limit tolerates).
func WithConcurrencyLimit(model LanguageModel, n int64) LanguageModel {
	return &limitedModel{model: model, sem: infra.NewSemaphore(n)}
}

type limitedModel struct {
	model LanguageModel
	sem   *infra.Semaphore
}

func (l *limitedModel) Name() string { return l.model.Name() }

func (l *limitedModel) Generate(ctx context.Context, req Request) (Response, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return Response{}, &ProviderError{Provider: l.model.Name(), Retryable: true, Err: err}
	}
	defer l.sem.Release(1)
	return l.model.Generate(ctx, req)
}

var _ LanguageModel = (*limitedModel)(nil)
