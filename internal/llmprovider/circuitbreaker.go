package llmprovider

import (
	"context"
	"errors"
	"time"

	"github.com/conversationai/pipeline/internal/infra"
)

// BreakerConfig tunes the circuit guarding one provider. Defaults match
// internal/infra's own (5 failures, 2 half-open successes, 30s open
// window) when left zero.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	OpenFor          time.Duration
}

// WithCircuitBreaker wraps model so that after FailureThreshold
// consecutive Generate failures it stops calling the provider for
// OpenFor, failing fast with ErrProviderUnavailable instead of piling
// more timed-out requests onto an already-struggling vendor. The drain
// worker's retry/backoff loop treats that failure exactly like any other
// retryable provider error.
func WithCircuitBreaker(model LanguageModel, cfg BreakerConfig) LanguageModel {
	breaker := infra.NewCircuitBreaker(infra.CircuitBreakerConfig{
		Name:             model.Name(),
		FailureThreshold: cfg.FailureThreshold,
		SuccessThreshold: cfg.SuccessThreshold,
		Timeout:          cfg.OpenFor,
	})
	return &breakerModel{model: model, breaker: breaker}
}

type breakerModel struct {
	model   LanguageModel
	breaker *infra.CircuitBreaker
}

func (b *breakerModel) Name() string { return b.model.Name() }

func (b *breakerModel) Generate(ctx context.Context, req Request) (Response, error) {
	resp, err := infra.ExecuteWithResult(b.breaker, ctx, func(ctx context.Context) (Response, error) {
		return b.model.Generate(ctx, req)
	})
	if errors.Is(err, infra.ErrCircuitOpen) {
		return Response{}, &ProviderError{Provider: b.model.Name(), Retryable: true, Err: ErrProviderUnavailable}
	}
	return resp, err
}

// ErrProviderUnavailable is the error reported while a provider's circuit
// breaker is open.
var ErrProviderUnavailable = errors.New("provider unavailable: circuit breaker open")

var _ LanguageModel = (*breakerModel)(nil)
