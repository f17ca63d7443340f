package llmprovider

import (
	"context"
	"errors"
	"testing"
)

type stubModel struct {
	name string
	err  error
	resp Response
	n    int
}

func (s *stubModel) Name() string { return s.name }

func (s *stubModel) Generate(ctx context.Context, req Request) (Response, error) {
	s.n++
	if s.err != nil {
		return Response{}, s.err
	}
	return s.resp, nil
}

func TestWithCircuitBreaker_PassesThroughOnSuccess(t *testing.T) {
	stub := &stubModel{name: "anthropic", resp: Response{Text: "hi"}}
	model := WithCircuitBreaker(stub, BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1})

	resp, err := model.Generate(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != "hi" {
		t.Fatalf("resp.Text = %q, want hi", resp.Text)
	}
}

func TestWithCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	stub := &stubModel{name: "anthropic", err: &ProviderError{Provider: "anthropic", Retryable: true, Err: errors.New("timeout")}}
	model := WithCircuitBreaker(stub, BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1})

	for i := 0; i < 2; i++ {
		if _, err := model.Generate(context.Background(), Request{}); err == nil {
			t.Fatalf("expected failure on call %d", i)
		}
	}

	callsBeforeOpen := stub.n
	_, err := model.Generate(context.Background(), Request{})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("got %v, want ErrProviderUnavailable", err)
	}
	if stub.n != callsBeforeOpen {
		t.Fatal("Generate should not reach the underlying model while the circuit is open")
	}

	var perr *ProviderError
	if !errors.As(err, &perr) || !perr.Retryable {
		t.Fatalf("expected a retryable ProviderError, got %#v", err)
	}
}
