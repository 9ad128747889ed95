package switcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Invocation is a provider-neutral chat completion request.
type Invocation struct {
	Model     string
	System    string
	Messages  []Message
	MaxTokens int
	// JSONSchema asks for a structured response when the provider supports it.
	JSONSchema []byte
}

// Completion is a provider-neutral chat completion result.
type Completion struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Invoker calls one provider. Implementations must honor ctx cancellation
// and return a *ProviderError for failures reported by the remote service.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) (*Completion, error)
}

// Pinger is implemented by invokers that can probe a model cheaply.
type Pinger interface {
	Ping(ctx context.Context, model string) error
}

// ProviderError is a failure reported by a provider API.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the call may succeed: rate limits,
// server errors and transport failures without a status.
func (e *ProviderError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// isRetryable classifies an attempt error. Deadline and cancellation are
// never retried inside an attempt.
func isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}
