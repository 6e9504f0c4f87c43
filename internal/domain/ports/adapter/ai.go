package adapter

import (
	"context"
	"fmt"
)

// Answer is one provider response to a tracked prompt.
type Answer struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Model            string
}

// AIProviderAdapter issues one prompt to one AI provider and returns the
// free-text answer. Implementations are stateless transforms; retry, backoff
// and circuit breaking live in the call executor, not here.
type AIProviderAdapter interface {
	Name() string
	Ask(ctx context.Context, model, prompt string) (Answer, error)
}

// CallError carries the provider's HTTP-equivalent status code so the
// executor can split permanent failures from transient ones.
type CallError struct {
	StatusCode int
	Err        error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("provider call failed (status %d): %v", e.StatusCode, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Permanent reports whether retrying this call would be wasted work:
// authentication and validation errors never heal on retry.
func (e *CallError) Permanent() bool {
	switch e.StatusCode {
	case 400, 401, 403:
		return true
	}
	return false
}
