package ai

import (
	"context"

	"ai-brand-monitor/internal/domain/ports/adapter"
)

var _ adapter.AIProviderAdapter = (*NoopProvider)(nil)

// NoopProvider answers every prompt with a canned response. Used in dev mode
// and wiring tests so the pipeline runs without provider keys.
type NoopProvider struct {
	ProviderName string
	Reply        string
}

func (n *NoopProvider) Name() string {
	if n.ProviderName == "" {
		return "noop"
	}
	return n.ProviderName
}

func (n *NoopProvider) Ask(ctx context.Context, model, prompt string) (adapter.Answer, error) {
	reply := n.Reply
	if reply == "" {
		reply = "noop answer"
	}
	return adapter.Answer{Text: reply, Model: model}, nil
}
