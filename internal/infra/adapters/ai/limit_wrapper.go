package ai

import (
	"context"

	"ai-brand-monitor/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.AIProviderAdapter = (*limitedProvider)(nil)

type limitedProvider struct {
	inner adapter.AIProviderAdapter
	sem   chan struct{}
}

// NewLimitedProvider caps concurrent calls to one provider.
func NewLimitedProvider(inner adapter.AIProviderAdapter, maxConcurrent int) adapter.AIProviderAdapter {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedProvider{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedProvider) Name() string { return l.inner.Name() }

func (l *limitedProvider) Ask(ctx context.Context, model, prompt string) (adapter.Answer, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return adapter.Answer{}, ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Ask(ctx, model, prompt)
}
