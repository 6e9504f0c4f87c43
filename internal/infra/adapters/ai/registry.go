package ai

import (
	"context"
	"fmt"
	"strings"

	"ai-brand-monitor/internal/domain/ports/adapter"
)

// Registry resolves provider names from the task fan-out to adapters.
type Registry struct {
	byName map[string]adapter.AIProviderAdapter
}

func NewRegistry(adapters ...adapter.AIProviderAdapter) *Registry {
	byName := make(map[string]adapter.AIProviderAdapter, len(adapters))
	for _, a := range adapters {
		if a != nil {
			byName[strings.ToLower(a.Name())] = a
		}
	}
	return &Registry{byName: byName}
}

func (r *Registry) Get(provider string) (adapter.AIProviderAdapter, error) {
	if a := r.byName[strings.ToLower(provider)]; a != nil {
		return a, nil
	}
	return nil, fmt.Errorf("no adapter registered for provider %q", provider)
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}

// Ask dispatches to the named provider's adapter.
func (r *Registry) Ask(ctx context.Context, provider, model, prompt string) (adapter.Answer, error) {
	a, err := r.Get(provider)
	if err != nil {
		return adapter.Answer{}, err
	}
	return a.Ask(ctx, model, prompt)
}
