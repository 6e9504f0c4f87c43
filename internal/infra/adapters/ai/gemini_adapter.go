package ai

import (
	"context"
	"errors"

	"google.golang.org/genai"

	"ai-brand-monitor/internal/domain/ports/adapter"
)

var _ adapter.AIProviderAdapter = (*GeminiAdapter)(nil)

type GeminiAdapter struct {
	client       *genai.Client
	defaultModel string
}

// NewGeminiAdapter creates a Gemini adapter using the official SDK.
func NewGeminiAdapter(ctx context.Context, apiKey, baseURL, defaultModel string) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiAdapter{client: c, defaultModel: defaultModel}, nil
}

func (g *GeminiAdapter) Name() string { return "gemini" }

func (g *GeminiAdapter) Ask(ctx context.Context, model, prompt string) (adapter.Answer, error) {
	if model == "" {
		model = g.defaultModel
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return adapter.Answer{}, &adapter.CallError{StatusCode: apiErr.Code, Err: err}
		}
		return adapter.Answer{}, &adapter.CallError{Err: err}
	}

	ans := adapter.Answer{Text: resp.Text(), Model: model}
	if resp.UsageMetadata != nil {
		ans.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		ans.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return ans, nil
}
