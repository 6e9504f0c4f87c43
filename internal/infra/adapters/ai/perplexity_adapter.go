package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ai-brand-monitor/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.AIProviderAdapter = (*PerplexityAdapter)(nil)

// PerplexityAdapter talks to Perplexity's OpenAI-compatible chat endpoint.
// Base URL defaults to https://api.perplexity.ai (configurable).
// Chat completions path is the same as OpenAI: /chat/completions
// Authorization: Bearer <PERPLEXITY_API_KEY>
type PerplexityAdapter struct {
	apiKey string
	base   string
	model  string
	client *http.Client
}

func NewPerplexityAdapter(apiKey, model, base string) (*PerplexityAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("perplexity api key empty")
	}
	if model == "" {
		model = "sonar"
	}
	if base == "" {
		base = "https://api.perplexity.ai"
	}
	return &PerplexityAdapter{
		apiKey: apiKey,
		base:   strings.TrimRight(base, "/"),
		model:  model,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (p *PerplexityAdapter) Name() string { return "perplexity" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (p *PerplexityAdapter) Ask(ctx context.Context, model, prompt string) (adapter.Answer, error) {
	if model == "" {
		model = p.model
	}

	reqBody := struct {
		Model    string        `json:"model"`
		Messages []chatMessage `json:"messages"`
	}{Model: model, Messages: []chatMessage{{Role: "user", Content: prompt}}}

	b, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return adapter.Answer{}, &adapter.CallError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return adapter.Answer{}, &adapter.CallError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return adapter.Answer{}, &adapter.CallError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("perplexity: %s", strings.TrimSpace(string(body))),
		}
	}

	var out struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return adapter.Answer{}, &adapter.CallError{Err: fmt.Errorf("perplexity decode: %w", err)}
	}
	if len(out.Choices) == 0 {
		return adapter.Answer{}, &adapter.CallError{Err: errors.New("perplexity: empty choices")}
	}

	ans := adapter.Answer{
		Text:             out.Choices[0].Message.Content,
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
		Model:            model,
	}
	if ans.CompletionTokens == 0 && ans.Text != "" {
		ans.CompletionTokens = countTokens(ans.Text)
	}
	return ans, nil
}
