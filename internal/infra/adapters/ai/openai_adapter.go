package ai

import (
	"context"
	"errors"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/pkoukk/tiktoken-go"

	"ai-brand-monitor/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.AIProviderAdapter = (*OpenAIAdapter)(nil)

// OpenAIAdapter asks one prompt via the official SDK's Chat Completions API.
type OpenAIAdapter struct {
	client       openai.Client
	defaultModel string
}

func NewOpenAIAdapter(apiKey, defaultModel string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	return &OpenAIAdapter{
		client:       openai.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: defaultModel,
	}, nil
}

func (o *OpenAIAdapter) Name() string { return "openai" }

func (o *OpenAIAdapter) Ask(ctx context.Context, model, prompt string) (adapter.Answer, error) {
	if model == "" {
		model = o.defaultModel
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return adapter.Answer{}, &adapter.CallError{StatusCode: apiErr.StatusCode, Err: err}
		}
		return adapter.Answer{}, &adapter.CallError{Err: err}
	}
	if len(resp.Choices) == 0 {
		return adapter.Answer{}, &adapter.CallError{Err: errors.New("openai: empty choices")}
	}

	ans := adapter.Answer{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		Model:            model,
	}
	if ans.CompletionTokens == 0 && ans.Text != "" {
		ans.CompletionTokens = countTokens(ans.Text)
	}
	return ans, nil
}

// countTokens approximates usage when the API omits it.
func countTokens(text string) int {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return 0
	}
	return len(enc.Encode(text, nil, nil))
}
