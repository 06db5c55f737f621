package analysis

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider talks to OpenAI or any OpenAI-compatible gateway. Gateways
// that report per-request cost fields feed the cost breakdown directly.
type OpenAIProvider struct {
	client *openai.Client
}

func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries are the fallback chain's job.
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(opts...)
	return &OpenAIProvider{client: &client}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Complete(ctx context.Context, model string, prompt Prompt) (*Completion, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if prompt.System != "" {
		messages = append(messages, openai.SystemMessage(prompt.System))
	}
	messages = append(messages, openai.UserMessage(prompt.User))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if prompt.MaxTokens > 0 {
		params.MaxTokens = openai.Int(prompt.MaxTokens)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(model, err)
	}

	if len(resp.Choices) == 0 {
		return nil, &CompletionError{Provider: p.Name(), Model: model, Err: ErrEmptyCompletion}
	}

	return &Completion{
		Text:             strings.TrimSpace(resp.Choices[0].Message.Content),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Usage:            parseUsageCosts(resp.RawJSON(), resp.Usage.RawJSON()),
	}, nil
}

func (p *OpenAIProvider) wrapError(model string, err error) error {
	completionErr := &CompletionError{Provider: p.Name(), Model: model, Err: err}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		completionErr.StatusCode = apiErr.StatusCode
	}

	return completionErr
}
