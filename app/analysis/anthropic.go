package analysis

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/shopspring/decimal"
)

var perMillion = decimal.NewFromInt(1_000_000)

// Pricing holds USD prices per million tokens.
type Pricing struct {
	Input     decimal.Decimal
	Output    decimal.Decimal
	CacheRead decimal.Decimal
}

// AnthropicProvider computes cost from token counts. Cache reads are billed
// at the input price in the gross amount and the discount is reported as a
// negative cache component.
type AnthropicProvider struct {
	client  *anthropic.Client
	pricing Pricing
}

func NewAnthropicProvider(apiKey, baseURL string, pricing Pricing) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	client := anthropic.NewClient(opts...)
	return &AnthropicProvider{client: &client, pricing: pricing}
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

func (p *AnthropicProvider) Complete(ctx context.Context, model string, prompt Prompt) (*Completion, error) {
	maxTokens := prompt.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.User)),
		},
	}
	if prompt.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: prompt.System},
		}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(model, err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, &CompletionError{Provider: p.Name(), Model: model, Err: ErrEmptyCompletion}
	}

	input := resp.Usage.InputTokens + resp.Usage.CacheCreationInputTokens
	cacheRead := resp.Usage.CacheReadInputTokens

	return &Completion{
		Text:             strings.TrimSpace(text.String()),
		PromptTokens:     input + cacheRead,
		CompletionTokens: resp.Usage.OutputTokens,
		Usage:            p.usage(input, cacheRead, resp.Usage.OutputTokens),
	}, nil
}

func (p *AnthropicProvider) usage(input, cacheRead, output int64) Usage {
	gross := p.cost(input+cacheRead, p.pricing.Input).Add(p.cost(output, p.pricing.Output))

	usage := Usage{Gross: gross}
	if cacheRead > 0 {
		discount := p.cost(cacheRead, p.pricing.CacheRead.Sub(p.pricing.Input))
		usage.Cache = decimal.NewNullDecimal(discount)
	}
	return usage
}

func (p *AnthropicProvider) cost(tokens int64, pricePerMillion decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(tokens).Mul(pricePerMillion).Div(perMillion)
}

func (p *AnthropicProvider) wrapError(model string, err error) error {
	completionErr := &CompletionError{Provider: p.Name(), Model: model, Err: err}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		completionErr.StatusCode = apiErr.StatusCode
	}

	return completionErr
}
