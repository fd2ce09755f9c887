package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	ProviderTypeAnthropic    ProviderType = "anthropic"
	ProviderBaseURLAnthropic string       = "https://api.anthropic.com"
	DefaultModelAnthropic    string       = "claude-3-5-haiku-20241022"
	defaultAnthropicTokens                = 1024
)

type AnthropicProvider struct {
	client    anthropic.Client
	baseURL   string
	model     anthropic.Model
	maxTokens int64
}

func NewAnthropicProvider(baseURL, apiKey, model string, maxTokens int) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: Anthropic", ErrAPIKeyRequired)
	}
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicTokens
	}
	// Retries are handled by WithRetry so they share one policy across providers.
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	)
	return &AnthropicProvider{
		client:    client,
		baseURL:   baseURL,
		model:     anthropic.Model(modelOrDefault(model, DefaultModelAnthropic)),
		maxTokens: int64(maxTokens),
	}, nil
}

func (p *AnthropicProvider) GetName() string {
	return "Anthropic"
}

func (p *AnthropicProvider) GetType() ProviderType {
	return ProviderTypeAnthropic
}

func (p *AnthropicProvider) Complete(ctx context.Context, system, user string) (string, error) {
	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		Temperature: anthropic.Float(0),
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic completion failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyCompletion
	}
	return sb.String(), nil
}

func (p *AnthropicProvider) ValidateConfig() error {
	if p.baseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if p.model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}
