package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

const (
	ProviderTypeOpenAI    ProviderType = "openai"
	ProviderBaseURLOpenAI string       = "https://api.openai.com/v1"
	DefaultModelOpenAI    string       = "gpt-3.5-turbo"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions API.
type OpenAIProvider struct {
	llm       *openai.LLM
	name      string
	typ       ProviderType
	baseURL   string
	model     string
	maxTokens int
}

func NewOpenAIProvider(baseURL, apiKey, model string, maxTokens int) (*OpenAIProvider, error) {
	return newOpenAICompatible("OpenAI", ProviderTypeOpenAI, baseURL, apiKey, modelOrDefault(model, DefaultModelOpenAI), maxTokens)
}

func newOpenAICompatible(name string, typ ProviderType, baseURL, apiKey, model string, maxTokens int) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrAPIKeyRequired, name)
	}
	llm, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithModel(model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", name, err)
	}
	return &OpenAIProvider{
		llm:       llm,
		name:      name,
		typ:       typ,
		baseURL:   baseURL,
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

func (p *OpenAIProvider) GetName() string {
	return p.name
}

func (p *OpenAIProvider) GetType() ProviderType {
	return p.typ
}

func (p *OpenAIProvider) Complete(ctx context.Context, system, user string) (string, error) {
	callOpts := []llms.CallOption{llms.WithTemperature(0)}
	if p.maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(p.maxTokens))
	}

	resp, err := p.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, user),
	}, callOpts...)
	if err != nil {
		return "", fmt.Errorf("%s completion failed: %w", p.name, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	content := resp.Choices[0].Content
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

func (p *OpenAIProvider) ValidateConfig() error {
	if p.baseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if p.model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

func modelOrDefault(model, fallback string) string {
	if model == "" {
		return fallback
	}
	return model
}
