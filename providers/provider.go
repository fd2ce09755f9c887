package providers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

type ProviderType string

var (
	// ErrEmptyCompletion is returned when a provider answers with no text.
	ErrEmptyCompletion = errors.New("provider returned an empty completion")
	// ErrAPIKeyRequired is returned when a provider is configured without credentials.
	ErrAPIKeyRequired = errors.New("API key required")
	// ErrUnknownProvider is returned by New for unsupported provider names.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Provider is a chat-completion backend for the generative branch.
type Provider interface {
	GetType() ProviderType
	GetName() string

	// Complete sends one system instruction and one user message and returns
	// the raw assistant text.
	Complete(ctx context.Context, system, user string) (string, error)

	// ValidateConfig checks if provider configuration is valid
	ValidateConfig() error
}

// Options selects and configures a provider.
type Options struct {
	Provider  string
	APIKey    string
	BaseURL   string
	UseHTTPS  bool
	Model     string
	MaxTokens int
}

// New builds the provider named by opts.Provider.
func New(ctx context.Context, opts Options) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch ProviderType(strings.ToLower(opts.Provider)) {
	case ProviderTypeOpenAI, "":
		p, err = NewOpenAIProvider(baseURLOrDefault(opts, ProviderBaseURLOpenAI), opts.APIKey, opts.Model, opts.MaxTokens)
	case ProviderTypeMistral:
		p, err = NewMistralProvider(baseURLOrDefault(opts, ProviderBaseURLMistral), opts.APIKey, opts.Model, opts.MaxTokens)
	case ProviderTypeAnthropic:
		p, err = NewAnthropicProvider(baseURLOrDefault(opts, ProviderBaseURLAnthropic), opts.APIKey, opts.Model, opts.MaxTokens)
	case ProviderTypeGemini:
		p, err = NewGeminiProvider(ctx, opts.BaseURL, opts.APIKey, opts.Model, opts.MaxTokens)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, opts.Provider)
	}
	if err != nil {
		return nil, err
	}
	if err := p.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("invalid %s configuration: %w", p.GetName(), err)
	}
	return p, nil
}

// IsKnown reports whether name selects a supported provider.
func IsKnown(name string) bool {
	switch ProviderType(strings.ToLower(name)) {
	case ProviderTypeOpenAI, ProviderTypeMistral, ProviderTypeAnthropic, ProviderTypeGemini:
		return true
	}
	return false
}

func baseURLOrDefault(opts Options, fallback string) string {
	if opts.BaseURL == "" {
		return fallback
	}
	return normalizeBaseURL(opts.BaseURL, opts.UseHTTPS)
}

// normalizeBaseURL accepts a bare host[:port] or a full URL and returns it
// with the requested scheme and no trailing slash.
func normalizeBaseURL(apiDomain string, useHttps bool) string {
	scheme := "http"
	if useHttps {
		scheme = "https"
	}

	raw := strings.TrimSpace(apiDomain)
	if !strings.Contains(raw, "://") {
		return scheme + "://" + strings.TrimRight(raw, "/")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimRight(raw, "/")
	}
	u.Scheme = scheme
	return strings.TrimRight(u.String(), "/")
}
