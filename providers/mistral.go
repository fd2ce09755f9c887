package providers

const (
	ProviderTypeMistral    ProviderType = "mistral"
	ProviderBaseURLMistral string       = "https://api.mistral.ai/v1"
	DefaultModelMistral    string       = "mistral-small-latest"
)

// NewMistralProvider uses Mistral's OpenAI-compatible chat completions API.
func NewMistralProvider(baseURL, apiKey, model string, maxTokens int) (*OpenAIProvider, error) {
	return newOpenAICompatible("Mistral", ProviderTypeMistral, baseURL, apiKey, modelOrDefault(model, DefaultModelMistral), maxTokens)
}
