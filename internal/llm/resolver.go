package llm

import "fmt"

// NewProvider builds the named provider. apiKey is ignored by ollama;
// baseURL is optional for every provider.
func NewProvider(name, apiKey, baseURL string) (Provider, error) {
	switch name {
	case "openai":
		return NewOpenAIProvider(apiKey, baseURL), nil
	case "anthropic":
		return NewAnthropicProvider(apiKey, baseURL), nil
	case "ollama":
		return NewOllamaProvider(baseURL), nil
	default:
		return nil, fmt.Errorf("%q: %w", name, ErrProviderNotAvailable)
	}
}

// ProviderUsesAPIKey reports whether the named provider requires an API key.
func ProviderUsesAPIKey(name string) bool {
	return name == "openai" || name == "anthropic"
}
