package providers

import (
	"fmt"

	"github.com/unknown-philosopher/kgraph/internal/llm"
)

// New constructs the provider named by cfg.Name.
func New(cfg llm.ProviderConfig) (llm.Provider, error) {
	switch cfg.Name {
	case "openai":
		return NewOpenAIProvider(cfg)
	case "anthropic":
		return NewAnthropicProvider(cfg)
	case "ollama":
		return NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q (supported: openai, anthropic, ollama)", cfg.Name)
	}
}
