package llm

import (
	"context"
)

// Provider is the boundary contract for an external completion API.
// Implementations wrap a concrete backend (OpenAI, Anthropic, a local
// ollama daemon) and translate its failures into coded errors so that
// rate-limit responses stay distinguishable from everything else.
type Provider interface {
	// Name returns the provider name (e.g. "openai", "anthropic", "ollama")
	Name() string

	// DefaultModel returns the configured default model, or "" if none.
	DefaultModel() string

	// Models returns information about the models this provider serves.
	Models(ctx context.Context) ([]ModelInfo, error)

	// Complete sends a completion request and blocks for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Embedder is implemented by providers whose backend can also produce
// embedding vectors. The similarity index consumes this to place entities
// in vector space.
type Embedder interface {
	// Embed returns one embedding vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
