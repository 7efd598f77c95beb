package providers

import (
	"context"

	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/unknown-philosopher/kgraph/internal/llm"
)

// OllamaProvider implements llm.Provider against a local ollama daemon.
// No API key is required; BaseURL overrides the default daemon address.
type OllamaProvider struct {
	client *ollama.LLM
	config llm.ProviderConfig
}

// NewOllamaProvider creates a new ollama provider.
func NewOllamaProvider(cfg llm.ProviderConfig) (*OllamaProvider, error) {
	opts := []ollama.Option{}
	if cfg.DefaultModel != "" {
		opts = append(opts, ollama.WithModel(cfg.DefaultModel))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}

	client, err := ollama.New(opts...)
	if err != nil {
		return nil, llm.TranslateError("ollama", err)
	}

	return &OllamaProvider{client: client, config: cfg}, nil
}

// Name returns the provider name.
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// DefaultModel returns the configured default model.
func (p *OllamaProvider) DefaultModel() string {
	return p.config.DefaultModel
}

// Models returns the configured model; ollama serves whatever is pulled
// locally, so there is no meaningful static listing.
func (p *OllamaProvider) Models(ctx context.Context) ([]llm.ModelInfo, error) {
	if p.config.DefaultModel == "" {
		return nil, nil
	}
	return []llm.ModelInfo{{Name: p.config.DefaultModel}}, nil
}

// Complete sends a completion request.
func (p *OllamaProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.client.GenerateContent(ctx, toLangchainMessages(req.Messages), buildCallOptions(req)...)
	if err != nil {
		return nil, llm.TranslateError("ollama", err)
	}

	return fromLangchainResponse(resp, req.Model), nil
}

// Embed returns one embedding vector per input text.
func (p *OllamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := p.client.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, llm.TranslateError("ollama", err)
	}
	return vectors, nil
}

var (
	_ llm.Provider = (*OllamaProvider)(nil)
	_ llm.Embedder = (*OllamaProvider)(nil)
)
