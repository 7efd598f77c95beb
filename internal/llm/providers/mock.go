package providers

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"

	"github.com/unknown-philosopher/kgraph/internal/llm"
)

// MockResponse scripts one Complete call of a MockProvider.
type MockResponse struct {
	Content string
	Err     error
}

// MockProvider is a scriptable in-memory provider for tests. Responses are
// consumed in order; the final one repeats once the script is exhausted.
// All methods are safe for concurrent use.
type MockProvider struct {
	mu           sync.Mutex
	defaultModel string
	models       []llm.ModelInfo
	responses    []MockResponse
	calls        []llm.CompletionRequest
	embedDim     int
}

// NewMockProvider creates a MockProvider with the given scripted responses.
func NewMockProvider(responses ...MockResponse) *MockProvider {
	return &MockProvider{
		defaultModel: "mock-model",
		models:       []llm.ModelInfo{{Name: "mock-model", ContextWindow: 8192, MaxOutput: 4096}},
		responses:    responses,
		embedDim:     8,
	}
}

// WithDefaultModel overrides the default model ("" clears it).
func (p *MockProvider) WithDefaultModel(model string) *MockProvider {
	p.defaultModel = model
	return p
}

// WithModels overrides the model listing.
func (p *MockProvider) WithModels(models ...llm.ModelInfo) *MockProvider {
	p.models = models
	return p
}

// Name returns the provider name.
func (p *MockProvider) Name() string {
	return "mock"
}

// DefaultModel returns the configured default model.
func (p *MockProvider) DefaultModel() string {
	return p.defaultModel
}

// Models returns the configured model listing.
func (p *MockProvider) Models(ctx context.Context) ([]llm.ModelInfo, error) {
	return p.models, nil
}

// Complete records the request and returns the next scripted response.
func (p *MockProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, req)

	if len(p.responses) == 0 {
		return &llm.CompletionResponse{
			ID:           uuid.New().String(),
			Model:        req.Model,
			Message:      llm.NewAssistantMessage(""),
			FinishReason: llm.FinishReasonStop,
		}, nil
	}

	idx := len(p.calls) - 1
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	scripted := p.responses[idx]

	if scripted.Err != nil {
		return nil, scripted.Err
	}

	return &llm.CompletionResponse{
		ID:           uuid.New().String(),
		Model:        req.Model,
		Message:      llm.NewAssistantMessage(scripted.Content),
		FinishReason: llm.FinishReasonStop,
	}, nil
}

// Embed returns a deterministic pseudo-embedding per input text, so tests
// get stable vectors without a real backend.
func (p *MockProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		h := fnv.New32a()
		h.Write([]byte(text))
		seed := h.Sum32()

		vec := make([]float32, p.embedDim)
		for j := range vec {
			seed = seed*1664525 + 1013904223
			vec[j] = float32(seed%1000)/500.0 - 1.0
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// CallCount returns the number of Complete calls made so far.
func (p *MockProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Calls returns a copy of the recorded completion requests.
func (p *MockProvider) Calls() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.calls))
	copy(out, p.calls)
	return out
}

var (
	_ llm.Provider = (*MockProvider)(nil)
	_ llm.Embedder = (*MockProvider)(nil)
)
