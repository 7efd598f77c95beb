package knowledge

import (
	"context"
	"log/slog"
	"strings"

	"github.com/unknown-philosopher/kgraph/internal/llm"
)

const extractionSystemPrompt = `Extract the entities and relationships from the text the user provides.

Respond with a single JSON object of this exact shape:
{
  "entities": [{"name": "...", "type": "...", "summary": "..."}],
  "relationships": [{"source": "...", "target": "...", "kind": "...", "weight": 0.0}]
}

Rules:
- "type" is a short lowercase category such as "person", "org", "place", "concept"; omit when unknown
- "source" and "target" must be names that appear in "entities"
- "weight" is the relationship's strength in (0, 1]; omit for the default
- Return {"entities": [], "relationships": []} when the text contains nothing of note`

// Extractor turns document chunks into structured entities and
// relationships using the completion pipeline.
type Extractor struct {
	pipeline *llm.Pipeline
	model    string
	logger   *slog.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithExtractorModel overrides the provider default model for extraction.
func WithExtractorModel(model string) ExtractorOption {
	return func(e *Extractor) {
		e.model = model
	}
}

// WithExtractorLogger sets the logger for extraction diagnostics.
func WithExtractorLogger(logger *slog.Logger) ExtractorOption {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExtractor creates an Extractor over the given pipeline.
func NewExtractor(pipeline *llm.Pipeline, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		pipeline: pipeline,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract runs one extraction call over a chunk. A model failure or
// unparseable response yields (zero, false); the caller decides whether to
// skip the chunk or abort the run.
func (e *Extractor) Extract(ctx context.Context, chunk string) (Extraction, bool) {
	opts := []llm.CompletionOption{
		llm.WithSystemPrompt(extractionSystemPrompt),
		llm.WithTemperature(0.2),
	}
	if e.model != "" {
		opts = append(opts, llm.WithModel(e.model))
	}

	extraction, ok := llm.CompleteJSONAs[Extraction](ctx, e.pipeline, chunk, opts...)
	if !ok {
		return Extraction{}, false
	}

	return sanitize(extraction), true
}

// sanitize drops malformed rows the model occasionally emits: unnamed
// entities, relationships with missing endpoints, out-of-range weights.
func sanitize(raw Extraction) Extraction {
	var out Extraction

	names := make(map[string]struct{}, len(raw.Entities))
	for _, entity := range raw.Entities {
		entity.Name = strings.TrimSpace(entity.Name)
		if entity.Name == "" {
			continue
		}
		if _, dup := names[entity.Name]; dup {
			continue
		}
		names[entity.Name] = struct{}{}
		entity.Type = strings.ToLower(strings.TrimSpace(entity.Type))
		out.Entities = append(out.Entities, entity)
	}

	for _, rel := range raw.Relationships {
		rel.Source = strings.TrimSpace(rel.Source)
		rel.Target = strings.TrimSpace(rel.Target)
		rel.Kind = strings.TrimSpace(rel.Kind)
		if rel.Source == "" || rel.Target == "" || rel.Kind == "" || rel.Source == rel.Target {
			continue
		}
		if rel.Weight <= 0 || rel.Weight > 1 {
			rel.Weight = 1.0
		}
		out.Relationships = append(out.Relationships, rel)
	}

	return out
}
