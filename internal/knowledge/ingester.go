package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unknown-philosopher/kgraph/internal/events"
	"github.com/unknown-philosopher/kgraph/internal/llm"
	"github.com/unknown-philosopher/kgraph/internal/similarity"
	"github.com/unknown-philosopher/kgraph/internal/store"
	"github.com/unknown-philosopher/kgraph/internal/types"
)

// Options controls ingestion behavior.
type Options struct {
	ChunkSize    int // target chunk length in characters
	ChunkOverlap int // characters repeated between adjacent chunks
	MaxParallel  int // concurrent extraction calls
}

// DefaultOptions returns the ingestion defaults.
func DefaultOptions() Options {
	return Options{
		ChunkSize:    1200,
		ChunkOverlap: 200,
		MaxParallel:  4,
	}
}

// Ingester drives a document through chunking, entity extraction, graph
// writes, and similarity indexing.
type Ingester struct {
	store     *store.Store
	index     *similarity.Index
	embedder  llm.Embedder
	extractor *Extractor
	bus       *events.Bus
	opts      Options
	logger    *slog.Logger
}

// IngesterOption configures an Ingester.
type IngesterOption func(*Ingester)

// WithIngesterLogger sets the logger for ingestion diagnostics.
func WithIngesterLogger(logger *slog.Logger) IngesterOption {
	return func(ing *Ingester) {
		if logger != nil {
			ing.logger = logger
		}
	}
}

// WithOptions overrides the ingestion defaults.
func WithOptions(opts Options) IngesterOption {
	return func(ing *Ingester) {
		if opts.ChunkSize > 0 {
			ing.opts.ChunkSize = opts.ChunkSize
		}
		if opts.ChunkOverlap >= 0 {
			ing.opts.ChunkOverlap = opts.ChunkOverlap
		}
		if opts.MaxParallel > 0 {
			ing.opts.MaxParallel = opts.MaxParallel
		}
	}
}

// NewIngester creates an Ingester. embedder may be nil, in which case
// entities are written to the graph but not to the similarity index.
func NewIngester(s *store.Store, index *similarity.Index, embedder llm.Embedder, extractor *Extractor, bus *events.Bus, opts ...IngesterOption) *Ingester {
	ing := &Ingester{
		store:     s,
		index:     index,
		embedder:  embedder,
		extractor: extractor,
		bus:       bus,
		opts:      DefaultOptions(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// IngestFile reads a file and ingests its content.
func (ing *Ingester) IngestFile(ctx context.Context, path string) (*IngestResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ing.IngestText(ctx, string(data), path)
}

// IngestText chunks the text, extracts entities and relationships from
// each chunk concurrently, writes them to the store, and indexes entity
// embeddings. Chunks the model cannot parse are skipped and recorded in
// the result; only infrastructure failures abort the run.
func (ing *Ingester) IngestText(ctx context.Context, text, source string) (*IngestResult, error) {
	start := time.Now()
	result := &IngestResult{Source: source}

	chunks := ChunkText(text, ChunkOptions{
		ChunkSize:    ing.opts.ChunkSize,
		ChunkOverlap: ing.opts.ChunkOverlap,
	})
	result.Chunks = len(chunks)
	if len(chunks) == 0 {
		result.Duration = time.Since(start)
		return result, nil
	}

	extractions := make([]Extraction, len(chunks))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ing.opts.MaxParallel)

	for i, chunk := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			extraction, ok := ing.extractor.Extract(gctx, chunk.Text)
			if !ok {
				mu.Lock()
				result.Errors = append(result.Errors,
					fmt.Sprintf("chunk %d: extraction produced no result", chunk.Index))
				mu.Unlock()
				return nil
			}

			extractions[i] = extraction
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	written, err := ing.writeGraph(ctx, extractions, result)
	if err != nil {
		return result, err
	}

	if err := ing.indexEntities(ctx, written, result); err != nil {
		return result, err
	}

	result.Duration = time.Since(start)

	ing.publish(ctx, events.TopicDocumentIngested, events.Payload{
		"source":        result.Source,
		"chunks":        result.Chunks,
		"entities":      result.Entities,
		"relationships": result.Relationships,
	})
	if result.Entities > 0 || result.Relationships > 0 {
		ing.publish(ctx, events.TopicGraphUpdated, events.Payload{"source": result.Source})
	}

	ing.logger.Info("document ingested",
		"source", result.Source,
		"chunks", result.Chunks,
		"entities", result.Entities,
		"relationships", result.Relationships,
		"indexed", result.Indexed,
		"soft_failures", len(result.Errors),
		"duration", result.Duration,
	)

	return result, nil
}

// writeGraph merges the per-chunk extractions into the store and returns
// the entities written, keyed by name.
func (ing *Ingester) writeGraph(ctx context.Context, extractions []Extraction, result *IngestResult) (map[string]*types.Entity, error) {
	written := make(map[string]*types.Entity)

	for _, extraction := range extractions {
		for _, raw := range extraction.Entities {
			if _, done := written[raw.Name]; done {
				continue
			}

			entity, err := ing.upsertEntity(ctx, raw)
			if err != nil {
				return nil, err
			}
			written[raw.Name] = entity
			result.Entities++
		}
	}

	for _, extraction := range extractions {
		for _, raw := range extraction.Relationships {
			source, okS := written[raw.Source]
			target, okT := written[raw.Target]
			if !okS || !okT {
				// The model referenced a name it never declared; resolve
				// against the existing graph before giving up.
				var err error
				if !okS {
					source, err = ing.store.Entities.GetByName(ctx, raw.Source)
					if err != nil {
						continue
					}
				}
				if !okT {
					target, err = ing.store.Entities.GetByName(ctx, raw.Target)
					if err != nil {
						continue
					}
				}
			}

			rel := &types.Relationship{
				ID:     types.NewID(),
				Source: source.ID,
				Target: target.ID,
				Kind:   raw.Kind,
				Weight: raw.Weight,
			}
			if err := ing.store.Relationships.Create(ctx, rel); err != nil {
				return nil, err
			}
			result.Relationships++
		}
	}

	return written, nil
}

// upsertEntity reuses an existing entity with the same name, filling in
// type and summary when the stored row lacks them, and creates the entity
// otherwise.
func (ing *Ingester) upsertEntity(ctx context.Context, raw ExtractedEntity) (*types.Entity, error) {
	existing, err := ing.store.Entities.GetByName(ctx, raw.Name)
	if err == nil {
		changed := false
		if existing.Type == "" && raw.Type != "" {
			existing.Type = raw.Type
			changed = true
		}
		if existing.Summary == "" && raw.Summary != "" {
			existing.Summary = raw.Summary
			changed = true
		}
		if changed {
			if err := ing.store.Entities.Update(ctx, existing); err != nil {
				return nil, err
			}
		}
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	entity := &types.Entity{
		ID:      types.NewID(),
		Name:    raw.Name,
		Type:    raw.Type,
		Summary: raw.Summary,
	}
	if err := ing.store.Entities.Create(ctx, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

// indexEntities embeds the written entities and upserts them into the
// similarity index. Skipped entirely when no embedder is wired.
func (ing *Ingester) indexEntities(ctx context.Context, written map[string]*types.Entity, result *IngestResult) error {
	if ing.embedder == nil || ing.index == nil || len(written) == 0 {
		return nil
	}

	entities := make([]*types.Entity, 0, len(written))
	texts := make([]string, 0, len(written))
	for _, entity := range written {
		entities = append(entities, entity)
		texts = append(texts, embeddingText(entity))
	}

	vectors, err := ing.embedder.Embed(ctx, texts)
	if err != nil {
		return types.WrapError(llm.ErrEmbeddingFailed, "embedding failed", err)
	}
	if len(vectors) != len(entities) {
		return types.NewError(llm.ErrEmbeddingFailed,
			fmt.Sprintf("embedder returned %d vectors for %d entities", len(vectors), len(entities)))
	}

	for i, entity := range entities {
		if err := ing.index.Upsert(ctx, entity.ID, vectors[i]); err != nil {
			return err
		}
		result.Indexed++
	}

	return nil
}

// embeddingText is the canonical string an entity is embedded from.
func embeddingText(entity *types.Entity) string {
	if entity.Summary == "" {
		return entity.Name
	}
	return entity.Name + ": " + entity.Summary
}

func (ing *Ingester) publish(ctx context.Context, topic events.Topic, payload events.Payload) {
	if ing.bus == nil {
		return
	}
	if err := ing.bus.Publish(ctx, topic, payload); err != nil {
		ing.logger.Warn("event publish failed", "topic", topic, "error", err)
	}
}
