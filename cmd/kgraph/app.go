package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"

	"github.com/unknown-philosopher/kgraph/internal/config"
	"github.com/unknown-philosopher/kgraph/internal/dedup"
	"github.com/unknown-philosopher/kgraph/internal/events"
	"github.com/unknown-philosopher/kgraph/internal/knowledge"
	"github.com/unknown-philosopher/kgraph/internal/llm"
	"github.com/unknown-philosopher/kgraph/internal/llm/providers"
	"github.com/unknown-philosopher/kgraph/internal/observability"
	"github.com/unknown-philosopher/kgraph/internal/ratelimit"
	"github.com/unknown-philosopher/kgraph/internal/similarity"
	"github.com/unknown-philosopher/kgraph/internal/store"
	"github.com/unknown-philosopher/kgraph/internal/types"
)

// app is the composition root: every collaborator is constructed here and
// handed down explicitly, so there are no package-level singletons to
// reset between runs.
type app struct {
	cfg      *config.Config
	db       *store.DB
	store    *store.Store
	bus      *events.Bus
	limiter  *ratelimit.Limiter
	provider llm.Provider
	pipeline *llm.Pipeline
	index    *similarity.Index // nil until ensureIndex succeeds
	recorder *observability.Recorder
}

// newApp wires the application from configuration.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := store.OpenWithConfig(store.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxConnections,
		MaxIdleConns:    cfg.Database.MaxConnections / 2,
		BusyTimeout:     cfg.Database.Timeout,
		ConnMaxLifetime: 0,
	})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	provider, err := providers.New(cfg.LLM)
	if err != nil {
		db.Close()
		return nil, err
	}

	busOpts := []events.Option{events.WithLogger(slog.Default())}
	var recorder *observability.Recorder
	if cfg.Metrics.Enabled {
		recorder, err = observability.NewRecorder(otel.GetMeterProvider())
		if err != nil {
			db.Close()
			return nil, err
		}
		busOpts = append(busOpts, events.WithMetrics(recorder))
	}

	limiter := ratelimit.NewLimiter(
		ratelimit.WithMaxConcurrent(cfg.RateLimit.MaxConcurrent),
		ratelimit.WithMinDelay(cfg.RateLimit.MinDelay),
		ratelimit.WithMaxRetries(cfg.RateLimit.MaxRetries),
		ratelimit.WithInitialRetryDelay(cfg.RateLimit.InitialRetryDelay),
		ratelimit.WithOverallTimeout(cfg.RateLimit.OverallTimeout),
	)

	bus := events.NewBus(busOpts...)

	return &app{
		cfg:      cfg,
		db:       db,
		store:    store.New(db),
		bus:      bus,
		limiter:  limiter,
		provider: provider,
		pipeline: llm.NewPipeline(provider, limiter),
		recorder: recorder,
	}, nil
}

// close drains in-flight event handlers and releases resources.
func (a *app) close(ctx context.Context) {
	if err := a.bus.Drain(ctx); err != nil {
		slog.Warn("event handlers still running at shutdown", "error", err)
	}
	a.bus.Close()

	if err := a.db.Close(); err != nil {
		slog.Warn("database close failed", "error", err)
	}
}

// ensureIndex creates the similarity index, probing the provider once to
// learn the embedding dimensionality. Fails when the configured provider
// has no embedding support.
func (a *app) ensureIndex(ctx context.Context) (*similarity.Index, llm.Embedder, error) {
	embedder, ok := a.provider.(llm.Embedder)
	if !ok {
		return nil, nil, fmt.Errorf("provider %q does not support embeddings; similarity features are unavailable", a.provider.Name())
	}

	if a.index != nil {
		return a.index, embedder, nil
	}

	probe, err := embedder.Embed(ctx, []string{"dimension probe"})
	if err != nil {
		return nil, nil, fmt.Errorf("embedding probe failed: %w", err)
	}
	if len(probe) == 0 || len(probe[0]) == 0 {
		return nil, nil, fmt.Errorf("provider %q returned an empty probe embedding", a.provider.Name())
	}

	index, err := similarity.NewIndex(a.db.Conn(), len(probe[0]))
	if err != nil {
		return nil, nil, err
	}

	a.index = index
	return index, embedder, nil
}

// newIngester wires a document ingester including the similarity index.
func (a *app) newIngester(ctx context.Context) (*knowledge.Ingester, error) {
	index, embedder, err := a.ensureIndex(ctx)
	if err != nil {
		// Ingestion still works without an index; duplicates are simply
		// not discoverable until a provider with embeddings is configured.
		slog.Warn("similarity index unavailable, ingesting without embeddings", "error", err)
		index, embedder = nil, nil
	}

	extractor := knowledge.NewExtractor(a.pipeline,
		knowledge.WithExtractorModel(a.cfg.LLM.DefaultModel))

	return knowledge.NewIngester(a.store, index, embedder, extractor, a.bus,
		knowledge.WithOptions(knowledge.Options{
			ChunkSize:    a.cfg.Knowledge.ChunkSize,
			ChunkOverlap: a.cfg.Knowledge.ChunkOverlap,
			MaxParallel:  a.cfg.Knowledge.MaxParallel,
		})), nil
}

// newDedupService wires the deduplication service over the similarity index.
func (a *app) newDedupService(ctx context.Context) (*dedup.Service, error) {
	index, _, err := a.ensureIndex(ctx)
	if err != nil {
		return nil, err
	}

	return dedup.NewService(index, dedupStore{a.store}, a.bus, a.pipeline, dedup.Config{
		Threshold: a.cfg.Dedup.Threshold,
		AutoMerge: a.cfg.Dedup.AutoMerge,
		Model:     a.cfg.Dedup.Model,
	}), nil
}

// dedupStore adapts *store.Store to the dedup boundary; the concrete
// BeginTx returns *store.Tx, which the interface method re-types.
type dedupStore struct {
	s *store.Store
}

func (d dedupStore) EntityType(ctx context.Context, id types.ID) (string, error) {
	return d.s.EntityType(ctx, id)
}

func (d dedupStore) BeginTx(ctx context.Context) (dedup.Tx, error) {
	return d.s.BeginTx(ctx)
}
