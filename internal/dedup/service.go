package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/unknown-philosopher/kgraph/internal/events"
	"github.com/unknown-philosopher/kgraph/internal/llm"
	"github.com/unknown-philosopher/kgraph/internal/types"
)

// Config controls deduplication behavior.
type Config struct {
	// Threshold is the minimum similarity score for a candidate pair to be
	// evaluated at all.
	Threshold float64

	// AutoMerge skips LLM confirmation and merges every surviving candidate.
	AutoMerge bool

	// Model overrides the provider default for confirmation calls.
	Model string
}

// PassStats summarizes one deduplication batch or pass.
type PassStats struct {
	Candidates int // candidates received
	Merged     int // pairs merged and committed
	Rejected   int // pairs retired without a merge
	Skipped    int // below threshold, self-pairs, already processed
	Failed     int // merges that rolled back; the pair is still retired
}

// Service scans duplicate candidates from the similarity index, confirms
// them with the completion pipeline, and merges confirmed pairs inside a
// store transaction.
//
// Thread safety: passes are serialized; the processed-pair set is guarded
// independently so concurrent OnSimilarityBatch callers cannot double-merge
// a pair.
type Service struct {
	searcher Searcher
	store    EntityStore
	bus      *events.Bus
	pipeline *llm.Pipeline
	cfg      Config
	logger   *slog.Logger

	passMu sync.Mutex // serializes RunPass

	pairMu    sync.Mutex
	processed map[pairKey]struct{}
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger for dedup diagnostics.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a deduplication service over its collaborators.
func NewService(searcher Searcher, store EntityStore, bus *events.Bus, pipeline *llm.Pipeline, cfg Config, opts ...ServiceOption) *Service {
	s := &Service{
		searcher:  searcher,
		store:     store,
		bus:       bus,
		pipeline:  pipeline,
		cfg:       cfg,
		logger:    slog.Default(),
		processed: make(map[pairKey]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ProcessedCount returns how many pairs have reached a terminal decision.
func (s *Service) ProcessedCount() int {
	s.pairMu.Lock()
	defer s.pairMu.Unlock()
	return len(s.processed)
}

// markProcessed retires a pair. Decisions are absorbing: once a pair is
// marked it is never evaluated again for the lifetime of the service.
func (s *Service) markProcessed(a, b types.ID) {
	s.pairMu.Lock()
	defer s.pairMu.Unlock()
	s.processed[newPairKey(a, b)] = struct{}{}
}

func (s *Service) isProcessed(a, b types.ID) bool {
	s.pairMu.Lock()
	defer s.pairMu.Unlock()
	_, ok := s.processed[newPairKey(a, b)]
	return ok
}

// RunPass queries the similarity collaborator for duplicate candidates and
// evaluates the whole batch. Passes are serialized; a second caller blocks
// until the first pass finishes. The pass outcome is published on
// TopicDedupPassCompleted.
func (s *Service) RunPass(ctx context.Context) (PassStats, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	candidates, err := s.searcher.FindDuplicateCandidates(ctx, s.cfg.Threshold)
	if err != nil {
		return PassStats{}, types.WrapError(types.DEDUP_SEARCH_FAILED, "candidate search failed", err)
	}

	stats, err := s.OnSimilarityBatch(ctx, candidates, s.cfg.Threshold)

	s.publish(ctx, events.TopicDedupPassCompleted, events.Payload{
		"candidates": stats.Candidates,
		"merged":     stats.Merged,
		"rejected":   stats.Rejected,
	})

	return stats, err
}

// OnSimilarityBatch evaluates a batch of duplicate candidates. Candidates
// below threshold, self-pairs, and already-processed pairs are skipped.
// Every evaluated pair reaches a terminal decision before the next
// candidate is considered; a failed merge rolls back but still retires the
// pair so one broken candidate cannot wedge every future pass.
func (s *Service) OnSimilarityBatch(ctx context.Context, candidates []Candidate, threshold float64) (PassStats, error) {
	stats := PassStats{Candidates: len(candidates)}

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if candidate.Score < threshold || candidate.A == candidate.B {
			stats.Skipped++
			continue
		}
		if s.isProcessed(candidate.A, candidate.B) {
			stats.Skipped++
			continue
		}

		s.evaluate(ctx, candidate, &stats)
	}

	return stats, nil
}

// evaluate decides one candidate pair end to end.
func (s *Service) evaluate(ctx context.Context, candidate Candidate, stats *PassStats) {
	typeA, okA := s.entityType(ctx, candidate.A)
	typeB, okB := s.entityType(ctx, candidate.B)
	if !okA || !okB {
		// One side is gone or unreadable; retire the pair so it stops
		// resurfacing against a deleted entity.
		s.markProcessed(candidate.A, candidate.B)
		stats.Rejected++
		return
	}

	// Entities of different declared types are never the same thing,
	// whatever the embeddings say.
	if typeA != "" && typeB != "" && typeA != typeB {
		s.logger.Debug("rejecting cross-type candidate",
			"a", candidate.A, "b", candidate.B,
			"type_a", typeA, "type_b", typeB)
		s.markProcessed(candidate.A, candidate.B)
		stats.Rejected++
		return
	}

	confirmed := s.cfg.AutoMerge || s.confirmMerge(ctx, candidate)
	if !confirmed {
		s.markProcessed(candidate.A, candidate.B)
		stats.Rejected++
		return
	}

	// Keep the lower ID of the pair so the surviving entity does not
	// depend on the order the candidate was reported in.
	kept, merged := candidate.A, candidate.B
	if merged < kept {
		kept, merged = merged, kept
	}

	if err := s.Merge(ctx, kept, merged); err != nil {
		// The merge rolled back; the batch continues. The pair is still
		// retired so one broken pair cannot wedge every future pass.
		s.logger.Error("merge failed",
			"kept", kept, "merged", merged, "error", err)
		s.markProcessed(candidate.A, candidate.B)
		stats.Failed++
		return
	}

	s.markProcessed(candidate.A, candidate.B)
	stats.Merged++
}

// entityType looks up an entity's declared type. ok is false when the
// entity cannot be read.
func (s *Service) entityType(ctx context.Context, id types.ID) (string, bool) {
	entityType, err := s.store.EntityType(ctx, id)
	if err != nil {
		s.logger.Warn("entity type lookup failed", "id", id, "error", err)
		return "", false
	}
	return entityType, true
}

// confirmMerge asks the completion pipeline for a YES/NO verdict on the
// pair. Any answer containing "YES" confirms; everything else, including
// pipeline errors, rejects. Fail-closed: an unavailable model must never
// cause a merge.
func (s *Service) confirmMerge(ctx context.Context, candidate Candidate) bool {
	prompt := fmt.Sprintf(
		"Two knowledge graph entities have a similarity score of %.3f.\n"+
			"Entity 1 ID: %s\nEntity 2 ID: %s\n"+
			"Do these identifiers refer to the same real-world entity? "+
			"Answer with a single word: YES or NO.",
		candidate.Score, candidate.A, candidate.B)

	opts := []llm.CompletionOption{llm.WithMaxTokens(8)}
	if s.cfg.Model != "" {
		opts = append(opts, llm.WithModel(s.cfg.Model))
	}

	resp, err := s.pipeline.Complete(ctx, prompt, opts...)
	if err != nil {
		s.logger.Warn("merge confirmation failed, rejecting pair",
			"a", candidate.A, "b", candidate.B, "error", err)
		return false
	}

	answer := strings.ToUpper(llm.ExtractContent(resp))
	return strings.Contains(answer, "YES")
}

// Merge folds mergedID into keptID inside one store transaction: every
// relationship endpoint pointing at mergedID is rewritten to keptID, the
// merged entity is deleted, and the kept entity is touched. On commit the
// outcome is published on TopicEntityMerged; on any failure the
// transaction is rolled back and the error returned.
func (s *Service) Merge(ctx context.Context, keptID, mergedID types.ID) error {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return types.WrapError(types.DEDUP_MERGE_FAILED, "failed to begin merge transaction", err)
	}

	rewritten, err := tx.UpdateRelationshipEndpoints(ctx, mergedID, keptID)
	if err != nil {
		s.rollback(tx, keptID, mergedID)
		return types.WrapError(types.DEDUP_MERGE_FAILED, "failed to rewrite relationships", err)
	}

	if err := tx.DeleteEntity(ctx, mergedID); err != nil {
		s.rollback(tx, keptID, mergedID)
		return types.WrapError(types.DEDUP_MERGE_FAILED, "failed to delete merged entity", err)
	}

	if err := tx.TouchEntity(ctx, keptID); err != nil {
		s.rollback(tx, keptID, mergedID)
		return types.WrapError(types.DEDUP_MERGE_FAILED, "failed to touch kept entity", err)
	}

	if err := tx.Commit(); err != nil {
		s.rollback(tx, keptID, mergedID)
		return types.WrapError(types.DEDUP_MERGE_FAILED, "failed to commit merge", err)
	}

	s.logger.Info("entities merged",
		"kept", keptID, "merged", mergedID, "relationships_rewritten", rewritten)

	s.publish(ctx, events.TopicEntityMerged, events.MergeOutcomePayload(keptID, mergedID))
	return nil
}

// rollback aborts a merge transaction. A rollback failure is logged but
// never escalated; the original failure is what matters.
func (s *Service) rollback(tx Tx, keptID, mergedID types.ID) {
	if err := tx.Rollback(); err != nil {
		s.logger.Error("merge rollback failed",
			"kept", keptID, "merged", mergedID, "error", err)
	}
}

// publish fires an event when a bus is wired. A closed or missing bus is
// not an error; deduplication results stand on their own.
func (s *Service) publish(ctx context.Context, topic events.Topic, payload events.Payload) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		s.logger.Warn("event publish failed", "topic", topic, "error", err)
	}
}
