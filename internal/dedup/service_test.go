package dedup_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unknown-philosopher/kgraph/internal/dedup"
	"github.com/unknown-philosopher/kgraph/internal/events"
	"github.com/unknown-philosopher/kgraph/internal/llm"
	"github.com/unknown-philosopher/kgraph/internal/llm/providers"
	"github.com/unknown-philosopher/kgraph/internal/ratelimit"
	"github.com/unknown-philosopher/kgraph/internal/types"
)

// fakeSearcher returns a scripted candidate list.
type fakeSearcher struct {
	candidates []dedup.Candidate
	err        error
	calls      int
}

func (f *fakeSearcher) FindDuplicateCandidates(ctx context.Context, threshold float64) ([]dedup.Candidate, error) {
	f.calls++
	return f.candidates, f.err
}

// mergeOp records one transactional step for assertions.
type mergeOp struct {
	op       string
	from, to types.ID
}

// fakeTx implements dedup.Tx with scriptable failures.
type fakeTx struct {
	store      *fakeStore
	ops        []mergeOp
	failOn     string
	committed  bool
	rolledBack bool
}

func (t *fakeTx) UpdateRelationshipEndpoints(ctx context.Context, from, to types.ID) (int64, error) {
	if t.failOn == "rewrite" {
		return 0, errors.New("rewrite failed")
	}
	t.ops = append(t.ops, mergeOp{op: "rewrite", from: from, to: to})
	return 2, nil
}

func (t *fakeTx) DeleteEntity(ctx context.Context, id types.ID) error {
	if t.failOn == "delete" {
		return errors.New("delete failed")
	}
	t.ops = append(t.ops, mergeOp{op: "delete", from: id})
	return nil
}

func (t *fakeTx) TouchEntity(ctx context.Context, id types.ID) error {
	if t.failOn == "touch" {
		return errors.New("touch failed")
	}
	t.ops = append(t.ops, mergeOp{op: "touch", from: id})
	return nil
}

func (t *fakeTx) Commit() error {
	if t.failOn == "commit" {
		return errors.New("commit failed")
	}
	t.committed = true
	t.store.applyCommit(t)
	return nil
}

func (t *fakeTx) Rollback() error {
	t.rolledBack = true
	return nil
}

// fakeStore implements dedup.EntityStore over an in-memory type map.
type fakeStore struct {
	mu       sync.Mutex
	entities map[types.ID]string // id -> declared type
	failOn   string
	txs      []*fakeTx
}

func newFakeStore() *fakeStore {
	return &fakeStore{entities: make(map[types.ID]string)}
}

func (s *fakeStore) add(entityType string) types.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := types.NewID()
	s.entities[id] = entityType
	return id
}

func (s *fakeStore) put(id types.ID, entityType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[id] = entityType
}

func (s *fakeStore) EntityType(ctx context.Context, id types.ID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entityType, ok := s.entities[id]
	if !ok {
		return "", errors.New("not found")
	}
	return entityType, nil
}

func (s *fakeStore) BeginTx(ctx context.Context) (dedup.Tx, error) {
	if s.failOn == "begin" {
		return nil, errors.New("begin failed")
	}
	tx := &fakeTx{store: s, failOn: s.failOn}
	s.mu.Lock()
	s.txs = append(s.txs, tx)
	s.mu.Unlock()
	return tx, nil
}

func (s *fakeStore) applyCommit(tx *fakeTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range tx.ops {
		if op.op == "delete" {
			delete(s.entities, op.from)
		}
	}
}

func (s *fakeStore) has(id types.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entities[id]
	return ok
}

func testPipeline(responses ...providers.MockResponse) (*llm.Pipeline, *providers.MockProvider) {
	provider := providers.NewMockProvider(responses...)
	limiter := ratelimit.NewLimiter(
		ratelimit.WithMinDelay(0),
		ratelimit.WithInitialRetryDelay(time.Millisecond),
	)
	return llm.NewPipeline(provider, limiter), provider
}

func candidate(a, b types.ID, score float64) dedup.Candidate {
	return dedup.Candidate{A: a, B: b, Score: score}
}

func mustID(t *testing.T, s string) types.ID {
	t.Helper()
	id, err := types.ParseID(s)
	require.NoError(t, err)
	return id
}

func TestOnSimilarityBatch_MergesConfirmedPair(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	a := mustID(t, "11111111-1111-4111-8111-111111111111")
	b := mustID(t, "22222222-2222-4222-8222-222222222222")
	store.put(a, "person")
	store.put(b, "person")

	pipeline, provider := testPipeline(providers.MockResponse{Content: "YES"})
	svc := dedup.NewService(nil, store, nil, pipeline, dedup.Config{Threshold: 0.8})

	stats, err := svc.OnSimilarityBatch(ctx, []dedup.Candidate{candidate(a, b, 0.95)}, 0.8)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Merged)
	assert.Zero(t, stats.Rejected)
	assert.Equal(t, 1, provider.CallCount())

	// The lower ID is kept, the higher merged away.
	assert.True(t, store.has(a))
	assert.False(t, store.has(b))

	require.Len(t, store.txs, 1)
	tx := store.txs[0]
	assert.True(t, tx.committed)
	require.Len(t, tx.ops, 3)
	assert.Equal(t, mergeOp{op: "rewrite", from: b, to: a}, tx.ops[0])
	assert.Equal(t, "delete", tx.ops[1].op)
	assert.Equal(t, b, tx.ops[1].from)
	assert.Equal(t, "touch", tx.ops[2].op)
	assert.Equal(t, a, tx.ops[2].from)
}

func TestOnSimilarityBatch_KeptEntityIndependentOfCandidateOrder(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	lower := mustID(t, "11111111-1111-4111-8111-111111111111")
	higher := mustID(t, "22222222-2222-4222-8222-222222222222")
	store.put(lower, "person")
	store.put(higher, "person")

	pipeline, _ := testPipeline(providers.MockResponse{Content: "YES"})
	svc := dedup.NewService(nil, store, nil, pipeline, dedup.Config{Threshold: 0.8})

	// The candidate reports the pair higher-first; the merge outcome must
	// not change with the reporting order.
	stats, err := svc.OnSimilarityBatch(ctx, []dedup.Candidate{candidate(higher, lower, 0.95)}, 0.8)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Merged)

	assert.True(t, store.has(lower))
	assert.False(t, store.has(higher))

	require.Len(t, store.txs, 1)
	require.NotEmpty(t, store.txs[0].ops)
	assert.Equal(t, mergeOp{op: "rewrite", from: higher, to: lower}, store.txs[0].ops[0])
}

func TestOnSimilarityBatch_RejectsOnNo(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	a := store.add("")
	b := store.add("")

	pipeline, _ := testPipeline(providers.MockResponse{Content: "NO"})
	svc := dedup.NewService(nil, store, nil, pipeline, dedup.Config{Threshold: 0.8})

	stats, err := svc.OnSimilarityBatch(ctx, []dedup.Candidate{candidate(a, b, 0.9)}, 0.8)
	require.NoError(t, err)

	assert.Zero(t, stats.Merged)
	assert.Equal(t, 1, stats.Rejected)
	assert.True(t, store.has(a))
	assert.True(t, store.has(b))
	assert.Empty(t, store.txs, "no transaction for a rejected pair")
}

func TestOnSimilarityBatch_ConfirmationMatchesAnywhereInAnswer(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	a := store.add("")
	b := store.add("")

	pipeline, _ := testPipeline(providers.MockResponse{Content: "I believe the answer is yes."})
	svc := dedup.NewService(nil, store, nil, pipeline, dedup.Config{Threshold: 0.8})

	stats, err := svc.OnSimilarityBatch(ctx, []dedup.Candidate{candidate(a, b, 0.9)}, 0.8)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Merged, "case-insensitive YES anywhere in the answer confirms")
}

func TestOnSimilarityBatch_PipelineErrorFailsClosed(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	a := store.add("")
	b := store.add("")

	pipeline, _ := testPipeline(providers.MockResponse{Err: llm.NewAuthError("mock", nil)})
	svc := dedup.NewService(nil, store, nil, pipeline, dedup.Config{Threshold: 0.8})

	stats, err := svc.OnSimilarityBatch(ctx, []dedup.Candidate{candidate(a, b, 0.9)}, 0.8)
	require.NoError(t, err)

	assert.Zero(t, stats.Merged, "an unavailable model must never cause a merge")
	assert.Equal(t, 1, stats.Rejected)
	assert.True(t, store.has(b))
}

func TestOnSimilarityBatch_SkipsBelowThresholdAndSelfPairs(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	a := store.add("")
	b := store.add("")

	pipeline, provider := testPipeline(providers.MockResponse{Content: "YES"})
	svc := dedup.NewService(nil, store, nil, pipeline, dedup.Config{Threshold: 0.8})

	stats, err := svc.OnSimilarityBatch(ctx, []dedup.Candidate{
		candidate(a, b, 0.5), // below threshold
		candidate(a, a, 0.99),
	}, 0.8)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Skipped)
	assert.Zero(t, stats.Merged)
	assert.Zero(t, provider.CallCount(), "skipped pairs never reach the model")
	assert.Zero(t, svc.ProcessedCount(), "skips are not terminal decisions")
}

func TestOnSimilarityBatch_ProcessedPairNeverReevaluated(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	a := store.add("")
	b := store.add("")

	pipeline, provider := testPipeline(providers.MockResponse{Content: "NO"})
	svc := dedup.NewService(nil, store, nil, pipeline, dedup.Config{Threshold: 0.8})

	batch := []dedup.Candidate{candidate(a, b, 0.9)}
	_, err := svc.OnSimilarityBatch(ctx, batch, 0.8)
	require.NoError(t, err)
	require.Equal(t, 1, provider.CallCount())

	// Same pair again, including in reversed order.
	stats, err := svc.OnSimilarityBatch(ctx, []dedup.Candidate{
		candidate(a, b, 0.9),
		candidate(b, a, 0.9),
	}, 0.8)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 1, provider.CallCount(), "decisions are absorbing; no second model call")
	assert.Equal(t, 1, svc.ProcessedCount())
}

func TestOnSimilarityBatch_TypeMismatchRetiredWithoutConfirmation(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	person := store.add("person")
	org := store.add("org")

	pipeline, provider := testPipeline(providers.MockResponse{Content: "YES"})
	svc := dedup.NewService(nil, store, nil, pipeline, dedup.Config{Threshold: 0.8})

	stats, err := svc.OnSimilarityBatch(ctx, []dedup.Candidate{candidate(person, org, 0.97)}, 0.8)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Rejected)
	assert.Zero(t, provider.CallCount(), "cross-type pairs never reach the model")
	assert.Equal(t, 1, svc.ProcessedCount(), "the pair is retired permanently")
}

func TestOnSimilarityBatch_UntypedEntitiesStillConfirmed(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	typed := store.add("person")
	untyped := store.add("")

	pipeline, provider := testPipeline(providers.MockResponse{Content: "YES"})
	svc := dedup.NewService(nil, store, nil, pipeline, dedup.Config{Threshold: 0.8})

	stats, err := svc.OnSimilarityBatch(ctx, []dedup.Candidate{candidate(typed, untyped, 0.9)}, 0.8)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Merged, "a missing type never blocks a merge")
	assert.Equal(t, 1, provider.CallCount())
}

func TestOnSimilarityBatch_AutoMergeSkipsConfirmation(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	a := store.add("")
	b := store.add("")

	pipeline, provider := testPipeline(providers.MockResponse{Content: "NO"})
	svc := dedup.NewService(nil, store, nil, pipeline, dedup.Config{Threshold: 0.8, AutoMerge: true})

	stats, err := svc.OnSimilarityBatch(ctx, []dedup.Candidate{candidate(a, b, 0.9)}, 0.8)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Merged)
	assert.Zero(t, provider.CallCount(), "auto-merge bypasses the model entirely")
}

func TestOnSimilarityBatch_MergeFailureRollsBackAndContinues(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.failOn = "delete"
	a := store.add("")
	b := store.add("")
	c := store.add("")
	d := store.add("")

	pipeline, _ := testPipeline(providers.MockResponse{Content: "YES"})
	svc := dedup.NewService(nil, store, nil, pipeline, dedup.Config{Threshold: 0.8})

	stats, err := svc.OnSimilarityBatch(ctx, []dedup.Candidate{
		candidate(a, b, 0.9),
		candidate(c, d, 0.9),
	}, 0.8)
	require.NoError(t, err, "a failed merge is not fatal to the batch")

	assert.Equal(t, 2, stats.Failed)
	assert.Zero(t, stats.Merged)
	for _, tx := range store.txs {
		assert.True(t, tx.rolledBack)
		assert.False(t, tx.committed)
	}
	// Nothing was deleted.
	assert.True(t, store.has(b))
	assert.True(t, store.has(d))
}

func TestOnSimilarityBatch_MissingEntityRetiresPair(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	a := store.add("")
	ghost := types.NewID() // never added

	pipeline, provider := testPipeline(providers.MockResponse{Content: "YES"})
	svc := dedup.NewService(nil, store, nil, pipeline, dedup.Config{Threshold: 0.8})

	stats, err := svc.OnSimilarityBatch(ctx, []dedup.Candidate{candidate(a, ghost, 0.9)}, 0.8)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Rejected)
	assert.Zero(t, provider.CallCount())
	assert.Equal(t, 1, svc.ProcessedCount())
}

func TestOnSimilarityBatch_ContextCancellation(t *testing.T) {
	store := newFakeStore()
	a := store.add("")
	b := store.add("")

	pipeline, _ := testPipeline(providers.MockResponse{Content: "YES"})
	svc := dedup.NewService(nil, store, nil, pipeline, dedup.Config{Threshold: 0.8})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.OnSimilarityBatch(ctx, []dedup.Candidate{candidate(a, b, 0.9)}, 0.8)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMerge_PublishesOutcomeEvent(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	kept := store.add("")
	merged := store.add("")

	bus := events.NewBus()
	defer bus.Close()

	var (
		mu       sync.Mutex
		gotKept  types.ID
		gotMerge types.ID
	)
	bus.Subscribe(events.TopicEntityMerged, func(ctx context.Context, p events.Payload) {
		k, m, ok := events.ParseMergeOutcome(p)
		if !ok {
			return
		}
		mu.Lock()
		gotKept, gotMerge = k, m
		mu.Unlock()
	})

	pipeline, _ := testPipeline()
	svc := dedup.NewService(nil, store, bus, pipeline, dedup.Config{Threshold: 0.8})

	require.NoError(t, svc.Merge(ctx, kept, merged))
	require.NoError(t, bus.Drain(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, kept, gotKept)
	assert.Equal(t, merged, gotMerge)
}

func TestMerge_NoEventOnFailure(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.failOn = "commit"
	kept := store.add("")
	merged := store.add("")

	bus := events.NewBus()
	defer bus.Close()

	fired := make(chan struct{}, 1)
	bus.Subscribe(events.TopicEntityMerged, func(ctx context.Context, p events.Payload) {
		fired <- struct{}{}
	})

	pipeline, _ := testPipeline()
	svc := dedup.NewService(nil, store, bus, pipeline, dedup.Config{Threshold: 0.8})

	err := svc.Merge(ctx, kept, merged)
	require.Error(t, err)

	var kerr *types.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, types.DEDUP_MERGE_FAILED, kerr.Code)

	require.NoError(t, bus.Drain(ctx))
	select {
	case <-fired:
		t.Fatal("no merge event should fire for a rolled-back merge")
	default:
	}
}

func TestRunPass(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	a := store.add("")
	b := store.add("")

	searcher := &fakeSearcher{candidates: []dedup.Candidate{candidate(a, b, 0.9)}}

	bus := events.NewBus()
	defer bus.Close()

	passDone := make(chan events.Payload, 1)
	bus.Subscribe(events.TopicDedupPassCompleted, func(ctx context.Context, p events.Payload) {
		passDone <- p
	})

	pipeline, _ := testPipeline(providers.MockResponse{Content: "YES"})
	svc := dedup.NewService(searcher, store, bus, pipeline, dedup.Config{Threshold: 0.8})

	stats, err := svc.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Candidates)
	assert.Equal(t, 1, stats.Merged)
	assert.Equal(t, 1, searcher.calls)

	require.NoError(t, bus.Drain(ctx))
	select {
	case payload := <-passDone:
		assert.Equal(t, 1, payload["merged"])
		assert.Equal(t, 1, payload["candidates"])
	default:
		t.Fatal("pass completion event not published")
	}
}

func TestRunPass_SearchFailure(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("index offline")}
	pipeline, _ := testPipeline()
	svc := dedup.NewService(searcher, newFakeStore(), nil, pipeline, dedup.Config{Threshold: 0.8})

	_, err := svc.RunPass(context.Background())
	require.Error(t, err)

	var kerr *types.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, types.DEDUP_SEARCH_FAILED, kerr.Code)
}

func TestRunPass_Serialized(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()

	var inFlight, peak int32
	var mu sync.Mutex
	searcher := &blockingSearcher{
		fn: func() {
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
		},
	}

	pipeline, _ := testPipeline()
	svc := dedup.NewService(searcher, store, nil, pipeline, dedup.Config{Threshold: 0.8})

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RunPass(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), peak, "passes must not overlap")
}

// blockingSearcher runs fn inside the search call to observe pass overlap.
type blockingSearcher struct {
	fn func()
}

func (b *blockingSearcher) FindDuplicateCandidates(ctx context.Context, threshold float64) ([]dedup.Candidate, error) {
	b.fn()
	return nil, nil
}
