package dedup

import (
	"context"

	"github.com/unknown-philosopher/kgraph/internal/types"
)

// Candidate is a pair of entities suspected to be duplicates, with the
// similarity score that raised the suspicion.
type Candidate struct {
	A     types.ID `json:"a"`
	B     types.ID `json:"b"`
	Score float64  `json:"score"`
}

// pairKey is the order-independent identity of a candidate pair.
type pairKey struct {
	lo, hi types.ID
}

// newPairKey normalizes the pair so (a,b) and (b,a) collide.
func newPairKey(a, b types.ID) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

// Searcher produces duplicate candidates from the similarity index.
type Searcher interface {
	FindDuplicateCandidates(ctx context.Context, threshold float64) ([]Candidate, error)
}

// Tx is one transactional merge attempt against the entity store.
type Tx interface {
	UpdateRelationshipEndpoints(ctx context.Context, from, to types.ID) (int64, error)
	DeleteEntity(ctx context.Context, id types.ID) error
	TouchEntity(ctx context.Context, id types.ID) error
	Commit() error
	Rollback() error
}

// EntityStore is the slice of the store the deduplication service needs.
type EntityStore interface {
	EntityType(ctx context.Context, id types.ID) (string, error)
	BeginTx(ctx context.Context) (Tx, error)
}
