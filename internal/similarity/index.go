package similarity

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/unknown-philosopher/kgraph/internal/dedup"
	"github.com/unknown-philosopher/kgraph/internal/types"
)

func init() {
	sqlite_vec.Auto()
}

// DefaultNeighbors is how many nearest neighbors are examined per entity
// when mining duplicate candidates.
const DefaultNeighbors = 5

// ErrDimensionMismatch is returned when a vector does not match the index
// dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Match is a single nearest-neighbor hit.
type Match struct {
	ID    types.ID
	Score float64
}

// Index is a cosine-similarity index over entity embeddings, backed by a
// sqlite-vec vec0 virtual table. Entity UUIDs are mapped to integer rowids
// through a side table because vec0 keys are rowid-based.
type Index struct {
	db        *sql.DB
	dim       int
	neighbors int
}

// Option configures an Index.
type Option func(*Index)

// WithNeighbors sets how many nearest neighbors are examined per entity
// during candidate mining.
func WithNeighbors(k int) Option {
	return func(idx *Index) {
		if k > 0 {
			idx.neighbors = k
		}
	}
}

// NewIndex creates the vec0 virtual table and id mapping table if needed.
// dim is the embedding dimensionality; vectors of any other length are
// rejected.
func NewIndex(db *sql.DB, dim int, opts ...Option) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}

	idx := &Index{
		db:        db,
		dim:       dim,
		neighbors: DefaultNeighbors,
	}
	for _, opt := range opts {
		opt(idx)
	}

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS vec_entity_map (
			rowid     INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_id TEXT NOT NULL UNIQUE
		)`,
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_entities USING vec0(
			entity_rowid INTEGER PRIMARY KEY,
			embedding    float[%d] distance_metric=cosine
		)`, dim),
	}
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			return nil, types.WrapError(types.DB_SCHEMA_FAILED, "failed to create similarity index tables", err)
		}
	}

	return idx, nil
}

// Dimension returns the index's embedding dimensionality.
func (idx *Index) Dimension() int {
	return idx.dim
}

// Upsert inserts or replaces the embedding for an entity.
func (idx *Index) Upsert(ctx context.Context, id types.ID, embedding []float32) error {
	if len(embedding) != idx.dim {
		return fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, idx.dim, len(embedding))
	}

	rowid, err := idx.rowidFor(ctx, id, true)
	if err != nil {
		return err
	}

	// vec0 rejects INSERT OR REPLACE on some versions; delete-then-insert
	// is the portable upsert.
	if _, err := idx.db.ExecContext(ctx,
		"DELETE FROM vec_entities WHERE entity_rowid = ?", rowid); err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, "failed to clear old embedding", err)
	}
	if _, err := idx.db.ExecContext(ctx,
		"INSERT INTO vec_entities (entity_rowid, embedding) VALUES (?, ?)",
		rowid, serializeFloat32(embedding)); err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, "failed to insert embedding", err)
	}

	return nil
}

// Remove drops an entity's embedding from the index. Unknown IDs are a no-op.
func (idx *Index) Remove(ctx context.Context, id types.ID) error {
	rowid, err := idx.rowidFor(ctx, id, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := idx.db.ExecContext(ctx,
		"DELETE FROM vec_entities WHERE entity_rowid = ?", rowid); err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, "failed to remove embedding", err)
	}
	if _, err := idx.db.ExecContext(ctx,
		"DELETE FROM vec_entity_map WHERE rowid = ?", rowid); err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, "failed to remove id mapping", err)
	}

	return nil
}

// Count returns the number of indexed embeddings.
func (idx *Index) Count(ctx context.Context) (int, error) {
	var count int
	err := idx.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vec_entities").Scan(&count)
	if err != nil {
		return 0, types.WrapError(types.DB_QUERY_FAILED, "failed to count embeddings", err)
	}
	return count, nil
}

// Nearest returns the k most similar indexed entities to the query vector,
// best first. Scores are cosine similarity in [0, 1].
func (idx *Index) Nearest(ctx context.Context, query []float32, k int) ([]Match, error) {
	if len(query) != idx.dim {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, idx.dim, len(query))
	}

	rows, err := idx.db.QueryContext(ctx, `
		SELECT m.entity_id, v.distance
		FROM vec_entities v
		JOIN vec_entity_map m ON m.rowid = v.entity_rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(query), k)
	if err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED, "vector search failed", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			rawID    string
			distance float64
		)
		if err := rows.Scan(&rawID, &distance); err != nil {
			return nil, types.WrapError(types.DB_QUERY_FAILED, "failed to scan match", err)
		}
		matches = append(matches, Match{
			ID:    types.ID(rawID),
			Score: 1.0 - distance,
		})
	}
	return matches, rows.Err()
}

// FindDuplicateCandidates mines the index for entity pairs whose cosine
// similarity is at or above threshold. Each indexed entity is probed
// against its nearest neighbors; pairs are deduplicated and order
// normalized before they are returned.
func (idx *Index) FindDuplicateCandidates(ctx context.Context, threshold float64) ([]dedup.Candidate, error) {
	rows, err := idx.db.QueryContext(ctx, `
		SELECT m.rowid, m.entity_id, v.embedding
		FROM vec_entities v
		JOIN vec_entity_map m ON m.rowid = v.entity_rowid
	`)
	if err != nil {
		return nil, types.WrapError(types.DEDUP_SEARCH_FAILED, "failed to enumerate embeddings", err)
	}

	type indexed struct {
		id  types.ID
		vec []byte
	}
	var all []indexed
	for rows.Next() {
		var (
			rowid int64
			rawID string
			vec   []byte
		)
		if err := rows.Scan(&rowid, &rawID, &vec); err != nil {
			rows.Close()
			return nil, types.WrapError(types.DEDUP_SEARCH_FAILED, "failed to scan embedding", err)
		}
		all = append(all, indexed{id: types.ID(rawID), vec: vec})
	}
	if err := rows.Close(); err != nil {
		return nil, types.WrapError(types.DEDUP_SEARCH_FAILED, "embedding enumeration failed", err)
	}

	seen := make(map[[2]types.ID]struct{})
	var candidates []dedup.Candidate

	for _, entity := range all {
		neighbors, err := idx.nearestRaw(ctx, entity.vec, idx.neighbors+1)
		if err != nil {
			return nil, err
		}

		for _, match := range neighbors {
			if match.ID == entity.id || match.Score < threshold {
				continue
			}

			a, b := entity.id, match.ID
			if b < a {
				a, b = b, a
			}
			key := [2]types.ID{a, b}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			candidates = append(candidates, dedup.Candidate{A: a, B: b, Score: match.Score})
		}
	}

	return candidates, nil
}

// nearestRaw is Nearest over an already-serialized vector.
func (idx *Index) nearestRaw(ctx context.Context, query []byte, k int) ([]Match, error) {
	rows, err := idx.db.QueryContext(ctx, `
		SELECT m.entity_id, v.distance
		FROM vec_entities v
		JOIN vec_entity_map m ON m.rowid = v.entity_rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, query, k)
	if err != nil {
		return nil, types.WrapError(types.DEDUP_SEARCH_FAILED, "vector search failed", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			rawID    string
			distance float64
		)
		if err := rows.Scan(&rawID, &distance); err != nil {
			return nil, types.WrapError(types.DEDUP_SEARCH_FAILED, "failed to scan match", err)
		}
		matches = append(matches, Match{ID: types.ID(rawID), Score: 1.0 - distance})
	}
	return matches, rows.Err()
}

// rowidFor maps an entity ID to its integer rowid, creating the mapping
// when create is set. Returns sql.ErrNoRows for unknown IDs otherwise.
func (idx *Index) rowidFor(ctx context.Context, id types.ID, create bool) (int64, error) {
	if create {
		if _, err := idx.db.ExecContext(ctx,
			"INSERT OR IGNORE INTO vec_entity_map (entity_id) VALUES (?)", id.String()); err != nil {
			return 0, types.WrapError(types.DB_QUERY_FAILED, "failed to map entity id", err)
		}
	}

	var rowid int64
	err := idx.db.QueryRowContext(ctx,
		"SELECT rowid FROM vec_entity_map WHERE entity_id = ?", id.String()).Scan(&rowid)
	if err == sql.ErrNoRows {
		return 0, err
	}
	if err != nil {
		return 0, types.WrapError(types.DB_QUERY_FAILED, "failed to resolve entity rowid", err)
	}
	return rowid, nil
}

var _ dedup.Searcher = (*Index)(nil)

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
