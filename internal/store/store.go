package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/unknown-philosopher/kgraph/internal/types"
)

// Store is the facade over the knowledge-graph database, combining the DAOs
// with the transactional operations the deduplication service requires.
type Store struct {
	db            *DB
	Entities      *EntityDAO
	Relationships *RelationshipDAO
}

// New creates a Store over an opened database.
func New(db *DB) *Store {
	return &Store{
		db:            db,
		Entities:      NewEntityDAO(db),
		Relationships: NewRelationshipDAO(db),
	}
}

// EntityType returns the stored type of an entity, "" when untyped.
func (s *Store) EntityType(ctx context.Context, id types.ID) (string, error) {
	return s.Entities.EntityType(ctx, id)
}

// BeginTx starts a graph mutation transaction.
func (s *Store) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, types.WrapError(types.DB_TX_FAILED, "failed to begin transaction", err)
	}
	return &Tx{tx: tx}, nil
}

// Tx is a graph mutation transaction. It exposes the primitive operations a
// merge is built from; nothing is visible to other connections until Commit.
type Tx struct {
	tx *sql.Tx
}

// UpdateRelationshipEndpoints rewrites every relationship endpoint equal to
// from so it points at to, and returns the number of rewritten rows.
// Relationships that would become self-loops after the rewrite are deleted
// instead.
func (t *Tx) UpdateRelationshipEndpoints(ctx context.Context, from, to types.ID) (int64, error) {
	// Edges directly between the two entities collapse to self-loops once
	// rewritten; drop them first.
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM relationships
		 WHERE (source = ? AND target = ?) OR (source = ? AND target = ?)`,
		from.String(), to.String(), to.String(), from.String())
	if err != nil {
		return 0, types.WrapError(types.DB_QUERY_FAILED, "failed to drop collapsing relationships", err)
	}

	var rewritten int64

	res, err := t.tx.ExecContext(ctx,
		"UPDATE relationships SET source = ? WHERE source = ?", to.String(), from.String())
	if err != nil {
		return 0, types.WrapError(types.DB_QUERY_FAILED, "failed to rewrite relationship sources", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		rewritten += n
	}

	res, err = t.tx.ExecContext(ctx,
		"UPDATE relationships SET target = ? WHERE target = ?", to.String(), from.String())
	if err != nil {
		return 0, types.WrapError(types.DB_QUERY_FAILED, "failed to rewrite relationship targets", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		rewritten += n
	}

	return rewritten, nil
}

// DeleteEntity removes an entity inside the transaction.
func (t *Tx) DeleteEntity(ctx context.Context, id types.ID) error {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM entities WHERE id = ?", id.String())
	if err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, "failed to delete entity", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchEntity bumps an entity's updated_at inside the transaction.
func (t *Tx) TouchEntity(ctx context.Context, id types.ID) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE entities SET updated_at = ? WHERE id = ?", time.Now().UTC(), id.String())
	if err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, "failed to touch entity", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return types.WrapError(types.DB_TX_FAILED, "failed to commit transaction", err)
	}
	return nil
}

// Rollback aborts the transaction. Safe to call after Commit; the redundant
// rollback error is discarded.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return types.WrapError(types.DB_TX_FAILED, "rollback failed", err)
	}
	return nil
}
