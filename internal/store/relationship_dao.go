package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/unknown-philosopher/kgraph/internal/types"
)

// RelationshipDAO provides database access for knowledge-graph relationships.
type RelationshipDAO struct {
	db *DB
}

// NewRelationshipDAO creates a new RelationshipDAO instance.
func NewRelationshipDAO(db *DB) *RelationshipDAO {
	return &RelationshipDAO{db: db}
}

// Create inserts a new relationship into the database. Both endpoints must
// already exist.
func (dao *RelationshipDAO) Create(ctx context.Context, rel *types.Relationship) error {
	if err := rel.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO relationships (id, source, target, kind, weight)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := dao.db.conn.ExecContext(ctx, query,
		rel.ID.String(),
		rel.Source.String(),
		rel.Target.String(),
		rel.Kind,
		rel.Weight,
	)
	if err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, "failed to insert relationship", err)
	}

	return nil
}

// Get retrieves a relationship by ID.
func (dao *RelationshipDAO) Get(ctx context.Context, id types.ID) (*types.Relationship, error) {
	query := `SELECT id, source, target, kind, weight FROM relationships WHERE id = ?`
	row := dao.db.conn.QueryRowContext(ctx, query, id.String())
	return scanRelationship(row)
}

// ListForEntity returns all relationships where the entity is either endpoint.
func (dao *RelationshipDAO) ListForEntity(ctx context.Context, id types.ID) ([]*types.Relationship, error) {
	query := `
		SELECT id, source, target, kind, weight
		FROM relationships
		WHERE source = ? OR target = ?
		ORDER BY kind, id
	`

	rows, err := dao.db.conn.QueryContext(ctx, query, id.String(), id.String())
	if err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED, "failed to list relationships", err)
	}
	defer rows.Close()

	var rels []*types.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED, "row iteration failed", err)
	}

	return rels, nil
}

// Delete removes a relationship by ID.
func (dao *RelationshipDAO) Delete(ctx context.Context, id types.ID) error {
	result, err := dao.db.conn.ExecContext(ctx, "DELETE FROM relationships WHERE id = ?", id.String())
	if err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, "failed to delete relationship", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, "failed to check delete result", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// Count returns the number of relationships.
func (dao *RelationshipDAO) Count(ctx context.Context) (int, error) {
	var count int
	err := dao.db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM relationships").Scan(&count)
	if err != nil {
		return 0, types.WrapError(types.DB_QUERY_FAILED, "failed to count relationships", err)
	}
	return count, nil
}

func scanRelationship(row scanner) (*types.Relationship, error) {
	var (
		rel            types.Relationship
		rawID          string
		rawSrc, rawTgt string
	)

	err := row.Scan(&rawID, &rawSrc, &rawTgt, &rel.Kind, &rel.Weight)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED, "failed to scan relationship", err)
	}

	rel.ID = types.ID(rawID)
	rel.Source = types.ID(rawSrc)
	rel.Target = types.ID(rawTgt)
	return &rel, nil
}
