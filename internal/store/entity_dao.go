package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/unknown-philosopher/kgraph/internal/types"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// EntityDAO provides database access for knowledge-graph entities.
type EntityDAO struct {
	db *DB
}

// NewEntityDAO creates a new EntityDAO instance.
func NewEntityDAO(db *DB) *EntityDAO {
	return &EntityDAO{db: db}
}

// Create inserts a new entity into the database.
func (dao *EntityDAO) Create(ctx context.Context, entity *types.Entity) error {
	if err := entity.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if entity.UpdatedAt.IsZero() {
		entity.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO entities (id, name, type, summary, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := dao.db.conn.ExecContext(ctx, query,
		entity.ID.String(),
		entity.Name,
		entity.Type,
		entity.Summary,
		entity.UpdatedAt,
	)
	if err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, "failed to insert entity", err)
	}

	return nil
}

// Get retrieves an entity by ID.
func (dao *EntityDAO) Get(ctx context.Context, id types.ID) (*types.Entity, error) {
	query := `SELECT id, name, type, summary, updated_at FROM entities WHERE id = ?`
	row := dao.db.conn.QueryRowContext(ctx, query, id.String())
	return scanEntity(row)
}

// GetByName retrieves an entity by exact name, or ErrNotFound.
func (dao *EntityDAO) GetByName(ctx context.Context, name string) (*types.Entity, error) {
	query := `SELECT id, name, type, summary, updated_at FROM entities WHERE name = ? LIMIT 1`
	row := dao.db.conn.QueryRowContext(ctx, query, name)
	return scanEntity(row)
}

// List returns all entities ordered by name.
func (dao *EntityDAO) List(ctx context.Context) ([]*types.Entity, error) {
	query := `SELECT id, name, type, summary, updated_at FROM entities ORDER BY name`

	rows, err := dao.db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED, "failed to list entities", err)
	}
	defer rows.Close()

	var entities []*types.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED, "row iteration failed", err)
	}

	return entities, nil
}

// Update rewrites an entity's mutable fields and bumps updated_at.
func (dao *EntityDAO) Update(ctx context.Context, entity *types.Entity) error {
	if err := entity.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	entity.UpdatedAt = time.Now().UTC()

	query := `UPDATE entities SET name = ?, type = ?, summary = ?, updated_at = ? WHERE id = ?`
	result, err := dao.db.conn.ExecContext(ctx, query,
		entity.Name, entity.Type, entity.Summary, entity.UpdatedAt, entity.ID.String())
	if err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, "failed to update entity", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, "failed to check update result", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete removes an entity. Relationships referencing it are removed by
// the schema's cascade rule.
func (dao *EntityDAO) Delete(ctx context.Context, id types.ID) error {
	result, err := dao.db.conn.ExecContext(ctx, "DELETE FROM entities WHERE id = ?", id.String())
	if err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, "failed to delete entity", err)
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

// Count returns the number of entities.
func (dao *EntityDAO) Count(ctx context.Context) (int, error) {
	var count int
	err := dao.db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM entities").Scan(&count)
	if err != nil {
		return 0, types.WrapError(types.DB_QUERY_FAILED, "failed to count entities", err)
	}
	return count, nil
}

// EntityType returns the stored type of an entity, "" when the entity has
// no type, or ErrNotFound.
func (dao *EntityDAO) EntityType(ctx context.Context, id types.ID) (string, error) {
	var entityType string
	err := dao.db.conn.QueryRowContext(ctx,
		"SELECT type FROM entities WHERE id = ?", id.String()).Scan(&entityType)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", types.WrapError(types.DB_QUERY_FAILED, "failed to read entity type", err)
	}
	return entityType, nil
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner) (*types.Entity, error) {
	var (
		entity types.Entity
		rawID  string
	)

	err := row.Scan(&rawID, &entity.Name, &entity.Type, &entity.Summary, &entity.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED, "failed to scan entity", err)
	}

	entity.ID = types.ID(rawID)
	return &entity, nil
}
