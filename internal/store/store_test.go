package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unknown-philosopher/kgraph/internal/types"
)

// setupTestStore creates a migrated store over a temporary database file.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "failed to open database")
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(context.Background()), "failed to migrate")
	return New(db)
}

func newEntity(name, entityType string) *types.Entity {
	return &types.Entity{
		ID:      types.NewID(),
		Name:    name,
		Type:    entityType,
		Summary: name + " summary",
	}
}

func TestOpen(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	var journalMode string
	require.NoError(t, db.conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var foreignKeys int
	require.NoError(t, db.conn.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys)

	assert.NoError(t, db.Health(context.Background()))
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()

	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx))

	version, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestEntityCRUD(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	entity := newEntity("Ada Lovelace", "person")
	require.NoError(t, s.Entities.Create(ctx, entity))

	got, err := s.Entities.Get(ctx, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.Name, got.Name)
	assert.Equal(t, "person", got.Type)
	assert.False(t, got.UpdatedAt.IsZero())

	byName, err := s.Entities.GetByName(ctx, "Ada Lovelace")
	require.NoError(t, err)
	assert.Equal(t, entity.ID, byName.ID)

	got.Summary = "mathematician"
	require.NoError(t, s.Entities.Update(ctx, got))
	updated, err := s.Entities.Get(ctx, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, "mathematician", updated.Summary)

	count, err := s.Entities.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, s.Entities.Delete(ctx, entity.ID))
	_, err = s.Entities.Get(ctx, entity.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEntityNotFound(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	_, err := s.Entities.Get(ctx, types.NewID())
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Entities.Delete(ctx, types.NewID()), ErrNotFound)

	_, err = s.EntityType(ctx, types.NewID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEntityValidation(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	err := s.Entities.Create(ctx, &types.Entity{ID: types.NewID()})
	assert.ErrorContains(t, err, "name is required")

	err = s.Entities.Create(ctx, &types.Entity{Name: "no id"})
	assert.ErrorContains(t, err, "ID is required")
}

func TestEntityType(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	typed := newEntity("Rust", "language")
	untyped := newEntity("Mystery", "")
	require.NoError(t, s.Entities.Create(ctx, typed))
	require.NoError(t, s.Entities.Create(ctx, untyped))

	entityType, err := s.EntityType(ctx, typed.ID)
	require.NoError(t, err)
	assert.Equal(t, "language", entityType)

	entityType, err = s.EntityType(ctx, untyped.ID)
	require.NoError(t, err)
	assert.Empty(t, entityType)
}

func TestRelationshipCRUD(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	ada := newEntity("Ada", "person")
	engine := newEntity("Analytical Engine", "machine")
	require.NoError(t, s.Entities.Create(ctx, ada))
	require.NoError(t, s.Entities.Create(ctx, engine))

	rel := &types.Relationship{
		ID:     types.NewID(),
		Source: ada.ID,
		Target: engine.ID,
		Kind:   "programmed",
		Weight: 0.9,
	}
	require.NoError(t, s.Relationships.Create(ctx, rel))

	got, err := s.Relationships.Get(ctx, rel.ID)
	require.NoError(t, err)
	assert.Equal(t, ada.ID, got.Source)
	assert.Equal(t, engine.ID, got.Target)
	assert.InDelta(t, 0.9, got.Weight, 1e-9)

	forAda, err := s.Relationships.ListForEntity(ctx, ada.ID)
	require.NoError(t, err)
	assert.Len(t, forAda, 1)

	require.NoError(t, s.Relationships.Delete(ctx, rel.ID))
	_, err = s.Relationships.Get(ctx, rel.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRelationshipRejectsSelfLoop(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	id := types.NewID()
	err := s.Relationships.Create(ctx, &types.Relationship{
		ID:     types.NewID(),
		Source: id,
		Target: id,
		Kind:   "self",
	})
	assert.ErrorContains(t, err, "self-loop")
}

func TestRelationshipRequiresEndpoints(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	// Foreign keys reject edges whose endpoints do not exist.
	err := s.Relationships.Create(ctx, &types.Relationship{
		ID:     types.NewID(),
		Source: types.NewID(),
		Target: types.NewID(),
		Kind:   "knows",
	})
	assert.Error(t, err)
}

func TestDeleteEntityCascadesRelationships(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	a := newEntity("A", "")
	b := newEntity("B", "")
	require.NoError(t, s.Entities.Create(ctx, a))
	require.NoError(t, s.Entities.Create(ctx, b))
	require.NoError(t, s.Relationships.Create(ctx, &types.Relationship{
		ID: types.NewID(), Source: a.ID, Target: b.ID, Kind: "knows", Weight: 1,
	}))

	require.NoError(t, s.Entities.Delete(ctx, a.ID))

	count, err := s.Relationships.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "cascade should remove dangling relationships")
}

func TestMergeTransaction(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	kept := newEntity("Golang", "language")
	merged := newEntity("Go", "language")
	other := newEntity("Google", "org")
	require.NoError(t, s.Entities.Create(ctx, kept))
	require.NoError(t, s.Entities.Create(ctx, merged))
	require.NoError(t, s.Entities.Create(ctx, other))

	// other -> merged: should be rewritten to other -> kept
	require.NoError(t, s.Relationships.Create(ctx, &types.Relationship{
		ID: types.NewID(), Source: other.ID, Target: merged.ID, Kind: "created", Weight: 1,
	}))
	// merged -> kept: collapses to a self-loop and must be dropped
	require.NoError(t, s.Relationships.Create(ctx, &types.Relationship{
		ID: types.NewID(), Source: merged.ID, Target: kept.ID, Kind: "alias_of", Weight: 1,
	}))

	before, err := s.Entities.Get(ctx, kept.ID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond) // ensure updated_at strictly advances

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)

	rewritten, err := tx.UpdateRelationshipEndpoints(ctx, merged.ID, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rewritten)

	require.NoError(t, tx.DeleteEntity(ctx, merged.ID))
	require.NoError(t, tx.TouchEntity(ctx, kept.ID))
	require.NoError(t, tx.Commit())

	_, err = s.Entities.Get(ctx, merged.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	rels, err := s.Relationships.ListForEntity(ctx, kept.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, other.ID, rels[0].Source)
	assert.Equal(t, kept.ID, rels[0].Target)

	after, err := s.Entities.Get(ctx, kept.ID)
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt), "kept entity should be touched")
}

func TestMergeTransactionRollback(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	kept := newEntity("Keep", "")
	merged := newEntity("Merge", "")
	require.NoError(t, s.Entities.Create(ctx, kept))
	require.NoError(t, s.Entities.Create(ctx, merged))

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.DeleteEntity(ctx, merged.ID))
	require.NoError(t, tx.Rollback())

	// The delete never happened.
	_, err = s.Entities.Get(ctx, merged.ID)
	assert.NoError(t, err)

	// Rollback after commit is harmless.
	tx, err = s.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.TouchEntity(ctx, kept.ID))
	require.NoError(t, tx.Commit())
	assert.NoError(t, tx.Rollback())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	entity := newEntity("Ephemeral", "")
	sentinel := errors.New("boom")

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx,
			"INSERT INTO entities (id, name, type, summary, updated_at) VALUES (?, ?, '', '', ?)",
			entity.ID.String(), entity.Name, time.Now().UTC())
		require.NoError(t, execErr)
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	_, err = s.Entities.Get(ctx, entity.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
