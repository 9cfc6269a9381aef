package notes

import (
	"context"

	"github.com/dkocetkov/notesync/internal/client/models"
)

// Repository is the local store: a durable table of notes plus their sync
// metadata. Implementations are backed by a local SQLite database and must
// support atomic read-modify-write per note id (use WithTx for multi-step
// updates).
type Repository interface {
	// Upsert inserts a new note or replaces an existing one by ID,
	// including its sync metadata columns.
	Upsert(ctx context.Context, note *models.Note) error

	// GetByID returns a note by its identifier, tombstones included.
	// Returns common.ErrNotFound if no row exists.
	GetByID(ctx context.Context, id string) (*models.Note, error)

	// List returns all non-deleted notes.
	List(ctx context.Context) ([]models.Note, error)

	// GetDirty returns notes with local changes not yet acknowledged by the
	// server, tombstones included.
	GetDirty(ctx context.Context) ([]*models.Note, error)

	// MarkClean clears the dirty flag and records the reconciliation
	// timestamp after the server acknowledged the note's current state.
	MarkClean(ctx context.Context, id string, lastSyncedAt int64) error

	// SoftDelete tombstones a note: deleted=1, dirty=1, updated_at bumped.
	SoftDelete(ctx context.Context, id string, updatedAt int64) error

	// PurgeTombstones hard-deletes acknowledged tombstones older than the
	// given timestamp and returns the number of rows removed. Dirty
	// tombstones are never purged so a retried delete stays idempotent.
	PurgeTombstones(ctx context.Context, olderThan int64) (int64, error)
}
