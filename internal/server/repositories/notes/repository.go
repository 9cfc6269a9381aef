package notes

import (
	"context"

	"github.com/dkocetkov/notesync/internal/server/models"
)

type Repository interface {
	// Upsert inserts or replaces a note by ID.
	Upsert(ctx context.Context, n *models.Note) error

	// GetByID returns a note, or common.ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.Note, error)

	// SelectUpdated returns up to limit notes with updated_at > minTimestamp
	// in ascending updated_at order.
	SelectUpdated(ctx context.Context, minTimestamp int64, limit int) ([]*models.Note, error)
}
