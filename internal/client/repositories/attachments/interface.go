package attachments

import (
	"context"

	"github.com/dkocetkov/notesync/internal/client/models"
)

// Repository stores attachment records and their upload state.
type Repository interface {
	// Upsert inserts or replaces an attachment record by ID.
	Upsert(ctx context.Context, a *models.Attachment) error

	// GetByID returns an attachment, or common.ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.Attachment, error)

	// GetByNoteID returns all attachments owned by a note.
	GetByNoteID(ctx context.Context, noteID string) ([]*models.Attachment, error)

	// SetStatus transitions the upload status. remoteRef is recorded only
	// for transitions to UploadStatusUploaded.
	SetStatus(ctx context.Context, id string, status models.UploadStatus, remoteRef string) error

	// IncrementRetry bumps the upload retry counter and returns the new value.
	IncrementRetry(ctx context.Context, id string) (int, error)
}
