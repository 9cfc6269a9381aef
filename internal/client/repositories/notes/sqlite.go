package notes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkocetkov/notesync/internal/client/models"
	"github.com/dkocetkov/notesync/internal/common"
	"github.com/dkocetkov/notesync/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const noteColumns = `id, title, content, enrichment, attachment_ids, dirty, deleted, updated_at, last_synced_at`

func scanNote(row interface{ Scan(...any) error }) (*models.Note, error) {
	var (
		n             models.Note
		enrichment    []byte
		attachmentIDs []byte
	)
	if err := row.Scan(&n.ID, &n.Title, &n.Content, &enrichment, &attachmentIDs,
		&n.Dirty, &n.Deleted, &n.UpdatedAt, &n.LastSyncedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(enrichment, &n.Enrichment); err != nil {
		return nil, fmt.Errorf("%w: note %s enrichment: %v", common.ErrCorruptRecord, n.ID, err)
	}
	if err := json.Unmarshal(attachmentIDs, &n.AttachmentIDs); err != nil {
		return nil, fmt.Errorf("%w: note %s attachments: %v", common.ErrCorruptRecord, n.ID, err)
	}
	return &n, nil
}

// Upsert replaces a note by id. On conflict all payload and sync metadata
// columns are updated.
func (r *SQLiteRepository) Upsert(ctx context.Context, n *models.Note) error {
	enrichment, err := json.Marshal(n.Enrichment)
	if err != nil {
		return fmt.Errorf("%w: note %s enrichment: %v", common.ErrCorruptRecord, n.ID, err)
	}
	attachmentIDs, err := json.Marshal(n.AttachmentIDs)
	if err != nil {
		return fmt.Errorf("%w: note %s attachments: %v", common.ErrCorruptRecord, n.ID, err)
	}

	query := `INSERT INTO notes (` + noteColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET title = excluded.title,
				content = excluded.content,
				enrichment = excluded.enrichment,
				attachment_ids = excluded.attachment_ids,
				dirty = excluded.dirty,
				deleted = excluded.deleted,
				updated_at = excluded.updated_at,
				last_synced_at = excluded.last_synced_at
	`
	_, err = r.db.ExecContext(ctx, query,
		n.ID, n.Title, n.Content, enrichment, attachmentIDs,
		n.Dirty, n.Deleted, n.UpdatedAt, n.LastSyncedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert note: %w", err)
	}
	return nil
}

// GetByID returns a single note, tombstones included.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes WHERE id = ?`
	n, err := scanNote(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return n, nil
}

// List returns all non-deleted notes.
func (r *SQLiteRepository) List(ctx context.Context) ([]models.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes WHERE deleted = 0 ORDER BY updated_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select notes: %w", err)
	}
	defer rows.Close()

	var result []models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetDirty returns notes awaiting acknowledgment, tombstones included.
func (r *SQLiteRepository) GetDirty(ctx context.Context) ([]*models.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes WHERE dirty = 1`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select dirty notes: %w", err)
	}
	defer rows.Close()

	var result []*models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkClean clears the dirty flag after remote acknowledgment.
func (r *SQLiteRepository) MarkClean(ctx context.Context, id string, lastSyncedAt int64) error {
	query := `UPDATE notes SET dirty = 0, last_synced_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, lastSyncedAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark note clean: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}

// SoftDelete tombstones a note. It expects the note to exist.
func (r *SQLiteRepository) SoftDelete(ctx context.Context, id string, updatedAt int64) error {
	query := `UPDATE notes SET deleted = 1, dirty = 1, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, updatedAt, id)
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}

// PurgeTombstones removes acknowledged tombstones past the retention window.
func (r *SQLiteRepository) PurgeTombstones(ctx context.Context, olderThan int64) (int64, error) {
	query := `DELETE FROM notes WHERE deleted = 1 AND dirty = 0 AND updated_at < ?`
	res, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge tombstones: %w", err)
	}
	return res.RowsAffected()
}
