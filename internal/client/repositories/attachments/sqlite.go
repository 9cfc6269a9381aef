package attachments

import (
	"context"
	"database/sql"
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

const attachmentColumns = `id, note_id, local_path, mime, status, remote_ref, retry_count`

func scanAttachment(row interface{ Scan(...any) error }) (*models.Attachment, error) {
	var a models.Attachment
	if err := row.Scan(&a.ID, &a.NoteID, &a.LocalPath, &a.Mime, &a.Status, &a.RemoteRef, &a.RetryCount); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, a *models.Attachment) error {
	query := `INSERT INTO attachments (` + attachmentColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET note_id = excluded.note_id,
				local_path = excluded.local_path,
				mime = excluded.mime,
				status = excluded.status,
				remote_ref = excluded.remote_ref,
				retry_count = excluded.retry_count
	`
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.NoteID, a.LocalPath, a.Mime, a.Status, a.RemoteRef, a.RetryCount)
	if err != nil {
		return fmt.Errorf("failed to upsert attachment: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments WHERE id = ?`
	a, err := scanAttachment(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) GetByNoteID(ctx context.Context, noteID string) ([]*models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments WHERE note_id = ?`
	rows, err := r.db.QueryContext(ctx, query, noteID)
	if err != nil {
		return nil, fmt.Errorf("failed to select attachments: %w", err)
	}
	defer rows.Close()

	var result []*models.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) SetStatus(ctx context.Context, id string, status models.UploadStatus, remoteRef string) error {
	var (
		res sql.Result
		err error
	)
	if status == models.UploadStatusUploaded {
		res, err = r.db.ExecContext(ctx,
			`UPDATE attachments SET status = ?, remote_ref = ? WHERE id = ?`, status, remoteRef, id)
	} else {
		res, err = r.db.ExecContext(ctx,
			`UPDATE attachments SET status = ? WHERE id = ?`, status, id)
	}
	if err != nil {
		return fmt.Errorf("failed to set attachment status: %w", err)
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

func (r *SQLiteRepository) IncrementRetry(ctx context.Context, id string) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE attachments SET retry_count = retry_count + 1 WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to increment retry: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return 0, common.ErrNotFound
	}

	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT retry_count FROM attachments WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to read retry count: %w", err)
	}
	return count, nil
}
