// Package notes provides the PostgreSQL-backed repository for server-side
// note persistence and sync queries.
package notes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dkocetkov/notesync/internal/common"
	"github.com/dkocetkov/notesync/internal/dbx"
	"github.com/dkocetkov/notesync/internal/server/models"
)

// PostgresRepository implements note storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert inserts or replaces a note by ID.
func (r *PostgresRepository) Upsert(ctx context.Context, n *models.Note) error {
	query := `
		INSERT INTO notes (id, deleted, payload, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id)
		DO UPDATE SET
			deleted = EXCLUDED.deleted,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at;
	`
	_, err := r.db.ExecContext(ctx, query, n.ID, n.Deleted, n.Payload, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByID returns a note, or common.ErrNotFound.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Note, error) {
	query := `SELECT id, deleted, payload, updated_at FROM notes WHERE id = $1`
	var n models.Note
	err := r.db.QueryRowContext(ctx, query, id).Scan(&n.ID, &n.Deleted, &n.Payload, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return &n, nil
}

// SelectUpdated returns up to limit notes with updated_at > minTimestamp in
// ascending updated_at order, tombstones included.
func (r *PostgresRepository) SelectUpdated(ctx context.Context, minTimestamp int64, limit int) ([]*models.Note, error) {
	query := `SELECT id, deleted, payload, updated_at FROM notes
		WHERE updated_at > $1 ORDER BY updated_at ASC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, minTimestamp, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select notes: %w", err)
	}
	defer rows.Close()

	var result []*models.Note
	for rows.Next() {
		var item models.Note
		if err := rows.Scan(&item.ID, &item.Deleted, &item.Payload, &item.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
