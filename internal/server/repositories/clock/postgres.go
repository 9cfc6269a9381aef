// Package clock persists the server's monotonic timestamp source. Assigned
// timestamps order all accepted mutations; they advance with the wall clock
// but never move backwards, even across restarts or host clock steps.
package clock

import (
	"context"
	"fmt"

	"github.com/dkocetkov/notesync/internal/dbx"
)

type Repository interface {
	// Next returns a timestamp strictly greater than every previously
	// returned one, at least now (unix milliseconds).
	Next(ctx context.Context, now int64) (int64, error)
}

// PostgresRepository implements the clock over a single-row table.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Next advances and returns the clock. The row update serializes concurrent
// callers so two mutations can never share a timestamp.
func (r *PostgresRepository) Next(ctx context.Context, now int64) (int64, error) {
	query := `UPDATE server_clock
		SET last_timestamp = GREATEST(last_timestamp + 1, $1)
		WHERE id = 1
		RETURNING last_timestamp`
	var ts int64
	if err := r.db.QueryRowContext(ctx, query, now).Scan(&ts); err != nil {
		return 0, fmt.Errorf("failed to advance server clock: %w", err)
	}
	return ts, nil
}
