package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dkocetkov/notesync/internal/client/models"
	"github.com/dkocetkov/notesync/internal/common"
	"github.com/dkocetkov/notesync/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
// Callers that pair an outbox write with a note write should run both inside
// dbx.WithTx so the mutation and its queue entry commit atomically.
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const entryColumns = `seq, note_id, op, payload, retry_count, enqueued_at, failed, in_flight, sent`

func scanEntry(row interface{ Scan(...any) error }) (*models.OutboxEntry, error) {
	var e models.OutboxEntry
	if err := row.Scan(&e.Seq, &e.NoteID, &e.Op, &e.Payload, &e.RetryCount, &e.EnqueuedAt, &e.Failed, &e.InFlight, &e.Sent); err != nil {
		return nil, err
	}
	return &e, nil
}

// Pending returns the oldest live entry for a note, or nil.
func (r *SQLiteRepository) Pending(ctx context.Context, noteID string) (*models.OutboxEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM outbox WHERE note_id = ? AND failed = 0 ORDER BY seq LIMIT 1`
	e, err := scanEntry(r.db.QueryRowContext(ctx, query, noteID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select outbox entry: %w", err)
	}
	return e, nil
}

// coalesceTarget returns the newest entry a new mutation may merge into, or
// nil. In-flight entries are excluded: their payload is on the wire and the
// matching acknowledgment must not swallow a newer edit.
func (r *SQLiteRepository) coalesceTarget(ctx context.Context, noteID string) (*models.OutboxEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM outbox
		WHERE note_id = ? AND failed = 0 AND in_flight = 0 ORDER BY seq DESC LIMIT 1`
	e, err := scanEntry(r.db.QueryRowContext(ctx, query, noteID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select outbox entry: %w", err)
	}
	return e, nil
}

// Enqueue appends or coalesces, per the Repository contract.
func (r *SQLiteRepository) Enqueue(ctx context.Context, noteID string, op models.Operation, payload []byte) error {
	existing, err := r.coalesceTarget(ctx, noteID)
	if err != nil {
		return err
	}

	if existing == nil {
		query := `INSERT INTO outbox (note_id, op, payload, enqueued_at) VALUES (?, ?, ?, ?)`
		if _, err := r.db.ExecContext(ctx, query, noteID, op, payload, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("failed to enqueue: %w", err)
		}
		return nil
	}

	if op == models.OpDelete {
		// A delete of a never-flushed create nets out to nothing: the
		// server has never seen the note, so nothing is sent at all. A
		// create that has been handed to a flush may have reached the
		// server, so its delete is queued like any other.
		if existing.Op == models.OpCreate && !existing.Sent {
			_, err := r.db.ExecContext(ctx, `DELETE FROM outbox WHERE seq = ?`, existing.Seq)
			if err != nil {
				return fmt.Errorf("failed to collapse create+delete: %w", err)
			}
			return nil
		}
		_, err := r.db.ExecContext(ctx,
			`UPDATE outbox SET op = ?, payload = NULL WHERE seq = ?`, models.OpDelete, existing.Seq)
		if err != nil {
			return fmt.Errorf("failed to coalesce delete: %w", err)
		}
		return nil
	}

	// An update to a queued, unflushed create must still reach the server
	// as a create; the payload is simply refreshed in place. The earliest
	// sequence number is preserved by updating rather than re-inserting.
	nextOp := op
	if existing.Op == models.OpCreate {
		nextOp = models.OpCreate
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE outbox SET op = ?, payload = ? WHERE seq = ?`, nextOp, payload, existing.Seq)
	if err != nil {
		return fmt.Errorf("failed to coalesce update: %w", err)
	}
	return nil
}

// Drain marks up to maxBatch pending entries in flight, one per note, and
// returns them in sequence order. The single UPDATE keeps select-and-mark
// atomic even when the repository is bound to a plain *sql.DB.
func (r *SQLiteRepository) Drain(ctx context.Context, maxBatch int) ([]*models.OutboxEntry, error) {
	query := `UPDATE outbox SET in_flight = 1, sent = 1
		WHERE seq IN (
			SELECT MIN(seq) FROM outbox WHERE failed = 0
			GROUP BY note_id ORDER BY MIN(seq) LIMIT ?
		)
		RETURNING ` + entryColumns
	rows, err := r.db.QueryContext(ctx, query, maxBatch)
	if err != nil {
		return nil, fmt.Errorf("failed to drain outbox: %w", err)
	}
	defer rows.Close()

	var result []*models.OutboxEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING does not guarantee order.
	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result, nil
}

// Release clears the in-flight mark once a flush is over.
func (r *SQLiteRepository) Release(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(seqs)-1) + "?"
	args := make([]any, len(seqs))
	for i, s := range seqs {
		args[i] = s
	}
	_, err := r.db.ExecContext(ctx, `UPDATE outbox SET in_flight = 0 WHERE seq IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to release entries: %w", err)
	}
	return nil
}

// Acknowledge removes the given entries in a single statement.
func (r *SQLiteRepository) Acknowledge(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(seqs)-1) + "?"
	args := make([]any, len(seqs))
	for i, s := range seqs {
		args[i] = s
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM outbox WHERE seq IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to acknowledge entries: %w", err)
	}
	return nil
}

// Requeue bumps the retry counter, clears the in-flight mark, and returns
// the new count.
func (r *SQLiteRepository) Requeue(ctx context.Context, seq int64) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE outbox SET retry_count = retry_count + 1, in_flight = 0 WHERE seq = ?`, seq)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue entry: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return 0, common.ErrNotFound
	}

	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT retry_count FROM outbox WHERE seq = ?`, seq).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to read retry count: %w", err)
	}
	return count, nil
}

// MarkFailed flags an entry as permanently failed.
func (r *SQLiteRepository) MarkFailed(ctx context.Context, seq int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE outbox SET failed = 1 WHERE seq = ?`, seq)
	if err != nil {
		return fmt.Errorf("failed to mark entry failed: %w", err)
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

// Failed lists permanently failed entries.
func (r *SQLiteRepository) Failed(ctx context.Context) ([]*models.OutboxEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM outbox WHERE failed = 1 ORDER BY seq`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select failed entries: %w", err)
	}
	defer rows.Close()

	var result []*models.OutboxEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
