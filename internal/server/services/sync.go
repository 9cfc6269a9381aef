// Package services implements the server's sync operations: applying
// batched client mutations and serving cursor-based pulls.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkocetkov/notesync/internal/common"
	"github.com/dkocetkov/notesync/internal/dbx"
	"github.com/dkocetkov/notesync/internal/logging"
	"github.com/dkocetkov/notesync/internal/server/models"
	"github.com/dkocetkov/notesync/internal/server/repositories/clock"
	"github.com/dkocetkov/notesync/internal/server/repositories/notes"
)

// nowFn is a test seam for the wall clock.
var nowFn = func() int64 { return time.Now().UnixMilli() }

// BatchOp is one client mutation. Payload is opaque to the server; it is
// stored and redistributed verbatim.
type BatchOp struct {
	NoteID      string          `json:"id"`
	Op          string          `json:"op"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Attachments json.RawMessage `json:"attachments,omitempty"`
}

// BatchResult is the per-op outcome. UpdatedAt carries the server-assigned
// timestamp for accepted ops.
type BatchResult struct {
	NoteID    string `json:"id"`
	Op        string `json:"op"`
	Accepted  bool   `json:"accepted"`
	Reason    string `json:"reason,omitempty"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
}

// Record is one pulled note.
type Record struct {
	ID        string          `json:"id"`
	Deleted   bool            `json:"deleted"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt int64           `json:"updated_at"`
}

// PullResult is a page of records changed after the requested cursor.
type PullResult struct {
	Records    []Record `json:"records"`
	NextCursor int64    `json:"next_cursor"`
}

const (
	opCreate = "create"
	opUpdate = "update"
	opDelete = "delete"
)

// SyncService applies client batches and answers pulls. Every accepted
// mutation gets a timestamp from the persistent server clock, so the pull
// order is total and survives restarts.
type SyncService struct {
	db     *sql.DB
	logger logging.Logger
}

func NewSyncService(db *sql.DB, logger logging.Logger) *SyncService {
	return &SyncService{db: db, logger: logger}
}

// ApplyBatch processes each op independently: a malformed op yields a
// rejected result, never a failed call. Re-delivered ops are safe to apply
// again; the batch as a whole is idempotent under at-least-once delivery.
func (s *SyncService) ApplyBatch(ctx context.Context, ops []BatchOp) ([]BatchResult, error) {
	results := make([]BatchResult, 0, len(ops))

	for _, op := range ops {
		res, err := s.applyOne(ctx, op)
		if err != nil {
			return nil, fmt.Errorf("apply %s %s: %w", op.Op, op.NoteID, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *SyncService) applyOne(ctx context.Context, op BatchOp) (BatchResult, error) {
	res := BatchResult{NoteID: op.NoteID, Op: op.Op}

	if op.NoteID == "" {
		res.Reason = "missing note id"
		return res, nil
	}

	switch op.Op {
	case opCreate, opUpdate:
		if len(op.Payload) == 0 || !json.Valid(op.Payload) {
			res.Reason = "missing or malformed payload"
			return res, nil
		}
	case opDelete:
		// no payload required
	default:
		res.Reason = fmt.Sprintf("unknown op %q", op.Op)
		return res, nil
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		noteRepo := notes.NewPostgresRepository(tx)

		if op.Op == opDelete {
			existing, err := noteRepo.GetByID(ctx, op.NoteID)
			if err != nil && !errors.Is(err, common.ErrNotFound) {
				return err
			}
			if existing == nil {
				// deleting a record that never reached the server: plain ack
				res.Accepted = true
				return nil
			}
			ts, err := clock.NewPostgresRepository(tx).Next(ctx, nowFn())
			if err != nil {
				return err
			}
			existing.Deleted = true
			existing.Payload = []byte(`{}`)
			existing.UpdatedAt = ts
			if err := noteRepo.Upsert(ctx, existing); err != nil {
				return err
			}
			res.Accepted = true
			res.UpdatedAt = ts
			return nil
		}

		ts, err := clock.NewPostgresRepository(tx).Next(ctx, nowFn())
		if err != nil {
			return err
		}
		if err := noteRepo.Upsert(ctx, &models.Note{
			ID:        op.NoteID,
			Payload:   op.Payload,
			UpdatedAt: ts,
		}); err != nil {
			return err
		}
		res.Accepted = true
		res.UpdatedAt = ts
		return nil
	})
	if err != nil {
		return res, err
	}
	return res, nil
}

// Pull returns up to limit records with updated_at > updatedAfter. The
// cursor only moves as far as the returned page, so a capped page is
// re-entered where it left off.
func (s *SyncService) Pull(ctx context.Context, updatedAfter int64, limit int) (*PullResult, error) {
	rows, err := notes.NewPostgresRepository(s.db).SelectUpdated(ctx, updatedAfter, limit)
	if err != nil {
		return nil, err
	}

	result := &PullResult{Records: make([]Record, 0, len(rows)), NextCursor: updatedAfter}
	for _, n := range rows {
		result.Records = append(result.Records, Record{
			ID:        n.ID,
			Deleted:   n.Deleted,
			Payload:   n.Payload,
			UpdatedAt: n.UpdatedAt,
		})
		if n.UpdatedAt > result.NextCursor {
			result.NextCursor = n.UpdatedAt
		}
	}
	return result, nil
}
