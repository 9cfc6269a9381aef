package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dkocetkov/notesync/internal/client/models"
	"github.com/dkocetkov/notesync/internal/client/remote"
	"github.com/dkocetkov/notesync/internal/client/repositories/attachments"
	"github.com/dkocetkov/notesync/internal/client/repositories/metadata"
	"github.com/dkocetkov/notesync/internal/client/repositories/notes"
	"github.com/dkocetkov/notesync/internal/client/repositories/outbox"
	"github.com/dkocetkov/notesync/internal/common"
	"github.com/dkocetkov/notesync/internal/dbx"
	"github.com/dkocetkov/notesync/internal/logging"
	"github.com/sethvargo/go-retry"
)

// State is the coordinator's cycle phase. Modeled as an explicit enum (not
// an ambient boolean) so re-entrancy and observability stay testable.
type State int32

const (
	StateIdle State = iota
	StateFlushing
	StatePulling
	StateMerging
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFlushing:
		return "flushing"
	case StatePulling:
		return "pulling"
	case StateMerging:
		return "merging"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds coordinator tunables.
type Config struct {
	// BatchSize caps the number of outbox entries flushed per cycle.
	BatchSize int

	// CallTimeout bounds each remote call (flush, pull, upload).
	CallTimeout time.Duration

	// RetryCeiling is the per-entry requeue limit before an entry is marked
	// permanently failed.
	RetryCeiling int

	// BackoffBase/BackoffCap shape the per-coordinator exponential backoff
	// after a transient cycle failure.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxAttempts uint64

	// TombstoneRetention is how long acknowledged tombstones are kept
	// before the post-cycle purge. Zero disables purging.
	TombstoneRetention time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:          100,
		CallTimeout:        15 * time.Second,
		RetryCeiling:       5,
		BackoffBase:        time.Second,
		BackoffCap:         2 * time.Minute,
		MaxAttempts:        6,
		TombstoneRetention: 7 * 24 * time.Hour,
	}
}

// Stores bundles the durable state the coordinator operates on. DB is the
// handle the repositories are bound to; merge steps open per-record
// transactions on it so a merge never interleaves with a concurrent local
// mutation for the same id.
type Stores struct {
	DB          *sql.DB
	Notes       notes.Repository
	Outbox      outbox.Repository
	Attachments attachments.Repository
	Metadata    metadata.Repository
}

// Coordinator orchestrates one sync cycle at a time: flush the outbox, pull
// remote deltas, merge them into the local store, then advance the cursor.
// Local mutations may proceed concurrently; they only append to the outbox.
type Coordinator struct {
	stores    Stores
	mutations remote.MutationAPI
	queries   remote.QueryAPI
	uploader  *Uploader
	logger    logging.Logger
	cfg       Config

	state atomic.Int32
}

// NewCoordinator wires a coordinator. The uploader may share the
// attachments repository with stores.
func NewCoordinator(stores Stores, mutations remote.MutationAPI, queries remote.QueryAPI, uploader *Uploader, logger logging.Logger, cfg Config) *Coordinator {
	return &Coordinator{
		stores:    stores,
		mutations: mutations,
		queries:   queries,
		uploader:  uploader,
		logger:    logger,
		cfg:       cfg,
	}
}

// State returns the current cycle phase.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// TriggerSync runs one sync cycle. If a cycle is already in flight the call
// is coalesced into a no-op and returns immediately with no error.
func (c *Coordinator) TriggerSync(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateFlushing)) {
		c.logger.Debug(ctx, "sync cycle already in flight, trigger coalesced")
		return nil
	}
	defer c.state.Store(int32(StateIdle))

	return c.runCycle(ctx)
}

// Run triggers a cycle on every tick until ctx is cancelled. Transient
// failures are retried with per-coordinator exponential backoff so flapping
// connectivity never turns into a thundering herd of per-entry retries.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.syncWithBackoff(ctx)
		}
	}
}

func (c *Coordinator) syncWithBackoff(ctx context.Context) {
	b := retry.WithCappedDuration(c.cfg.BackoffCap, retry.NewExponential(c.cfg.BackoffBase))
	b = retry.WithMaxRetries(c.cfg.MaxAttempts, b)

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := c.TriggerSync(ctx)
		if errors.Is(err, common.ErrTransientNetwork) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error(ctx, "sync failed", "err", err)
	}
}

func (c *Coordinator) runCycle(ctx context.Context) error {
	started := time.Now()

	if err := c.flush(ctx); err != nil {
		return err
	}

	c.state.Store(int32(StatePulling))
	cursor, err := c.stores.Metadata.GetInt64(ctx, metadata.KeyCursor)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	resp, err := c.queries.Pull(callCtx, cursor)
	cancel()
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}

	c.state.Store(int32(StateMerging))
	if err := c.merge(ctx, resp.Records); err != nil {
		return err
	}

	// The cursor advances only after the whole merge landed. A crash in
	// between redelivers the same records next cycle; merging is idempotent
	// so redelivery is harmless.
	next := resp.NextCursor
	for _, r := range resp.Records {
		if r.UpdatedAt > next {
			next = r.UpdatedAt
		}
	}
	if next > cursor {
		if err := c.stores.Metadata.SetInt64(ctx, metadata.KeyCursor, next); err != nil {
			return err
		}
	}

	if c.cfg.TombstoneRetention > 0 {
		olderThan := time.Now().Add(-c.cfg.TombstoneRetention).UnixMilli()
		if n, err := c.stores.Notes.PurgeTombstones(ctx, olderThan); err != nil {
			c.logger.Warn(ctx, "tombstone purge failed", "err", err)
		} else if n > 0 {
			c.logger.Info(ctx, "purged tombstones", "count", n)
		}
	}

	c.logger.Info(ctx, "sync cycle complete",
		"pulled", len(resp.Records), "cursor", next, "took", time.Since(started))
	return nil
}

// flush drains the outbox and sends one batched, idempotent mutation call.
// Drained entries are marked in flight, so a local edit made while the batch
// is on the wire lands in a fresh entry rather than mutating a payload whose
// acknowledgment is pending. Entries blocked on attachment uploads are
// skipped for this cycle, never failed. On a partial result, accepted entries
// are acknowledged and rejected ones requeued up to the retry ceiling.
func (c *Coordinator) flush(ctx context.Context) error {
	entries, err := c.stores.Outbox.Drain(ctx, c.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	drained := make([]int64, len(entries))
	for i, e := range entries {
		drained[i] = e.Seq
	}

	ops := make([]remote.BatchOp, 0, len(entries))
	opSeqs := make(map[string]int64, len(entries))

	for _, e := range entries {
		op, ok, err := c.buildOp(ctx, e)
		if err != nil {
			c.releaseDrained(ctx, drained)
			return err
		}
		if !ok {
			continue
		}
		ops = append(ops, op)
		opSeqs[resultKey(op.NoteID, op.Op)] = e.Seq
	}

	if len(ops) == 0 {
		c.releaseDrained(ctx, drained)
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	results, err := c.mutations.ApplyBatch(callCtx, ops)
	cancel()
	if err != nil {
		// Indeterminate outcome: nothing was acknowledged, so every entry
		// stays queued. The server's idempotency per (id, op) makes the
		// eventual re-send safe even if this batch actually applied.
		c.releaseDrained(ctx, drained)
		return fmt.Errorf("flush: %w", err)
	}

	return c.applyBatchResults(ctx, results, opSeqs, drained)
}

// releaseDrained is best effort: a leaked in-flight mark only delays
// coalescing for the affected note, it never loses or duplicates a mutation.
func (c *Coordinator) releaseDrained(ctx context.Context, seqs []int64) {
	if err := c.stores.Outbox.Release(ctx, seqs); err != nil {
		c.logger.Warn(ctx, "failed to release drained entries", "err", err)
	}
}

// buildOp turns an outbox entry into a wire op, resolving attachment
// uploads first. ok=false means the entry is skipped this cycle.
func (c *Coordinator) buildOp(ctx context.Context, e *models.OutboxEntry) (remote.BatchOp, bool, error) {
	op := remote.BatchOp{NoteID: e.NoteID, Op: e.Op}
	if e.Op == models.OpDelete {
		return op, true, nil
	}

	var payload models.NotePayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		// Corrupt snapshot is fatal to this entry only; the batch goes on.
		c.logger.Error(ctx, "corrupt outbox payload", "note", e.NoteID, "seq", e.Seq, "err", err)
		if err := c.stores.Outbox.MarkFailed(ctx, e.Seq); err != nil {
			return op, false, err
		}
		return op, false, nil
	}
	op.Payload = &payload

	for _, attID := range payload.AttachmentIDs {
		a, err := c.stores.Attachments.GetByID(ctx, attID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				c.logger.Warn(ctx, "note references unknown attachment", "note", e.NoteID, "attachment", attID)
				continue
			}
			return op, false, err
		}

		if a.Status != models.UploadStatusUploaded {
			uploadCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
			_, err = c.uploader.EnsureUploaded(uploadCtx, attID)
			cancel()
			if err != nil {
				c.logger.Warn(ctx, "entry blocked on attachment upload, skipping this cycle",
					"note", e.NoteID, "attachment", attID, "err", err)
				return op, false, nil
			}
			if a, err = c.stores.Attachments.GetByID(ctx, attID); err != nil {
				return op, false, err
			}
		}
		op.Attachments = append(op.Attachments, models.AttachmentRef{ID: a.ID, Mime: a.Mime, RemoteRef: a.RemoteRef})
	}

	return op, true, nil
}

func resultKey(noteID string, op models.Operation) string {
	return noteID + "|" + string(op)
}

func (c *Coordinator) applyBatchResults(ctx context.Context, results []remote.BatchResult, opSeqs map[string]int64, drained []int64) error {
	var accepted []int64
	acceptedAt := make(map[string]int64)

	for _, res := range results {
		seq, ok := opSeqs[resultKey(res.NoteID, res.Op)]
		if !ok {
			c.logger.Warn(ctx, "result for unknown op", "note", res.NoteID, "op", res.Op)
			continue
		}

		if res.Accepted {
			accepted = append(accepted, seq)
			acceptedAt[res.NoteID] = res.UpdatedAt
			continue
		}

		count, err := c.stores.Outbox.Requeue(ctx, seq)
		if err != nil {
			return err
		}
		if count >= c.cfg.RetryCeiling {
			if err := c.stores.Outbox.MarkFailed(ctx, seq); err != nil {
				return err
			}
			c.logger.Error(ctx, "outbox entry permanently failed",
				"note", res.NoteID, "op", res.Op, "attempts", count, "reason", res.Reason,
				"err", common.ErrPermanentFailure)
		} else {
			c.logger.Warn(ctx, "entry rejected, requeued",
				"note", res.NoteID, "op", res.Op, "attempt", count, "reason", res.Reason)
		}
	}

	// Acknowledge, release surviving entries, and clear dirty flags in one
	// transaction so a crash can never leave an entry acknowledged remotely
	// but still queued as dirty forever, or vice versa.
	return dbx.WithTx(ctx, c.stores.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		ob := outbox.NewSQLiteRepository(tx)
		ns := notes.NewSQLiteRepository(tx)

		if err := ob.Acknowledge(ctx, accepted); err != nil {
			return err
		}
		if err := ob.Release(ctx, drained); err != nil {
			return err
		}

		for noteID, updatedAt := range acceptedAt {
			// A newer local edit may have enqueued a fresh entry between
			// drain and acknowledgment; that note is still dirty.
			pending, err := ob.Pending(ctx, noteID)
			if err != nil {
				return err
			}
			if pending != nil {
				continue
			}
			if err := ns.MarkClean(ctx, noteID, updatedAt); err != nil && !errors.Is(err, common.ErrNotFound) {
				return err
			}
		}
		return nil
	})
}

// merge folds pulled remote records into the local store. Each record is
// merged in its own transaction so a concurrent local mutation for the same
// id never observes a partial write. Corrupt records are skipped; all other
// errors abort the cycle before the cursor moves.
func (c *Coordinator) merge(ctx context.Context, records []models.RemoteNote) error {
	for i := range records {
		record := &records[i]
		err := dbx.WithTx(ctx, c.stores.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
			return c.mergeOne(ctx, notes.NewSQLiteRepository(tx), record)
		})
		if errors.Is(err, common.ErrCorruptRecord) {
			c.logger.Error(ctx, "skipping corrupt record during merge", "note", record.ID, "err", err)
			continue
		}
		if err != nil {
			return fmt.Errorf("merge %s: %w", record.ID, err)
		}
	}
	return nil
}

func (c *Coordinator) mergeOne(ctx context.Context, store notes.Repository, record *models.RemoteNote) error {
	local, err := store.GetByID(ctx, record.ID)
	if errors.Is(err, common.ErrNotFound) {
		if record.Deleted {
			// deletion of a record we never had
			return nil
		}
		n := record.Note()
		n.LastSyncedAt = record.UpdatedAt
		return store.Upsert(ctx, n)
	}
	if err != nil {
		return err
	}

	if !local.Dirty {
		// Clean local copy: the remote version simply overwrites it, which
		// also makes redelivery of the same batch a no-op.
		n := record.Note()
		n.LastSyncedAt = record.UpdatedAt
		return store.Upsert(ctx, n)
	}

	res := Resolve(local, record)
	if res.RemoteWon {
		c.logger.Info(ctx, "conflict resolved", "note", record.ID, "winner", "remote")
	} else {
		c.logger.Info(ctx, "conflict resolved", "note", record.ID, "winner", "local")
	}
	return store.Upsert(ctx, res.Winner)
}
