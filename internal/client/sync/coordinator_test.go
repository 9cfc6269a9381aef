package sync

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	stdsync "sync"
	"testing"
	"time"

	"github.com/dkocetkov/notesync/internal/client/migrations"
	"github.com/dkocetkov/notesync/internal/client/models"
	"github.com/dkocetkov/notesync/internal/client/remote"
	"github.com/dkocetkov/notesync/internal/client/repositories/attachments"
	"github.com/dkocetkov/notesync/internal/client/repositories/metadata"
	"github.com/dkocetkov/notesync/internal/client/repositories/notes"
	"github.com/dkocetkov/notesync/internal/client/repositories/outbox"
	"github.com/dkocetkov/notesync/internal/common"
	"github.com/dkocetkov/notesync/internal/logging"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

type fakeRemote struct {
	mu      stdsync.Mutex
	applyFn func(ops []remote.BatchOp) ([]remote.BatchResult, error)
	pullFn  func(updatedAfter int64) (*remote.PullResponse, error)

	applyCalls int
	pullCalls  int
	lastOps    []remote.BatchOp
}

func (f *fakeRemote) ApplyBatch(ctx context.Context, ops []remote.BatchOp) ([]remote.BatchResult, error) {
	f.mu.Lock()
	f.applyCalls++
	f.lastOps = ops
	fn := f.applyFn
	f.mu.Unlock()
	if fn == nil {
		return acceptAll(ops, 1000), nil
	}
	return fn(ops)
}

func (f *fakeRemote) Pull(ctx context.Context, updatedAfter int64) (*remote.PullResponse, error) {
	f.mu.Lock()
	f.pullCalls++
	fn := f.pullFn
	f.mu.Unlock()
	if fn == nil {
		return &remote.PullResponse{NextCursor: updatedAfter}, nil
	}
	return fn(updatedAfter)
}

func acceptAll(ops []remote.BatchOp, updatedAt int64) []remote.BatchResult {
	results := make([]remote.BatchResult, 0, len(ops))
	for _, op := range ops {
		results = append(results, remote.BatchResult{
			NoteID: op.NoteID, Op: op.Op, Accepted: true, UpdatedAt: updatedAt,
		})
	}
	return results
}

type fakeBlobStore struct {
	mu      stdsync.Mutex
	uploads int
	err     error
	block   chan struct{}
}

func (f *fakeBlobStore) Upload(ctx context.Context, localPath, mime string) (string, error) {
	f.mu.Lock()
	f.uploads++
	err := f.err
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return "", err
	}
	return "blobs/" + localPath, nil
}

type harness struct {
	db          *sql.DB
	notes       notes.Repository
	outbox      outbox.Repository
	attachments attachments.Repository
	metadata    metadata.Repository
	remote      *fakeRemote
	blobs       *fakeBlobStore
	coord       *Coordinator
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	goose.SetBaseFS(migrations.Migrations)
	require.NoError(t, goose.SetDialect("sqlite3"))
	require.NoError(t, goose.UpContext(context.Background(), db, "."))

	h := &harness{
		db:          db,
		notes:       notes.NewSQLiteRepository(db),
		outbox:      outbox.NewSQLiteRepository(db),
		attachments: attachments.NewSQLiteRepository(db),
		metadata:    metadata.NewSQLiteRepository(db),
		remote:      &fakeRemote{},
		blobs:       &fakeBlobStore{},
	}

	logger := testLogger()
	uploader := NewUploader(h.attachments, h.blobs, logger, 3)
	h.coord = NewCoordinator(Stores{
		DB:          db,
		Notes:       h.notes,
		Outbox:      h.outbox,
		Attachments: h.attachments,
		Metadata:    h.metadata,
	}, h.remote, h.remote, uploader, logger, cfg)
	return h
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CallTimeout = 2 * time.Second
	cfg.RetryCeiling = 2
	cfg.TombstoneRetention = 0
	return cfg
}

// enqueueNote writes a dirty note and its outbox entry like the service
// layer does.
func enqueueNote(t *testing.T, h *harness, n *models.Note, op models.Operation) {
	t.Helper()
	ctx := context.Background()
	n.Dirty = true
	require.NoError(t, h.notes.Upsert(ctx, n))
	payload, err := n.MarshalPayload()
	require.NoError(t, err)
	if op == models.OpDelete {
		payload = nil
	}
	require.NoError(t, h.outbox.Enqueue(ctx, n.ID, op, payload))
}

func TestCycle_FlushAcknowledgesAndCleans(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	enqueueNote(t, h, &models.Note{ID: "n1", Title: "hello", UpdatedAt: 10}, models.OpCreate)

	require.NoError(t, h.coord.TriggerSync(ctx))

	entries, err := h.outbox.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries, "acknowledged entries are removed")

	n, err := h.notes.GetByID(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, n.Dirty)
	assert.Equal(t, int64(1000), n.LastSyncedAt)
}

func TestCycle_EditDuringFlushStaysQueued(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	enqueueNote(t, h, &models.Note{ID: "n1", Title: "t", Content: "first", UpdatedAt: 10}, models.OpCreate)

	h.remote.applyFn = func(ops []remote.BatchOp) ([]remote.BatchResult, error) {
		// a local edit lands while the batch is on the wire
		edited := &models.Note{ID: "n1", Title: "t", Content: "second", Dirty: true, UpdatedAt: 20}
		if err := h.notes.Upsert(ctx, edited); err != nil {
			return nil, err
		}
		payload, err := edited.MarshalPayload()
		if err != nil {
			return nil, err
		}
		if err := h.outbox.Enqueue(ctx, "n1", models.OpUpdate, payload); err != nil {
			return nil, err
		}
		return acceptAll(ops, 1000), nil
	}

	require.NoError(t, h.coord.TriggerSync(ctx))

	// acknowledging the flushed snapshot must not swallow the newer edit
	got, err := h.notes.GetByID(ctx, "n1")
	require.NoError(t, err)
	assert.True(t, got.Dirty, "note with an unflushed edit stays dirty")
	assert.Equal(t, "second", got.Content)

	entries, err := h.outbox.Drain(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1, "the edit is still queued")
	assert.Equal(t, models.OpUpdate, entries[0].Op)

	// the next cycle flushes it
	h.remote.mu.Lock()
	h.remote.applyFn = nil
	h.remote.mu.Unlock()
	require.NoError(t, h.coord.TriggerSync(ctx))

	entries, err = h.outbox.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	got, err = h.notes.GetByID(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, got.Dirty)
	assert.Equal(t, "second", got.Content, "the edit survived the round trip")
}

func TestCycle_InterruptedAckRedeliversThenRemoves(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	n := &models.Note{ID: "n1", Title: "t", Content: "hello", UpdatedAt: 10}
	enqueueNote(t, h, n, models.OpCreate)
	require.NoError(t, h.coord.TriggerSync(ctx))

	// A crash before the acknowledgment transaction commits leaves the
	// entry queued and the note dirty. Restore that state directly.
	restored, err := h.notes.GetByID(ctx, "n1")
	require.NoError(t, err)
	restored.Dirty = true
	require.NoError(t, h.notes.Upsert(ctx, restored))
	payload, err := restored.MarshalPayload()
	require.NoError(t, err)
	require.NoError(t, h.outbox.Enqueue(ctx, "n1", models.OpCreate, payload))

	require.NoError(t, h.coord.TriggerSync(ctx))

	// the entry is re-sent under the same (id, op) key, which the remote
	// applies idempotently, and is then removed
	h.remote.mu.Lock()
	assert.Equal(t, 2, h.remote.applyCalls)
	require.Len(t, h.remote.lastOps, 1)
	assert.Equal(t, "n1", h.remote.lastOps[0].NoteID)
	assert.Equal(t, models.OpCreate, h.remote.lastOps[0].Op)
	h.remote.mu.Unlock()

	entries, err := h.outbox.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries, "redelivered entry removed on the next flush")

	got, err := h.notes.GetByID(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, got.Dirty)
	assert.Equal(t, "hello", got.Content)
}

func TestCycle_TransientFlushErrorLeavesQueueUntouched(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	h.remote.applyFn = func(ops []remote.BatchOp) ([]remote.BatchResult, error) {
		return nil, common.ErrTransientNetwork
	}

	enqueueNote(t, h, &models.Note{ID: "n1", UpdatedAt: 10}, models.OpCreate)

	err := h.coord.TriggerSync(ctx)
	assert.ErrorIs(t, err, common.ErrTransientNetwork)

	entries, err := h.outbox.Drain(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1, "nothing is removed on an indeterminate outcome")
	assert.Equal(t, 0, entries[0].RetryCount, "whole-call failures do not burn per-entry retries")

	assert.Equal(t, StateIdle, h.coord.State())
}

func TestCycle_RejectedEntriesRequeuedThenFailed(t *testing.T) {
	h := newHarness(t, testConfig()) // ceiling = 2
	ctx := context.Background()

	h.remote.applyFn = func(ops []remote.BatchOp) ([]remote.BatchResult, error) {
		results := make([]remote.BatchResult, 0, len(ops))
		for _, op := range ops {
			results = append(results, remote.BatchResult{
				NoteID: op.NoteID, Op: op.Op, Accepted: false, Reason: "schema mismatch",
			})
		}
		return results, nil
	}

	enqueueNote(t, h, &models.Note{ID: "poison", UpdatedAt: 10}, models.OpCreate)

	// first cycle: retry 1 of 2
	require.NoError(t, h.coord.TriggerSync(ctx))
	entries, err := h.outbox.Drain(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].RetryCount)

	// second cycle hits the ceiling: entry becomes a surfaced permanent failure
	require.NoError(t, h.coord.TriggerSync(ctx))
	entries, err = h.outbox.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed entries leave the drain path")

	failed, err := h.outbox.Failed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "poison", failed[0].NoteID)

	// third cycle sends nothing
	h.remote.mu.Lock()
	calls := h.remote.applyCalls
	h.remote.mu.Unlock()
	require.NoError(t, h.coord.TriggerSync(ctx))
	h.remote.mu.Lock()
	assert.Equal(t, calls, h.remote.applyCalls, "poison pill no longer flushed")
	h.remote.mu.Unlock()
}

func TestCycle_PartialResultAcksAndRequeues(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	h.remote.applyFn = func(ops []remote.BatchOp) ([]remote.BatchResult, error) {
		results := make([]remote.BatchResult, 0, len(ops))
		for _, op := range ops {
			results = append(results, remote.BatchResult{
				NoteID: op.NoteID, Op: op.Op,
				Accepted: op.NoteID == "good", UpdatedAt: 500, Reason: "rejected",
			})
		}
		return results, nil
	}

	enqueueNote(t, h, &models.Note{ID: "good", UpdatedAt: 10}, models.OpCreate)
	enqueueNote(t, h, &models.Note{ID: "bad", UpdatedAt: 11}, models.OpCreate)

	require.NoError(t, h.coord.TriggerSync(ctx))

	entries, err := h.outbox.Drain(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bad", entries[0].NoteID)
	assert.Equal(t, 1, entries[0].RetryCount)

	good, err := h.notes.GetByID(ctx, "good")
	require.NoError(t, err)
	assert.False(t, good.Dirty)
}

func TestCycle_AttachmentGating(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	require.NoError(t, h.attachments.Upsert(ctx, &models.Attachment{
		ID: "a1", NoteID: "n1", LocalPath: "voice.ogg", Mime: "audio/ogg",
		Status: models.UploadStatusPending,
	}))
	enqueueNote(t, h, &models.Note{ID: "n1", AttachmentIDs: []string{"a1"}, UpdatedAt: 10}, models.OpCreate)

	// upload fails transiently: the entry is skipped, not failed
	h.blobs.err = common.ErrTransientNetwork
	require.NoError(t, h.coord.TriggerSync(ctx))

	h.remote.mu.Lock()
	assert.Equal(t, 0, h.remote.applyCalls, "blocked entry never reaches the mutation API")
	h.remote.mu.Unlock()

	entries, err := h.outbox.Drain(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1, "blocked entry stays queued")

	// upload succeeds: the entry flushes with the remote reference attached
	h.blobs.mu.Lock()
	h.blobs.err = nil
	h.blobs.mu.Unlock()
	require.NoError(t, h.coord.TriggerSync(ctx))

	h.remote.mu.Lock()
	require.Equal(t, 1, h.remote.applyCalls)
	require.Len(t, h.remote.lastOps, 1)
	require.Len(t, h.remote.lastOps[0].Attachments, 1)
	assert.Equal(t, "blobs/voice.ogg", h.remote.lastOps[0].Attachments[0].RemoteRef)
	h.remote.mu.Unlock()

	a, err := h.attachments.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.UploadStatusUploaded, a.Status)
}

func TestCycle_MergeInsertOverwriteAndConflict(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	// fresh: unknown id inserted clean
	// clean: local clean copy overwritten by remote
	// localwin: dirty local copy newer than remote
	// remotewin: dirty local copy older than remote
	require.NoError(t, h.notes.Upsert(ctx, &models.Note{ID: "clean", Title: "old", Dirty: false, UpdatedAt: 10}))
	require.NoError(t, h.notes.Upsert(ctx, &models.Note{ID: "localwin", Title: "mine", Dirty: true, UpdatedAt: 100}))
	require.NoError(t, h.notes.Upsert(ctx, &models.Note{ID: "remotewin", Title: "mine", Dirty: true, UpdatedAt: 10}))

	h.remote.pullFn = func(updatedAfter int64) (*remote.PullResponse, error) {
		return &remote.PullResponse{
			Records: []models.RemoteNote{
				{ID: "fresh", UpdatedAt: 50, Payload: models.NotePayload{Title: "new"}},
				{ID: "clean", UpdatedAt: 60, Payload: models.NotePayload{Title: "server"}},
				{ID: "localwin", UpdatedAt: 70, Payload: models.NotePayload{Title: "theirs"}},
				{ID: "remotewin", UpdatedAt: 80, Payload: models.NotePayload{Title: "theirs"}},
			},
			NextCursor: 80,
		}, nil
	}

	require.NoError(t, h.coord.TriggerSync(ctx))

	fresh, err := h.notes.GetByID(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "new", fresh.Title)
	assert.False(t, fresh.Dirty)

	clean, err := h.notes.GetByID(ctx, "clean")
	require.NoError(t, err)
	assert.Equal(t, "server", clean.Title)

	localwin, err := h.notes.GetByID(ctx, "localwin")
	require.NoError(t, err)
	assert.Equal(t, "mine", localwin.Title)
	assert.True(t, localwin.Dirty)

	remotewin, err := h.notes.GetByID(ctx, "remotewin")
	require.NoError(t, err)
	assert.Equal(t, "theirs", remotewin.Title)
	assert.False(t, remotewin.Dirty)

	cursor, err := h.metadata.GetInt64(ctx, metadata.KeyCursor)
	require.NoError(t, err)
	assert.Equal(t, int64(80), cursor)
}

func TestCycle_MergeIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	records := []models.RemoteNote{
		{ID: "n1", UpdatedAt: 50, Payload: models.NotePayload{Title: "one"}},
		{ID: "n2", UpdatedAt: 60, Payload: models.NotePayload{Title: "two"}},
	}
	h.remote.pullFn = func(updatedAfter int64) (*remote.PullResponse, error) {
		// redeliver the same batch regardless of cursor, simulating a crash
		// between pull and cursor commit
		return &remote.PullResponse{Records: records, NextCursor: 60}, nil
	}

	require.NoError(t, h.coord.TriggerSync(ctx))
	first, err := h.notes.List(ctx)
	require.NoError(t, err)

	require.NoError(t, h.coord.TriggerSync(ctx))
	second, err := h.notes.List(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second, "re-applying the same pulled batch changes nothing")
}

func TestTriggerSync_SecondConcurrentCallIsNoOp(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	release := make(chan struct{})
	entered := make(chan struct{})
	h.remote.pullFn = func(updatedAfter int64) (*remote.PullResponse, error) {
		close(entered)
		<-release
		return &remote.PullResponse{}, nil
	}

	done := make(chan error, 1)
	go func() { done <- h.coord.TriggerSync(ctx) }()

	<-entered
	assert.Equal(t, StatePulling, h.coord.State())

	// second trigger while a cycle is in flight is coalesced into a no-op
	require.NoError(t, h.coord.TriggerSync(ctx))

	h.remote.mu.Lock()
	assert.Equal(t, 1, h.remote.pullCalls)
	h.remote.mu.Unlock()

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, h.coord.State())
}

func TestCycle_PurgesAcknowledgedTombstones(t *testing.T) {
	cfg := testConfig()
	cfg.TombstoneRetention = time.Millisecond
	h := newHarness(t, cfg)
	ctx := context.Background()

	// acknowledged tombstone well past the retention window
	require.NoError(t, h.notes.Upsert(ctx, &models.Note{ID: "gone", Deleted: true, Dirty: false, UpdatedAt: 1}))
	// unacknowledged tombstone stays
	require.NoError(t, h.notes.Upsert(ctx, &models.Note{ID: "pending", Deleted: true, Dirty: true, UpdatedAt: 1}))

	require.NoError(t, h.coord.TriggerSync(ctx))

	_, err := h.notes.GetByID(ctx, "gone")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = h.notes.GetByID(ctx, "pending")
	assert.NoError(t, err)
}

func TestCycle_DeleteFlushKeepsTombstoneUntilPurge(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	n := &models.Note{ID: "n1", Title: "bye", UpdatedAt: 10}
	enqueueNote(t, h, n, models.OpCreate)
	require.NoError(t, h.coord.TriggerSync(ctx))

	require.NoError(t, h.notes.SoftDelete(ctx, "n1", 20))
	require.NoError(t, h.outbox.Enqueue(ctx, "n1", models.OpDelete, nil))

	require.NoError(t, h.coord.TriggerSync(ctx))

	got, err := h.notes.GetByID(ctx, "n1")
	require.NoError(t, err)
	assert.True(t, got.Deleted, "tombstone is retained after acknowledgment")
	assert.False(t, got.Dirty, "acknowledged tombstone is clean and purgeable")
}
