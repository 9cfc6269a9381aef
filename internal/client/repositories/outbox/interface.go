package outbox

import (
	"context"

	"github.com/dkocetkov/notesync/internal/client/models"
)

// Repository is the durable queue of pending local mutations. Entries are
// ordered by sequence number and survive process restart. An entry is only
// ever removed on explicit remote acknowledgment or when coalescing
// subsumes it.
type Repository interface {
	// Enqueue appends a mutation, or coalesces it into the live entry for
	// the same note: a later update replaces the payload in place (keeping
	// the earliest sequence number so FIFO order across notes holds), a
	// delete supersedes any queued create/update, and a delete of a
	// never-flushed create collapses to a queue no-op. An in-flight entry is
	// never a coalescing target — an edit made while that entry is on the
	// wire starts a fresh entry instead. Never touches the network.
	Enqueue(ctx context.Context, noteID string, op models.Operation, payload []byte) error

	// Drain marks up to maxBatch non-failed entries in flight, at most one
	// per note, and returns them in sequence order without removing them.
	// Removal is explicit, post-acknowledgment. Entries left in flight by an
	// interrupted flush are drained again, so a crash between drain and
	// acknowledgment only ever re-sends.
	Drain(ctx context.Context, maxBatch int) ([]*models.OutboxEntry, error)

	// Acknowledge atomically removes the given entries.
	Acknowledge(ctx context.Context, seqs []int64) error

	// Release clears the in-flight mark on the given entries once a flush is
	// over, making them coalescing targets again. Already-acknowledged seqs
	// are skipped harmlessly.
	Release(ctx context.Context, seqs []int64) error

	// Requeue increments the entry's retry count, leaving it in place for a
	// later drain, and returns the new count.
	Requeue(ctx context.Context, seq int64) (int, error)

	// MarkFailed flags the entry as permanently failed so it is no longer
	// drained. Failed entries are surfaced via Failed.
	MarkFailed(ctx context.Context, seq int64) error

	// Failed lists permanently failed entries for reporting.
	Failed(ctx context.Context) ([]*models.OutboxEntry, error)

	// Pending returns the oldest live (non-failed) entry for a note, or nil.
	// Outside a flush coalescing guarantees at most one exists; during a
	// flush an in-flight entry and one fresh entry may coexist.
	Pending(ctx context.Context, noteID string) (*models.OutboxEntry, error)
}
