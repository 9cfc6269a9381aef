package models

// Operation is the kind of mutation recorded in the outbox.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// OutboxEntry is a durably queued local mutation awaiting remote
// acknowledgment. Entries are ordered by Seq, assigned at enqueue time.
type OutboxEntry struct {
	// Seq is a strictly increasing sequence number. Coalescing preserves
	// the earliest Seq of the group so FIFO ordering across notes holds.
	Seq int64

	NoteID string
	Op     Operation

	// Payload is the JSON NotePayload snapshot taken at enqueue time.
	// Empty for deletes.
	Payload []byte

	RetryCount int

	// EnqueuedAt is the unix-millisecond time the entry (or the first entry
	// it was coalesced into) was created.
	EnqueuedAt int64

	// Failed marks the entry as permanently failed after the retry ceiling;
	// it is no longer drained and must be surfaced to the caller.
	Failed bool

	// InFlight marks an entry currently handed to a flush. In-flight entries
	// are excluded from coalescing: a local edit made while the entry is on
	// the wire lands in a fresh entry, so acknowledging the drained snapshot
	// can never swallow the edit.
	InFlight bool

	// Sent records that the entry has been handed to at least one flush. A
	// delete only collapses a queued create when Sent is false; once the
	// create may have reached the server, the delete must be sent.
	Sent bool
}
