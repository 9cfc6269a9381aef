// Package common defines shared constants and sentinel errors used across
// client and server layers of notesync. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Sync taxonomy. A transient network failure aborts the current cycle
	// and is retried with backoff; a remote rejection is entry-level and is
	// requeued up to a ceiling; past the ceiling the entry becomes a
	// permanent failure surfaced to the caller.
	ErrTransientNetwork = errors.New("transient network error")
	ErrRemoteRejected   = errors.New("remote rejected")
	ErrPermanentFailure = errors.New("permanent failure")

	// Attachment errors. An upload failure blocks the outbox entries that
	// reference the attachment, never the whole batch.
	ErrAttachmentUpload   = errors.New("attachment upload failed")
	ErrAttachmentNotReady = errors.New("attachment not uploaded yet")

	// Entity-level serialization or store corruption. Fatal to the affected
	// record only; a sync cycle keeps processing the rest.
	ErrCorruptRecord = errors.New("corrupt record")
)
