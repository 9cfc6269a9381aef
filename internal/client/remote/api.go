// Package remote defines the narrow contracts the sync engine depends on:
// the remote mutation/query API, the attachment blob store, and the AI
// enrichment service. Implementations live elsewhere; the engine only sees
// these interfaces.
package remote

import (
	"context"

	"github.com/dkocetkov/notesync/internal/client/models"
)

// BatchOp is one mutation in a flush batch, keyed by note id + operation.
// The remote contract requires idempotency per (id, op) pair under retried
// delivery.
type BatchOp struct {
	NoteID      string                 `json:"id"`
	Op          models.Operation       `json:"op"`
	Payload     *models.NotePayload    `json:"payload,omitempty"`
	Attachments []models.AttachmentRef `json:"attachments,omitempty"`
}

// BatchResult is the per-op outcome of an ApplyBatch call. UpdatedAt is the
// server-assigned timestamp for accepted ops.
type BatchResult struct {
	NoteID    string           `json:"id"`
	Op        models.Operation `json:"op"`
	Accepted  bool             `json:"accepted"`
	Reason    string           `json:"reason,omitempty"`
	UpdatedAt int64            `json:"updated_at,omitempty"`
}

// PullResponse carries remote records changed since the requested cursor.
type PullResponse struct {
	Records    []models.RemoteNote `json:"records"`
	NextCursor int64               `json:"next_cursor"`
}

// MutationAPI applies batched, idempotent mutations remotely. A partial
// result (some ops accepted, some rejected) is a successful call.
type MutationAPI interface {
	ApplyBatch(ctx context.Context, ops []BatchOp) ([]BatchResult, error)
}

// QueryAPI pulls remote records with updated_at > updatedAfter.
type QueryAPI interface {
	Pull(ctx context.Context, updatedAfter int64) (*PullResponse, error)
}

// BlobStore uploads an attachment's bytes and returns its stable remote
// reference. Failures distinguish transient (common.ErrTransientNetwork)
// from permanent (common.ErrAttachmentUpload) via errors.Is.
type BlobStore interface {
	Upload(ctx context.Context, localPath, mime string) (string, error)
}

// Enricher derives AI fields for a note's content. Invoked by the caller
// after the content is stable; results flow back through the regular store
// and outbox path.
type Enricher interface {
	Enrich(ctx context.Context, text string) (*models.Enrichment, error)
}
