// Package models defines client-side data models used by the notesync engine.
package models

import (
	"encoding/json"
	"time"
)

// Note is a locally stored entity synced with the server. User-authored
// fields (Title, Content) and AI-derived fields (Enrichment) live in the
// same record; derived fields are overwritten wholesale on each enrichment
// pass, never merged field-by-field.
type Note struct {
	// ID is a globally unique, client-generated identifier. Once created
	// it never changes owner.
	ID string

	// Title and Content are user-authored.
	Title   string
	Content string

	// Enrichment holds AI-derived fields for the current content.
	Enrichment Enrichment

	// AttachmentIDs references binary payloads owned by this note.
	AttachmentIDs []string

	// Dirty marks local changes not yet acknowledged by the server.
	Dirty bool

	// Deleted marks the note as a tombstone (kept until the deletion is
	// confirmed remotely and the retention window passes).
	Deleted bool

	// UpdatedAt is a monotonically advancing unix-millisecond timestamp set
	// on every local or remote write. It is the conflict tiebreaker.
	UpdatedAt int64

	// LastSyncedAt is the logical timestamp of the last successful
	// reconciliation with the server.
	LastSyncedAt int64
}

// NotePayload is the wire and outbox-snapshot form of a note's versioned
// payload.
type NotePayload struct {
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	Enrichment    Enrichment `json:"enrichment"`
	AttachmentIDs []string   `json:"attachment_ids,omitempty"`
	UpdatedAt     int64      `json:"updated_at"`
}

// Payload snapshots the note's current payload fields.
func (n *Note) Payload() NotePayload {
	return NotePayload{
		Title:         n.Title,
		Content:       n.Content,
		Enrichment:    n.Enrichment,
		AttachmentIDs: n.AttachmentIDs,
		UpdatedAt:     n.UpdatedAt,
	}
}

// MarshalPayload serializes the note payload for an outbox snapshot.
func (n *Note) MarshalPayload() ([]byte, error) {
	return json.Marshal(n.Payload())
}

// RemoteNote is a record as returned by the server's pull endpoint.
type RemoteNote struct {
	ID        string      `json:"id"`
	Deleted   bool        `json:"deleted"`
	Payload   NotePayload `json:"payload"`
	UpdatedAt int64       `json:"updated_at"`
}

// Note converts a pulled remote record into a clean local note.
func (r *RemoteNote) Note() *Note {
	return &Note{
		ID:            r.ID,
		Title:         r.Payload.Title,
		Content:       r.Payload.Content,
		Enrichment:    r.Payload.Enrichment,
		AttachmentIDs: r.Payload.AttachmentIDs,
		Deleted:       r.Deleted,
		UpdatedAt:     r.UpdatedAt,
	}
}

// BumpTimestamp returns the current unix-millisecond time, advanced past
// prev if the wall clock lags. Keeps UpdatedAt strictly increasing per
// record under clock skew.
func BumpTimestamp(prev int64) int64 {
	now := time.Now().UnixMilli()
	if now <= prev {
		return prev + 1
	}
	return now
}
