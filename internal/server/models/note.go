// Package models defines server-side data models.
package models

// Note is the authoritative server copy of a synced record. Payload is the
// client-authored document stored as raw JSON; the server orders records but
// never interprets their contents.
type Note struct {
	ID        string
	Deleted   bool
	Payload   []byte
	UpdatedAt int64
}
