// Package sync implements the offline-first synchronization engine: the
// cycle coordinator, the conflict resolver, and the attachment uploader.
package sync

import (
	"github.com/dkocetkov/notesync/internal/client/models"
)

// Resolution is the outcome of resolving a local/remote conflict. Winner is
// the version to store; RemoteWon reports which side prevailed.
type Resolution struct {
	Winner    *models.Note
	RemoteWon bool
}

// Resolve applies last-write-wins by updated_at to a locally dirty note and
// a concurrently changed remote record. Ties prefer the remote version: the
// server is presumed authoritative once it acknowledged a write, which
// avoids two stable replicas overriding each other forever.
//
// The function is pure; callers persist the winner.
func Resolve(local *models.Note, remote *models.RemoteNote) Resolution {
	if remote.UpdatedAt >= local.UpdatedAt {
		winner := remote.Note()
		winner.LastSyncedAt = remote.UpdatedAt
		return Resolution{Winner: winner, RemoteWon: true}
	}

	// Local wins: it stays dirty and is re-sent on the next flush. Its
	// timestamp is already past the rejected remote value, so it keeps
	// winning only while it is genuinely newer; no override loop when both
	// sides go quiet.
	winner := *local
	winner.Dirty = true
	if winner.UpdatedAt <= remote.UpdatedAt {
		winner.UpdatedAt = remote.UpdatedAt + 1
	}
	return Resolution{Winner: &winner, RemoteWon: false}
}
