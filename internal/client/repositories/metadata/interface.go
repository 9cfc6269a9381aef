package metadata

import (
	"context"
)

// Repository is a small durable key/value table for sync bookkeeping such
// as the pull cursor.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// GetInt64 returns the value parsed as a decimal int64, or 0 when the
	// key is absent.
	GetInt64(ctx context.Context, key string) (int64, error)
	SetInt64(ctx context.Context, key string, value int64) error
}

// KeyCursor is the metadata key holding the last committed pull cursor.
const KeyCursor = "sync_cursor"

// KeyDeviceID is the metadata key holding this replica's generated id.
const KeyDeviceID = "device_id"
