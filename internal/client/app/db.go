// Package app bootstraps the client's local database and repositories.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dkocetkov/notesync/internal/client/migrations"
	"github.com/dkocetkov/notesync/internal/client/repositories/attachments"
	"github.com/dkocetkov/notesync/internal/client/repositories/metadata"
	"github.com/dkocetkov/notesync/internal/client/repositories/notes"
	"github.com/dkocetkov/notesync/internal/client/repositories/outbox"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// Repositories bundles the local store handles shared by the services and
// the sync coordinator.
type Repositories struct {
	DB          *sql.DB
	Notes       notes.Repository
	Outbox      outbox.Repository
	Attachments attachments.Repository
	Metadata    metadata.Repository
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// InitDatabase opens (or creates) the sqlite database at dsn, migrates it
// and returns the repository set bound to it.
func InitDatabase(ctx context.Context, dsn string) (*Repositories, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(ctx, db); err != nil {
		return nil, err
	}

	return &Repositories{
		DB:          db,
		Notes:       notes.NewSQLiteRepository(db),
		Outbox:      outbox.NewSQLiteRepository(db),
		Attachments: attachments.NewSQLiteRepository(db),
		Metadata:    metadata.NewSQLiteRepository(db),
	}, nil
}
