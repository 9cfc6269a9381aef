// Package services implements the client-facing note operations. Every
// mutation applies optimistically to the local store and enqueues an outbox
// entry in the same transaction, so the mutation and its pending sync record
// can never diverge.
package services

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/dkocetkov/notesync/internal/client/models"
	"github.com/dkocetkov/notesync/internal/client/repositories/attachments"
	"github.com/dkocetkov/notesync/internal/client/repositories/notes"
	"github.com/dkocetkov/notesync/internal/client/repositories/outbox"
	"github.com/dkocetkov/notesync/internal/dbx"
	"github.com/dkocetkov/notesync/internal/filex"
	"github.com/google/uuid"
)

type NoteService interface {
	Add(ctx context.Context, title, content string) (*models.Note, error)
	Update(ctx context.Context, id, title, content string) (*models.Note, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.Note, error)
	List(ctx context.Context) ([]models.Note, error)
	AttachFile(ctx context.Context, noteID, srcPath, mime string) (*models.Attachment, error)
	ApplyEnrichment(ctx context.Context, id string, e models.Enrichment) error
}

type noteService struct {
	db             *sql.DB
	noteRepo       notes.Repository
	attachmentRepo attachments.Repository
	stagingDir     string
}

// NewNoteService returns a NoteService. stagingDir is where attachment
// binaries are copied to await upload.
func NewNoteService(db *sql.DB, noteRepo notes.Repository, attachmentRepo attachments.Repository, stagingDir string) NoteService {
	return &noteService{db: db, noteRepo: noteRepo, attachmentRepo: attachmentRepo, stagingDir: stagingDir}
}

func (s *noteService) Add(ctx context.Context, title, content string) (*models.Note, error) {
	n := &models.Note{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   content,
		Dirty:     true,
		UpdatedAt: models.BumpTimestamp(0),
	}

	if err := s.saveAndEnqueue(ctx, n, models.OpCreate); err != nil {
		return nil, fmt.Errorf("error adding note: %w", err)
	}
	return n, nil
}

func (s *noteService) Update(ctx context.Context, id, title, content string) (*models.Note, error) {
	n, err := s.noteRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error retrieving note: %w", err)
	}

	n.Title = title
	n.Content = content
	n.Dirty = true
	n.UpdatedAt = models.BumpTimestamp(n.UpdatedAt)

	if err := s.saveAndEnqueue(ctx, n, models.OpUpdate); err != nil {
		return nil, fmt.Errorf("error updating note: %w", err)
	}
	return n, nil
}

func (s *noteService) Delete(ctx context.Context, id string) error {
	n, err := s.noteRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("error retrieving note: %w", err)
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := notes.NewSQLiteRepository(tx).SoftDelete(ctx, id, models.BumpTimestamp(n.UpdatedAt)); err != nil {
			return err
		}
		return outbox.NewSQLiteRepository(tx).Enqueue(ctx, id, models.OpDelete, nil)
	})
	if err != nil {
		return fmt.Errorf("error deleting note: %w", err)
	}
	return nil
}

func (s *noteService) Get(ctx context.Context, id string) (*models.Note, error) {
	n, err := s.noteRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error retrieving note: %w", err)
	}
	return n, nil
}

func (s *noteService) List(ctx context.Context) ([]models.Note, error) {
	rows, err := s.noteRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing notes: %w", err)
	}
	return rows, nil
}

// AttachFile stages a copy of srcPath, records a pending attachment and
// enqueues the owning note's update. The upload itself happens later, on the
// sync path; the referencing mutation stays queued until the upload lands.
func (s *noteService) AttachFile(ctx context.Context, noteID, srcPath, mime string) (*models.Attachment, error) {
	n, err := s.noteRepo.GetByID(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("error retrieving note: %w", err)
	}

	a := &models.Attachment{
		ID:     uuid.NewString(),
		NoteID: noteID,
		Mime:   mime,
		Status: models.UploadStatusPending,
	}

	a.LocalPath = filepath.Join(s.stagingDir, a.ID)
	if _, err := filex.CopyFile(srcPath, a.LocalPath); err != nil {
		return nil, fmt.Errorf("error staging attachment: %w", err)
	}

	n.AttachmentIDs = append(n.AttachmentIDs, a.ID)
	n.Dirty = true
	n.UpdatedAt = models.BumpTimestamp(n.UpdatedAt)

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := attachments.NewSQLiteRepository(tx).Upsert(ctx, a); err != nil {
			return err
		}
		return saveAndEnqueueTx(ctx, tx, n, models.OpUpdate)
	})
	if err != nil {
		return nil, fmt.Errorf("error attaching file: %w", err)
	}
	return a, nil
}

// ApplyEnrichment overwrites the note's derived fields wholesale and queues
// the change like any other edit.
func (s *noteService) ApplyEnrichment(ctx context.Context, id string, e models.Enrichment) error {
	n, err := s.noteRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("error retrieving note: %w", err)
	}

	n.Enrichment = e
	n.Dirty = true
	n.UpdatedAt = models.BumpTimestamp(n.UpdatedAt)

	if err := s.saveAndEnqueue(ctx, n, models.OpUpdate); err != nil {
		return fmt.Errorf("error applying enrichment: %w", err)
	}
	return nil
}

func (s *noteService) saveAndEnqueue(ctx context.Context, n *models.Note, op models.Operation) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return saveAndEnqueueTx(ctx, tx, n, op)
	})
}

func saveAndEnqueueTx(ctx context.Context, tx dbx.DBTX, n *models.Note, op models.Operation) error {
	if err := notes.NewSQLiteRepository(tx).Upsert(ctx, n); err != nil {
		return err
	}
	payload, err := n.MarshalPayload()
	if err != nil {
		return err
	}
	return outbox.NewSQLiteRepository(tx).Enqueue(ctx, n.ID, op, payload)
}
