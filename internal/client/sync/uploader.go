package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"

	"github.com/dkocetkov/notesync/internal/client/models"
	"github.com/dkocetkov/notesync/internal/client/repositories/attachments"
	"github.com/dkocetkov/notesync/internal/client/remote"
	"github.com/dkocetkov/notesync/internal/common"
	"github.com/dkocetkov/notesync/internal/logging"
)

// Uploader moves attachment binaries to the blob store ahead of the outbox
// entries that reference them. At most one upload is in flight per
// attachment id; concurrent callers share the same outcome.
type Uploader struct {
	repo       attachments.Repository
	store      remote.BlobStore
	logger     logging.Logger
	maxRetries int

	mu       stdsync.Mutex
	inflight map[string]*uploadCall
}

type uploadCall struct {
	done chan struct{}
	ref  string
	err  error
}

// NewUploader returns an Uploader. maxRetries is the per-attachment ceiling
// after which a transient failure is treated as permanent.
func NewUploader(repo attachments.Repository, store remote.BlobStore, logger logging.Logger, maxRetries int) *Uploader {
	return &Uploader{
		repo:       repo,
		store:      store,
		logger:     logger,
		maxRetries: maxRetries,
		inflight:   make(map[string]*uploadCall),
	}
}

// EnsureUploaded returns the attachment's remote reference, uploading it
// first if needed. If the attachment is already uploaded the reference is
// returned immediately. A failed upload leaves the attachment retryable
// (pending) for transient errors or failed for permanent ones; either way
// the error is reported so the caller can skip dependent outbox entries.
func (u *Uploader) EnsureUploaded(ctx context.Context, id string) (string, error) {
	u.mu.Lock()
	if call, ok := u.inflight[id]; ok {
		u.mu.Unlock()
		select {
		case <-call.done:
			return call.ref, call.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	call := &uploadCall{done: make(chan struct{})}
	u.inflight[id] = call
	u.mu.Unlock()

	call.ref, call.err = u.upload(ctx, id)
	close(call.done)

	u.mu.Lock()
	delete(u.inflight, id)
	u.mu.Unlock()

	return call.ref, call.err
}

func (u *Uploader) upload(ctx context.Context, id string) (string, error) {
	a, err := u.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}

	switch a.Status {
	case models.UploadStatusUploaded:
		return a.RemoteRef, nil
	case models.UploadStatusFailed:
		if a.RetryCount >= u.maxRetries {
			return "", fmt.Errorf("%w: attachment %s gave up after %d attempts", common.ErrAttachmentUpload, id, a.RetryCount)
		}
	}

	if err := u.repo.SetStatus(ctx, id, models.UploadStatusUploading, ""); err != nil {
		return "", err
	}

	ref, uploadErr := u.store.Upload(ctx, a.LocalPath, a.Mime)
	if uploadErr == nil {
		if err := u.repo.SetStatus(ctx, id, models.UploadStatusUploaded, ref); err != nil {
			return "", err
		}
		u.logger.Info(ctx, "attachment uploaded", "attachment", id, "ref", ref)
		return ref, nil
	}

	count, err := u.repo.IncrementRetry(ctx, id)
	if err != nil {
		return "", err
	}

	if errors.Is(uploadErr, common.ErrTransientNetwork) && count < u.maxRetries {
		// retryable next cycle
		if err := u.repo.SetStatus(ctx, id, models.UploadStatusPending, ""); err != nil {
			return "", err
		}
		u.logger.Warn(ctx, "attachment upload failed, will retry", "attachment", id, "attempt", count, "err", uploadErr)
		return "", fmt.Errorf("%w: %v", common.ErrAttachmentNotReady, uploadErr)
	}

	if err := u.repo.SetStatus(ctx, id, models.UploadStatusFailed, ""); err != nil {
		return "", err
	}
	u.logger.Error(ctx, "attachment upload failed permanently", "attachment", id, "attempt", count, "err", uploadErr)
	return "", fmt.Errorf("%w: %v", common.ErrAttachmentUpload, uploadErr)
}
