package cli

import (
	"bufio"
	"context"
	"log"
	"os"
	"time"

	"github.com/dkocetkov/notesync/internal/client/app"
	"github.com/dkocetkov/notesync/internal/client/config"
	"github.com/dkocetkov/notesync/internal/client/remote"
	"github.com/dkocetkov/notesync/internal/client/services"
	clisync "github.com/dkocetkov/notesync/internal/client/sync"
	"github.com/dkocetkov/notesync/internal/enrich"
	"github.com/dkocetkov/notesync/internal/filex"
	"github.com/dkocetkov/notesync/internal/logging"
	"github.com/google/uuid"

	"github.com/dkocetkov/notesync/internal/client/repositories/metadata"
	"github.com/dkocetkov/notesync/internal/client/repositories/outbox"
)

// App wires the local store, sync engine and note service behind a small
// interactive shell.
type App struct {
	config      *config.Config
	noteService services.NoteService
	coordinator *clisync.Coordinator
	outbox      outbox.Repository
	enricher    remote.Enricher
	logger      logging.Logger
	reader      *bufio.Reader
}

func NewApp(c *config.Config) (*App, error) {

	ctx := context.Background()
	logger := logging.NewDefault()

	repos, err := app.InitDatabase(ctx, c.DatabasePath)
	if err != nil {
		log.Printf("error initializing database: %s", err.Error())
		return nil, err
	}

	stagingDir, err := filex.EnsureSubDir("", c.StagingDir)
	if err != nil {
		return nil, err
	}

	deviceID, err := resolveDeviceID(ctx, c, repos.Metadata)
	if err != nil {
		return nil, err
	}

	apiClient := remote.NewHTTPClient(c.ServerURL, c.AuthToken, deviceID)
	uploader := clisync.NewUploader(repos.Attachments, apiClient, logger, c.RetryCeiling)

	syncCfg := clisync.DefaultConfig()
	syncCfg.BatchSize = c.BatchSize
	syncCfg.CallTimeout = c.CallTimeout
	syncCfg.RetryCeiling = c.RetryCeiling
	syncCfg.TombstoneRetention = c.TombstoneRetention

	coordinator := clisync.NewCoordinator(clisync.Stores{
		DB:          repos.DB,
		Notes:       repos.Notes,
		Outbox:      repos.Outbox,
		Attachments: repos.Attachments,
		Metadata:    repos.Metadata,
	}, apiClient, apiClient, uploader, logger, syncCfg)

	a := &App{
		config:      c,
		noteService: services.NewNoteService(repos.DB, repos.Notes, repos.Attachments, stagingDir),
		coordinator: coordinator,
		outbox:      repos.Outbox,
		logger:      logger,
		reader:      bufio.NewReader(os.Stdin),
	}

	if c.AnthropicAPIKey != "" {
		enricher, err := enrich.New(c.AnthropicAPIKey, "", logger)
		if err != nil {
			return nil, err
		}
		a.enricher = enricher
	}

	return a, nil
}

// resolveDeviceID prefers the configured id, falling back to a generated one
// persisted in metadata so the replica keeps its identity across restarts.
func resolveDeviceID(ctx context.Context, c *config.Config, repo metadata.Repository) (string, error) {
	if c.DeviceID != "" {
		return c.DeviceID, nil
	}
	stored, err := repo.Get(ctx, metadata.KeyDeviceID)
	if err != nil {
		return "", err
	}
	if len(stored) > 0 {
		return string(stored), nil
	}
	id := uuid.NewString()
	if err := repo.Set(ctx, metadata.KeyDeviceID, []byte(id)); err != nil {
		return "", err
	}
	return id, nil
}

// Run starts the background sync loop and the interactive shell. It returns
// when the user exits or ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.coordinator.Run(ctx, a.config.SyncInterval)

	a.Root(ctx)
}

// StartSyncWatcher periodically reports permanently failed outbox entries so
// they do not rot unseen. Runs until ctx is cancelled.
func (a *App) StartSyncWatcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.reportFailed(ctx)
		case <-ctx.Done():
			return
		}
	}
}
