package config

import "time"

// Config holds runtime settings for the notesync client.
//
// Units: intervals and timeouts are time.Duration values.
type Config struct {
	// ServerURL is the base URL of the sync backend.
	ServerURL string

	// DatabasePath is the sqlite file backing the local store.
	DatabasePath string

	// StagingDir is where attachment binaries are copied to await upload.
	StagingDir string

	// DeviceID identifies this replica in sync requests.
	DeviceID string

	// AuthToken is sent with every sync request.
	AuthToken string

	// SyncInterval is how often a background sync cycle is triggered.
	SyncInterval time.Duration

	// CallTimeout bounds each remote call.
	CallTimeout time.Duration

	// TombstoneRetention is how long acknowledged tombstones are kept.
	TombstoneRetention time.Duration

	// RetryCeiling is the per-entry requeue limit before an outbox entry is
	// marked permanently failed.
	RetryCeiling int

	// BatchSize caps outbox entries flushed per cycle.
	BatchSize int

	// AnthropicAPIKey enables note enrichment when set.
	AnthropicAPIKey string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.DatabasePath = "notesync.db"
	c.StagingDir = "attachments"
	c.SyncInterval = 30 * time.Second
	c.CallTimeout = 15 * time.Second
	c.TombstoneRetention = 7 * 24 * time.Hour
	c.RetryCeiling = 5
	c.BatchSize = 100
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
