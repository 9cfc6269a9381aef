package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dkocetkov/notesync/internal/flagx"
	"github.com/dkocetkov/notesync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "30s" or as integer nanoseconds. After parsing, values
// are copied into the runtime Config (which uses time.Duration).
type JsonConfig struct {
	ServerURL          string         `json:"server_url"`
	DatabasePath       string         `json:"database_path"`
	StagingDir         string         `json:"staging_dir"`
	DeviceID           string         `json:"device_id"`
	AuthToken          string         `json:"auth_token"`
	SyncInterval       timex.Duration `json:"sync_interval"`
	CallTimeout        timex.Duration `json:"call_timeout"`
	TombstoneRetention timex.Duration `json:"tombstone_retention"`
	RetryCeiling       int            `json:"retry_ceiling"`
	BatchSize          int            `json:"batch_size"`
	AnthropicAPIKey    string         `json:"anthropic_api_key"`
}

// parseJson overlays Config with values loaded from a JSON file.
//
// Lookup order for the JSON file path:
//  1. Command-line flags (-c or -config) via flagx.JsonConfigFlags().
//  2. If empty, no JSON is loaded and the function returns.
//
// Zero-valued JSON fields leave the existing Config value untouched, so a
// partial file only overrides what it names. Intended usage is:
// defaults -> parseJson -> parseFlags, where later stages override earlier
// ones.
func parseJson(cfg *Config) {
	// Resolve file path from flags.
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerURL != "" {
		cfg.ServerURL = jc.ServerURL
	}
	if jc.DatabasePath != "" {
		cfg.DatabasePath = jc.DatabasePath
	}
	if jc.StagingDir != "" {
		cfg.StagingDir = jc.StagingDir
	}
	if jc.DeviceID != "" {
		cfg.DeviceID = jc.DeviceID
	}
	if jc.AuthToken != "" {
		cfg.AuthToken = jc.AuthToken
	}
	if jc.SyncInterval.Duration > 0 {
		cfg.SyncInterval = time.Duration(jc.SyncInterval.Duration)
	}
	if jc.CallTimeout.Duration > 0 {
		cfg.CallTimeout = time.Duration(jc.CallTimeout.Duration)
	}
	if jc.TombstoneRetention.Duration > 0 {
		cfg.TombstoneRetention = time.Duration(jc.TombstoneRetention.Duration)
	}
	if jc.RetryCeiling > 0 {
		cfg.RetryCeiling = jc.RetryCeiling
	}
	if jc.BatchSize > 0 {
		cfg.BatchSize = jc.BatchSize
	}
	if jc.AnthropicAPIKey != "" {
		cfg.AnthropicAPIKey = jc.AnthropicAPIKey
	}
}
