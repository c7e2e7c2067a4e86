package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "catalog:\n  base_url: https://catalog.example\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Offline.CacheMaxEntries != 100 {
		t.Errorf("CacheMaxEntries = %d, want 100", cfg.Offline.CacheMaxEntries)
	}
	if cfg.Offline.EntrySizeEstimateMB != 1.1 {
		t.Errorf("EntrySizeEstimateMB = %v, want 1.1", cfg.Offline.EntrySizeEstimateMB)
	}
	if cfg.Offline.CheckpointBatch != 10 {
		t.Errorf("CheckpointBatch = %d, want 10", cfg.Offline.CheckpointBatch)
	}
	if got := cfg.Offline.GetCheckpointMaxAge(); got != 24*time.Hour {
		t.Errorf("GetCheckpointMaxAge() = %v, want 24h", got)
	}
	if got := cfg.Offline.GetResultListFreshFor(); got != 5*time.Minute {
		t.Errorf("GetResultListFreshFor() = %v, want 5m", got)
	}
	if got := cfg.Prefetch.GetQuietPeriod(); got != 200*time.Millisecond {
		t.Errorf("GetQuietPeriod() = %v, want 200ms", got)
	}
	if cfg.Prefetch.Range != 2 {
		t.Errorf("Prefetch.Range = %d, want 2", cfg.Prefetch.Range)
	}
	if got := cfg.Maintenance.GetCleanupInterval(); got != 10*time.Minute {
		t.Errorf("GetCleanupInterval() = %v, want 10m", got)
	}
	if got := cfg.Storage.GetDatabasePath(); got != filepath.Join("./data", "offline.db") {
		t.Errorf("GetDatabasePath() = %q", got)
	}
	if got := cfg.GetSettingsPath(); got != filepath.Join("./data", "settings.yaml") {
		t.Errorf("GetSettingsPath() = %q", got)
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
catalog:
  base_url: https://catalog.example
  api_token: secret
  timeout: 5s
  selection_ttl: 1m
storage:
  database_path: /tmp/x.db
  blob_path: /tmp/x.bolt
offline:
  checkpoint_batch: 25
prefetch:
  range: 4
  workers: 2
logging:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Catalog.APIToken != "secret" {
		t.Errorf("APIToken = %q, want secret", cfg.Catalog.APIToken)
	}
	if got := cfg.Catalog.GetTimeout(); got != 5*time.Second {
		t.Errorf("GetTimeout() = %v, want 5s", got)
	}
	if got := cfg.Catalog.GetSelectionTTL(); got != time.Minute {
		t.Errorf("GetSelectionTTL() = %v, want 1m", got)
	}
	if got := cfg.Storage.GetDatabasePath(); got != "/tmp/x.db" {
		t.Errorf("GetDatabasePath() = %q, want /tmp/x.db", got)
	}
	if got := cfg.Storage.GetBlobPath(); got != "/tmp/x.bolt" {
		t.Errorf("GetBlobPath() = %q, want /tmp/x.bolt", got)
	}
	if cfg.Offline.CheckpointBatch != 25 {
		t.Errorf("CheckpointBatch = %d, want 25", cfg.Offline.CheckpointBatch)
	}
	if cfg.Prefetch.Range != 4 || cfg.Prefetch.Workers != 2 {
		t.Errorf("Prefetch = %+v", cfg.Prefetch)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() error = nil, want read failure")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing base url",
			body:    "logging:\n  level: info\n",
			wantErr: "catalog.base_url",
		},
		{
			name:    "water marks inverted",
			body:    "catalog:\n  base_url: http://x\noffline:\n  cleanup_high_water: 0.5\n  cleanup_low_water: 0.7\n",
			wantErr: "water marks",
		},
		{
			name:    "bad duration",
			body:    "catalog:\n  base_url: http://x\nprefetch:\n  max_delay: soon\n",
			wantErr: "prefetch.max_delay",
		},
		{
			name:    "bad log level",
			body:    "catalog:\n  base_url: http://x\nlogging:\n  level: loud\n",
			wantErr: "logging.level",
		},
		{
			name:    "too many workers",
			body:    "catalog:\n  base_url: http://x\nprefetch:\n  workers: 32\n",
			wantErr: "prefetch.workers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("Load() error = nil, want validation failure")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}
