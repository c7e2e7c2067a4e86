package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the entire application configuration
type Config struct {
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Offline     OfflineConfig     `mapstructure:"offline"`
	Prefetch    PrefetchConfig    `mapstructure:"prefetch"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Settings    SettingsConfig    `mapstructure:"settings"`
}

// CatalogConfig contains remote catalog configuration
type CatalogConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	APIToken string `mapstructure:"api_token"` // Empty for anonymous users
	Timeout  string `mapstructure:"timeout"`

	SelectionTTL string `mapstructure:"selection_ttl"` // How long image selections are reused
}

// StorageConfig contains local storage locations
type StorageConfig struct {
	DataDir      string `mapstructure:"data_dir"`
	DatabasePath string `mapstructure:"database_path"`
	BlobPath     string `mapstructure:"blob_path"`
}

// OfflineConfig contains cache, quota and bulk download tuning
type OfflineConfig struct {
	CacheMaxEntries     int     `mapstructure:"cache_max_entries"`
	EntrySizeEstimateMB float64 `mapstructure:"entry_size_estimate_mb"`
	CleanupHighWater    float64 `mapstructure:"cleanup_high_water"`
	CleanupLowWater     float64 `mapstructure:"cleanup_low_water"`
	CheckpointBatch     int     `mapstructure:"checkpoint_batch"`
	CheckpointMaxAge    string  `mapstructure:"checkpoint_max_age"`
	ResultListFreshFor  string  `mapstructure:"result_list_fresh_for"`
	FallbackImageSlot   int     `mapstructure:"fallback_image_slot"`
}

// PrefetchConfig contains prefetch scheduler settings
type PrefetchConfig struct {
	Range       int    `mapstructure:"range"`
	Workers     int    `mapstructure:"workers"`
	QuietPeriod string `mapstructure:"quiet_period"`
	MaxDelay    string `mapstructure:"max_delay"`
	QueueSize   int    `mapstructure:"queue_size"`
}

// MaintenanceConfig contains housekeeping intervals
type MaintenanceConfig struct {
	CheckpointCheckInterval string `mapstructure:"checkpoint_check_interval"`
	CleanupInterval         string `mapstructure:"cleanup_interval"`
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	BindAddr     string `mapstructure:"bind_addr"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	IdleTimeout  string `mapstructure:"idle_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SettingsConfig points at the user settings file (storage limit, prefetch toggle)
type SettingsConfig struct {
	Path string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("catalog.timeout", "30s")
	v.SetDefault("catalog.selection_ttl", "5m")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.database_path", "")
	v.SetDefault("storage.blob_path", "")
	v.SetDefault("offline.cache_max_entries", 100)
	v.SetDefault("offline.entry_size_estimate_mb", 1.1)
	v.SetDefault("offline.cleanup_high_water", 0.90)
	v.SetDefault("offline.cleanup_low_water", 0.70)
	v.SetDefault("offline.checkpoint_batch", 10)
	v.SetDefault("offline.checkpoint_max_age", "24h")
	v.SetDefault("offline.result_list_fresh_for", "5m")
	v.SetDefault("offline.fallback_image_slot", 1)
	v.SetDefault("prefetch.range", 2)
	v.SetDefault("prefetch.workers", 1)
	v.SetDefault("prefetch.quiet_period", "200ms")
	v.SetDefault("prefetch.max_delay", "2s")
	v.SetDefault("prefetch.queue_size", 64)
	v.SetDefault("maintenance.checkpoint_check_interval", "1h")
	v.SetDefault("maintenance.cleanup_interval", "10m")
	v.SetDefault("http.bind_addr", "127.0.0.1:8080")
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("settings.path", "")
}

// Load loads configuration from the specified file path.
// An empty path yields the defaults, which still need catalog.base_url to validate.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Catalog.BaseURL == "" {
		return fmt.Errorf("catalog.base_url is required")
	}
	if c.Storage.DataDir == "" && (c.Storage.DatabasePath == "" || c.Storage.BlobPath == "") {
		return fmt.Errorf("storage.data_dir is required unless database_path and blob_path are set")
	}

	// Validate offline config
	if c.Offline.CacheMaxEntries < 1 {
		return fmt.Errorf("offline.cache_max_entries must be positive")
	}
	if c.Offline.EntrySizeEstimateMB <= 0 {
		return fmt.Errorf("offline.entry_size_estimate_mb must be positive")
	}
	if c.Offline.CleanupLowWater <= 0 || c.Offline.CleanupHighWater > 1 ||
		c.Offline.CleanupLowWater >= c.Offline.CleanupHighWater {
		return fmt.Errorf("offline cleanup water marks must satisfy 0 < low_water < high_water <= 1")
	}
	if c.Offline.CheckpointBatch < 1 {
		return fmt.Errorf("offline.checkpoint_batch must be positive")
	}
	if c.Offline.FallbackImageSlot < 1 {
		return fmt.Errorf("offline.fallback_image_slot must be positive")
	}

	// Validate prefetch config
	if c.Prefetch.Range < 0 {
		return fmt.Errorf("prefetch.range must not be negative")
	}
	if c.Prefetch.Workers < 1 || c.Prefetch.Workers > 8 {
		return fmt.Errorf("prefetch.workers must be between 1 and 8")
	}

	// Validate durations
	durations := map[string]string{
		"catalog.timeout":                       c.Catalog.Timeout,
		"catalog.selection_ttl":                 c.Catalog.SelectionTTL,
		"offline.checkpoint_max_age":            c.Offline.CheckpointMaxAge,
		"offline.result_list_fresh_for":         c.Offline.ResultListFreshFor,
		"prefetch.quiet_period":                 c.Prefetch.QuietPeriod,
		"prefetch.max_delay":                    c.Prefetch.MaxDelay,
		"maintenance.checkpoint_check_interval": c.Maintenance.CheckpointCheckInterval,
		"maintenance.cleanup_interval":          c.Maintenance.CleanupInterval,
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// GetDatabasePath returns the sqlite file path, defaulting under the data dir
func (c *StorageConfig) GetDatabasePath() string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	return filepath.Join(c.DataDir, "offline.db")
}

// GetBlobPath returns the bbolt blob cache path, defaulting under the data dir
func (c *StorageConfig) GetBlobPath() string {
	if c.BlobPath != "" {
		return c.BlobPath
	}
	return filepath.Join(c.DataDir, "assets.bolt")
}

// GetSettingsPath returns the settings file path, defaulting under the data dir
func (c *Config) GetSettingsPath() string {
	if c.Settings.Path != "" {
		return c.Settings.Path
	}
	return filepath.Join(c.Storage.DataDir, "settings.yaml")
}

// GetTimeout returns the catalog request timeout as time.Duration
func (c *CatalogConfig) GetTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetSelectionTTL returns how long image selections are reused as time.Duration
func (c *CatalogConfig) GetSelectionTTL() time.Duration {
	d, _ := time.ParseDuration(c.SelectionTTL)
	if d == 0 {
		return 5 * time.Minute
	}
	return d
}

// GetCheckpointMaxAge returns the checkpoint staleness threshold as time.Duration
func (c *OfflineConfig) GetCheckpointMaxAge() time.Duration {
	d, _ := time.ParseDuration(c.CheckpointMaxAge)
	if d == 0 {
		return 24 * time.Hour
	}
	return d
}

// GetResultListFreshFor returns how long a result list snapshot stays fresh
func (c *OfflineConfig) GetResultListFreshFor() time.Duration {
	d, _ := time.ParseDuration(c.ResultListFreshFor)
	if d == 0 {
		return 5 * time.Minute
	}
	return d
}

// GetQuietPeriod returns the foreground quiet period as time.Duration
func (c *PrefetchConfig) GetQuietPeriod() time.Duration {
	d, _ := time.ParseDuration(c.QuietPeriod)
	if d == 0 {
		return 200 * time.Millisecond
	}
	return d
}

// GetMaxDelay returns the idle wait fallback as time.Duration
func (c *PrefetchConfig) GetMaxDelay() time.Duration {
	d, _ := time.ParseDuration(c.MaxDelay)
	if d == 0 {
		return 2 * time.Second
	}
	return d
}

// GetCheckpointCheckInterval returns the stale checkpoint sweep interval
func (c *MaintenanceConfig) GetCheckpointCheckInterval() time.Duration {
	d, _ := time.ParseDuration(c.CheckpointCheckInterval)
	if d == 0 {
		return time.Hour
	}
	return d
}

// GetCleanupInterval returns the storage budget sweep interval
func (c *MaintenanceConfig) GetCleanupInterval() time.Duration {
	d, _ := time.ParseDuration(c.CleanupInterval)
	if d == 0 {
		return 10 * time.Minute
	}
	return d
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ReadTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetWriteTimeout returns the write timeout as time.Duration
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.WriteTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetIdleTimeout returns the idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	d, _ := time.ParseDuration(c.IdleTimeout)
	if d == 0 {
		return 60 * time.Second
	}
	return d
}
