// Package quota enforces the user's storage budget over the offline collections.
//
// Usage is estimated as (cache entries + library entries) x a fixed per-entry
// size, which keeps every check O(1). When usage rises above the high-water
// mark, the least recently accessed cache entries are evicted until usage is
// at or below the low-water mark. Library entries are never evicted here.
package quota

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vertextoedge/story-offline-cache/internal/domain"
	"github.com/vertextoedge/story-offline-cache/internal/port"
	"github.com/vertextoedge/story-offline-cache/internal/telemetry"
)

// Config contains quota configuration
type Config struct {
	EntrySizeEstimateMB float64 // Estimated size of one record plus its image
	HighWater           float64 // Fraction of the limit that triggers cleanup
	LowWater            float64 // Fraction of the limit cleanup evicts down to
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		EntrySizeEstimateMB: 1.1,
		HighWater:           0.90,
		LowWater:            0.70,
	}
}

// CleanupResult describes one CheckAndCleanup call
type CleanupResult struct {
	Triggered         bool
	Evicted           []domain.RecordKey
	ResultListDropped bool
	Before            domain.Usage
	After             domain.Usage
}

// Manager computes usage and evicts cache entries when over budget
type Manager struct {
	store    port.Store
	settings port.SettingsStore
	config   Config
	logger   *zap.Logger
	metrics  *telemetry.Metrics

	mu sync.Mutex
}

// New creates a new quota Manager
func New(store port.Store, settings port.SettingsStore, cfg Config, logger *zap.Logger, metrics *telemetry.Metrics) *Manager {
	def := DefaultConfig()
	if cfg.EntrySizeEstimateMB <= 0 {
		cfg.EntrySizeEstimateMB = def.EntrySizeEstimateMB
	}
	if cfg.HighWater <= 0 || cfg.HighWater > 1 {
		cfg.HighWater = def.HighWater
	}
	if cfg.LowWater <= 0 || cfg.LowWater >= cfg.HighWater {
		cfg.LowWater = def.LowWater
	}

	return &Manager{
		store:    store,
		settings: settings,
		config:   cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// GetLimitMB returns the configured storage budget in MB
func (m *Manager) GetLimitMB() int {
	return m.settings.StorageLimitMB()
}

// SetLimitMB stores a new budget. Values outside the preset list are
// rejected with domain.ErrInvalidStorageLimit and nothing is written.
func (m *Manager) SetLimitMB(mb int) error {
	if err := domain.ValidateStorageLimit(mb); err != nil {
		return err
	}
	if err := m.settings.SetStorageLimitMB(mb); err != nil {
		return fmt.Errorf("failed to save storage limit: %w", err)
	}
	m.logger.Info("storage limit changed", zap.Int("limit_mb", mb))
	return nil
}

// EntrySizeBytes returns the per-entry size estimate in bytes
func (m *Manager) EntrySizeBytes() int64 {
	return int64(m.config.EntrySizeEstimateMB * domain.BytesPerMB)
}

// LimitBytes returns the configured budget in bytes
func (m *Manager) LimitBytes() int64 {
	return int64(m.GetLimitMB()) * domain.BytesPerMB
}

// GetUsage returns the estimated usage of both collections
func (m *Manager) GetUsage(ctx context.Context) (domain.Usage, error) {
	cacheCount, err := m.store.CountCacheEntries(ctx)
	if err != nil {
		return domain.Usage{}, fmt.Errorf("failed to count cache entries: %w", err)
	}
	libraryCount, err := m.store.CountLibraryEntries(ctx)
	if err != nil {
		return domain.Usage{}, fmt.Errorf("failed to count library entries: %w", err)
	}

	usage := m.usageFor(cacheCount, libraryCount)
	m.metrics.SetUsage(usage.TotalBytes, m.LimitBytes(), cacheCount, libraryCount)
	return usage, nil
}

func (m *Manager) usageFor(cacheCount, libraryCount int) domain.Usage {
	return domain.Usage{
		TotalBytes:   int64(cacheCount+libraryCount) * m.EntrySizeBytes(),
		CacheCount:   cacheCount,
		LibraryCount: libraryCount,
	}
}

// CheckAndCleanup evicts cache entries when usage is above the high-water
// mark. Oldest lastAccessedAt entries go first. If removing every cache
// entry still leaves usage above the low-water mark, the cached result
// list is dropped as well.
func (m *Manager) CheckAndCleanup(ctx context.Context) (*CleanupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	usage, err := m.GetUsage(ctx)
	if err != nil {
		return nil, err
	}

	result := &CleanupResult{Before: usage, After: usage}

	limit := m.LimitBytes()
	trigger := int64(float64(limit) * m.config.HighWater)
	if usage.TotalBytes <= trigger {
		return result, nil
	}
	result.Triggered = true
	m.metrics.RecordCleanupRun()

	target := int64(float64(limit) * m.config.LowWater)
	entrySize := m.EntrySizeBytes()

	// Largest cache count that keeps usage at or below target
	keep := int(target/entrySize) - usage.LibraryCount
	if keep < 0 {
		keep = 0
	}
	toEvict := usage.CacheCount - keep

	m.logger.Info("storage over budget, evicting cache entries",
		zap.Int64("usage_bytes", usage.TotalBytes),
		zap.Int64("limit_bytes", limit),
		zap.Int64("target_bytes", target),
		zap.Int("to_evict", toEvict))

	if toEvict > 0 {
		evicted, err := m.store.DeleteOldestCacheEntries(ctx, toEvict)
		if err != nil {
			return result, fmt.Errorf("failed to evict cache entries: %w", err)
		}
		result.Evicted = evicted
		m.metrics.RecordEviction(telemetry.EvictQuota, len(evicted))
	}

	after, err := m.GetUsage(ctx)
	if err != nil {
		return result, err
	}
	result.After = after

	if after.TotalBytes > target {
		// Library alone exceeds the target; it is never evicted automatically
		if err := m.store.DeleteResultList(ctx); err != nil {
			return result, fmt.Errorf("failed to drop result list: %w", err)
		}
		result.ResultListDropped = true
		m.metrics.RecordEviction(telemetry.EvictResultList, 1)
		m.logger.Warn("library exceeds storage budget; dropped cached result list",
			zap.Int("library_count", after.LibraryCount),
			zap.Int64("usage_bytes", after.TotalBytes),
			zap.Int64("target_bytes", target))
	}

	m.logger.Info("cleanup completed",
		zap.Int("evicted", len(result.Evicted)),
		zap.Int64("usage_bytes", after.TotalBytes))

	return result, nil
}
