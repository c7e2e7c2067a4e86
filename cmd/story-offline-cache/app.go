package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/vertextoedge/story-offline-cache/internal/adapter/boltblob"
	"github.com/vertextoedge/story-offline-cache/internal/adapter/catalog"
	"github.com/vertextoedge/story-offline-cache/internal/adapter/nullstore"
	"github.com/vertextoedge/story-offline-cache/internal/adapter/settings"
	"github.com/vertextoedge/story-offline-cache/internal/adapter/sqlite"
	"github.com/vertextoedge/story-offline-cache/internal/config"
	"github.com/vertextoedge/story-offline-cache/internal/logger"
	"github.com/vertextoedge/story-offline-cache/internal/port"
	"github.com/vertextoedge/story-offline-cache/internal/service/assets"
	"github.com/vertextoedge/story-offline-cache/internal/service/downloader"
	"github.com/vertextoedge/story-offline-cache/internal/service/library"
	"github.com/vertextoedge/story-offline-cache/internal/service/maintenance"
	"github.com/vertextoedge/story-offline-cache/internal/service/prefetch"
	"github.com/vertextoedge/story-offline-cache/internal/service/quota"
	"github.com/vertextoedge/story-offline-cache/internal/service/server"
	"github.com/vertextoedge/story-offline-cache/internal/telemetry"
	"github.com/vertextoedge/story-offline-cache/internal/util/idle"
)

// app holds the wired engine
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	store    port.Store
	blobs    *boltblob.Cache
	settings *settings.Store
	catalog  *catalog.Client
	metrics  *telemetry.Metrics
	activity *idle.Tracker

	quota       *quota.Manager
	library     *library.Manager
	assets      *assets.Loader
	downloader  *downloader.Downloader
	prefetch    *prefetch.Scheduler
	maintenance *maintenance.Service
	server      *server.Server
}

// newApp loads configuration and wires every service
func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   log,
		metrics:  telemetry.New(),
		activity: idle.New(),
	}

	a.store = openStore(cfg.Storage.GetDatabasePath(), log)

	blobPath := cfg.Storage.GetBlobPath()
	if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	if a.blobs, err = boltblob.Open(blobPath); err != nil {
		_ = a.store.Close()
		return nil, err
	}

	if a.settings, err = settings.Open(cfg.GetSettingsPath()); err != nil {
		a.close()
		return nil, err
	}

	a.catalog = catalog.NewClient(cfg.Catalog.BaseURL, cfg.Catalog.APIToken, cfg.Catalog.GetTimeout())
	a.catalog.SetSelectionTTL(cfg.Catalog.GetSelectionTTL())

	a.quota = quota.New(a.store, a.settings, quota.Config{
		EntrySizeEstimateMB: cfg.Offline.EntrySizeEstimateMB,
		HighWater:           cfg.Offline.CleanupHighWater,
		LowWater:            cfg.Offline.CleanupLowWater,
	}, log, a.metrics)

	a.library = library.New(a.store, a.blobs, a.quota, library.Config{
		MaxCacheEntries:    cfg.Offline.CacheMaxEntries,
		ResultListFreshFor: cfg.Offline.GetResultListFreshFor(),
	}, log, library.WithMetrics(a.metrics))

	a.assets = assets.New(a.blobs, a.catalog, a.catalog, cfg.Offline.FallbackImageSlot, log, a.metrics)

	a.downloader = downloader.New(a.catalog, a.store, a.library, a.assets, downloader.Config{
		CheckpointBatch:  cfg.Offline.CheckpointBatch,
		CheckpointMaxAge: cfg.Offline.GetCheckpointMaxAge(),
	}, log, downloader.WithMetrics(a.metrics))

	a.prefetch = prefetch.New(prefetch.Config{
		Range:       cfg.Prefetch.Range,
		Workers:     cfg.Prefetch.Workers,
		QuietPeriod: cfg.Prefetch.GetQuietPeriod(),
		MaxDelay:    cfg.Prefetch.GetMaxDelay(),
		QueueSize:   cfg.Prefetch.QueueSize,
	}, a.catalog, a.library, a.assets, a.settings, a.activity, log, a.metrics)

	a.maintenance = maintenance.New(&maintenance.Config{
		CheckpointCheckInterval: cfg.Maintenance.GetCheckpointCheckInterval(),
		CleanupInterval:         cfg.Maintenance.GetCleanupInterval(),
	}, a.downloader, a.library, a.blobs, log)

	a.server = server.New(&server.Config{
		BindAddr:     cfg.HTTP.BindAddr,
		ReadTimeout:  cfg.HTTP.GetReadTimeout(),
		WriteTimeout: cfg.HTTP.GetWriteTimeout(),
		IdleTimeout:  cfg.HTTP.GetIdleTimeout(),

		FallbackImageSlot: cfg.Offline.FallbackImageSlot,
	}, server.Deps{
		Store:      a.store,
		Catalog:    a.catalog,
		Library:    a.library,
		Quota:      a.quota,
		Downloader: a.downloader,
		Prefetcher: a.prefetch,
		Assets:     a.assets,
		Activity:   a.activity,
		Metrics:    a.metrics,
	}, log)

	return a, nil
}

// openStore opens the sqlite store. When it cannot be opened the offline
// features are disabled instead of failing startup.
func openStore(path string, log *zap.Logger) port.Store {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Error("offline store unavailable", zap.String("path", path), zap.Error(err))
		return nullstore.New(err)
	}
	store, err := sqlite.Open(path)
	if err != nil {
		log.Error("offline store unavailable", zap.String("path", path), zap.Error(err))
		return nullstore.New(err)
	}
	return store
}

// close waits for background work and releases storage handles
func (a *app) close() {
	// Prefetch tasks write through the library, so they stop first
	if a.prefetch != nil {
		a.prefetch.Stop()
	}
	if a.library != nil {
		a.library.Wait()
	}
	if a.downloader != nil {
		a.downloader.Wait()
	}
	if a.blobs != nil {
		if err := a.blobs.Close(); err != nil {
			a.logger.Error("failed to close blob cache", zap.Error(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close offline store", zap.Error(err))
	}
	_ = a.logger.Sync()
}
