package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/vertextoedge/story-offline-cache/internal/port"
	"github.com/vertextoedge/story-offline-cache/internal/service/quota"
)

// CheckpointJanitor discards bulk download checkpoints past their max age
type CheckpointJanitor interface {
	DiscardStaleCheckpoint(ctx context.Context) (bool, error)
}

// Cleaner runs the storage budget check
type Cleaner interface {
	RunCleanup(ctx context.Context) (*quota.CleanupResult, error)
}

// Config contains maintenance service configuration
type Config struct {
	// CheckpointCheckInterval is how often to look for a stale download checkpoint
	CheckpointCheckInterval time.Duration

	// CleanupInterval is how often to re-check the storage budget.
	// Catches limit reductions made while nothing is being cached.
	CleanupInterval time.Duration
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		CheckpointCheckInterval: time.Hour,
		CleanupInterval:         10 * time.Minute,
	}
}

// Service handles periodic maintenance tasks
type Service struct {
	config      *Config
	checkpoints CheckpointJanitor
	cleaner     Cleaner
	blobs       port.BlobCache
	logger      *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new maintenance Service. blobs may be nil.
func New(cfg *Config, checkpoints CheckpointJanitor, cleaner Cleaner, blobs port.BlobCache, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.CheckpointCheckInterval == 0 {
		cfg.CheckpointCheckInterval = time.Hour
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}

	return &Service{
		config:      cfg,
		checkpoints: checkpoints,
		cleaner:     cleaner,
		blobs:       blobs,
		logger:      logger,
	}
}

// Start starts the maintenance service
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance service already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance service started",
		zap.Duration("checkpoint_check_interval", s.config.CheckpointCheckInterval),
		zap.Duration("cleanup_interval", s.config.CleanupInterval))

	// A checkpoint may have gone stale while the process was down
	s.discardStaleCheckpoint(ctx)

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("maintenance service stopped")
	return nil
}

// Stop stops the maintenance service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

// maintenanceLoop handles periodic maintenance tasks
func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	checkpointTicker := time.NewTicker(s.config.CheckpointCheckInterval)
	defer checkpointTicker.Stop()

	cleanupTicker := time.NewTicker(s.config.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-checkpointTicker.C:
			s.discardStaleCheckpoint(ctx)
		case <-cleanupTicker.C:
			s.runCleanup(ctx)
			s.logBlobStats(ctx)
		}
	}
}

// discardStaleCheckpoint removes a download checkpoint past its max age
func (s *Service) discardStaleCheckpoint(ctx context.Context) {
	deleted, err := s.checkpoints.DiscardStaleCheckpoint(ctx)
	if err != nil {
		s.logger.Error("failed to check download checkpoint", zap.Error(err))
	} else if deleted {
		s.logger.Info("discarded stale download checkpoint")
	}
}

// runCleanup enforces the storage budget
func (s *Service) runCleanup(ctx context.Context) {
	res, err := s.cleaner.RunCleanup(ctx)
	if err != nil {
		s.logger.Error("failed to run storage cleanup", zap.Error(err))
		return
	}
	if res.Triggered {
		s.logger.Info("storage cleanup evicted cache entries",
			zap.Int("evicted", len(res.Evicted)),
			zap.Bool("result_list_dropped", res.ResultListDropped))
	}
}

// logBlobStats reports the size of the asset cache
func (s *Service) logBlobStats(ctx context.Context) {
	if s.blobs == nil {
		return
	}
	count, size, err := s.blobs.Stats(ctx)
	if err != nil {
		s.logger.Warn("failed to read blob cache stats", zap.Error(err))
		return
	}
	s.logger.Debug("blob cache stats",
		zap.Int("assets", count),
		zap.String("size", humanize.IBytes(uint64(size))))
}
