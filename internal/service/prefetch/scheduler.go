// Package prefetch warms the Cache with records next to the one being viewed.
//
// Work is best-effort: each task waits for the foreground to go quiet, or
// for a bounded delay, before fetching, and failures are only logged.
// A prefetched record goes through the same CacheRecord path as a view.
package prefetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/vertextoedge/story-offline-cache/internal/domain"
	"github.com/vertextoedge/story-offline-cache/internal/port"
	"github.com/vertextoedge/story-offline-cache/internal/telemetry"
	"github.com/vertextoedge/story-offline-cache/internal/util/idle"
)

// RecordCache is the part of the Cache/Library Manager the scheduler uses
type RecordCache interface {
	IsOffline(ctx context.Context, key domain.RecordKey) (bool, error)
	CacheRecord(ctx context.Context, snap domain.Snapshot) error
}

// ImageEnsurer caches the representative image of a record
type ImageEnsurer interface {
	EnsureRepresentative(ctx context.Context, snap *domain.Snapshot) (downloaded bool, err error)
}

// Config contains scheduler configuration
type Config struct {
	Range       int           // Default neighbors on each side
	Workers     int           // Concurrent prefetch tasks
	QuietPeriod time.Duration // Foreground quiet time before a task runs
	MaxDelay    time.Duration // Upper bound on how long a task waits for quiet
	QueueSize   int           // Pending tasks beyond this are dropped
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Range:       2,
		Workers:     1,
		QuietPeriod: 200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		QueueSize:   64,
	}
}

// Scheduler queues and runs prefetch tasks
type Scheduler struct {
	catalog  port.Catalog
	records  RecordCache
	images   ImageEnsurer
	settings port.SettingsStore
	idle     *idle.Tracker
	config   Config
	logger   *zap.Logger
	metrics  *telemetry.Metrics

	queue chan task
	sem   *semaphore.Weighted

	pendingMu sync.Mutex
	pending   map[domain.RecordKey]struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{} // closed when Start returns
	wg      sync.WaitGroup
}

// task is a queued prefetch. MaxDelay counts from enqueuedAt.
type task struct {
	key        domain.RecordKey
	enqueuedAt time.Time
}

// New creates a new Scheduler
func New(
	cfg Config,
	catalog port.Catalog,
	records RecordCache,
	images ImageEnsurer,
	settings port.SettingsStore,
	tracker *idle.Tracker,
	logger *zap.Logger,
	metrics *telemetry.Metrics,
) *Scheduler {
	def := DefaultConfig()
	if cfg.Range <= 0 {
		cfg.Range = def.Range
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = def.QuietPeriod
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if tracker == nil {
		tracker = idle.New()
	}

	return &Scheduler{
		catalog:  catalog,
		records:  records,
		images:   images,
		settings: settings,
		idle:     tracker,
		config:   cfg,
		logger:   logger,
		metrics:  metrics,
		queue:    make(chan task, cfg.QueueSize),
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
		pending:  make(map[domain.RecordKey]struct{}),
	}
}

// Neighbors returns up to 2*rng keys around current in ordered, nearest
// first, alternating predecessor and successor. Returns nil when current
// is not in ordered.
func Neighbors(current domain.RecordKey, ordered []domain.RecordKey, rng int) []domain.RecordKey {
	idx := -1
	for i, k := range ordered {
		if k == current {
			idx = i
			break
		}
	}
	if idx < 0 || rng <= 0 {
		return nil
	}

	out := make([]domain.RecordKey, 0, 2*rng)
	for d := 1; d <= rng; d++ {
		if i := idx - d; i >= 0 {
			out = append(out, ordered[i])
		}
		if i := idx + d; i < len(ordered) {
			out = append(out, ordered[i])
		}
	}
	return out
}

// PrefetchAdjacent queues the neighbors of current that are neither offline
// nor already pending. rng <= 0 uses the configured range. It returns the
// keys that were queued and never blocks on the fetches themselves.
func (s *Scheduler) PrefetchAdjacent(ctx context.Context, current domain.RecordKey, ordered []domain.RecordKey, rng int) []domain.RecordKey {
	if s.settings != nil && !s.settings.PrefetchEnabled() {
		return nil
	}
	if rng <= 0 {
		rng = s.config.Range
	}

	var queued []domain.RecordKey
	for _, key := range Neighbors(current, ordered, rng) {
		if key == current || !s.claim(key) {
			continue
		}

		offline, err := s.records.IsOffline(ctx, key)
		if err != nil {
			s.logger.Debug("prefetch offline check failed", zap.String("key", key.String()), zap.Error(err))
			s.release(key)
			continue
		}
		if offline {
			s.release(key)
			continue
		}

		select {
		case s.queue <- task{key: key, enqueuedAt: time.Now()}:
			queued = append(queued, key)
			s.metrics.RecordPrefetch("scheduled")
		default:
			s.release(key)
			s.metrics.RecordPrefetch("dropped")
			s.logger.Debug("prefetch queue full, dropping", zap.String("key", key.String()))
		}
	}
	return queued
}

// claim adds key to the pending set; false if it was already there
func (s *Scheduler) claim(key domain.RecordKey) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if _, ok := s.pending[key]; ok {
		return false
	}
	s.pending[key] = struct{}{}
	return true
}

func (s *Scheduler) release(key domain.RecordKey) {
	s.pendingMu.Lock()
	delete(s.pending, key)
	s.pendingMu.Unlock()
}

// Pending returns the number of queued or running tasks
func (s *Scheduler) Pending() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// Start runs queued tasks until ctx is cancelled or Stop is called
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("prefetch scheduler already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()
	defer close(done)

	s.logger.Info("prefetch scheduler started",
		zap.Int("workers", s.config.Workers),
		zap.Duration("quiet_period", s.config.QuietPeriod),
		zap.Duration("max_delay", s.config.MaxDelay))

	for {
		var t task
		select {
		case <-ctx.Done():
			s.wg.Wait()
			dropped := s.drain()
			s.logger.Info("prefetch scheduler stopped", zap.Int("dropped", dropped))
			return nil
		case t = <-s.queue:
		}

		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.release(t.key)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			defer s.release(t.key)
			s.run(ctx, t)
		}()
	}
}

// drain empties the queue and releases the keys that never ran
func (s *Scheduler) drain() int {
	n := 0
	for {
		select {
		case t := <-s.queue:
			s.release(t.key)
			n++
		default:
			return n
		}
	}
}

// Stop stops the scheduler and waits for running tasks to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

// run executes one prefetch task
func (s *Scheduler) run(ctx context.Context, t task) {
	key := t.key
	timedOut, err := s.idle.WaitIdleUntil(ctx, s.config.QuietPeriod, t.enqueuedAt.Add(s.config.MaxDelay))
	if err != nil {
		return
	}
	if timedOut {
		s.logger.Debug("prefetch ran after max delay", zap.String("key", key.String()))
	}

	// The user may have opened or saved it while this task waited
	offline, err := s.records.IsOffline(ctx, key)
	if err == nil && offline {
		s.metrics.RecordPrefetch("skipped")
		return
	}

	snap, err := s.catalog.GetOne(ctx, key)
	if err != nil {
		s.fail(key, "fetch record", err)
		return
	}

	if _, err := s.images.EnsureRepresentative(ctx, snap); err != nil {
		s.logger.Debug("prefetch image failed", zap.String("key", key.String()), zap.Error(err))
	}

	if err := s.records.CacheRecord(ctx, *snap); err != nil {
		s.fail(key, "cache record", err)
		return
	}
	s.metrics.RecordPrefetch("completed")
	s.logger.Debug("prefetched record", zap.String("key", key.String()))
}

func (s *Scheduler) fail(key domain.RecordKey, op string, err error) {
	s.metrics.RecordPrefetch("failed")
	s.logger.Warn("prefetch failed",
		zap.String("key", key.String()),
		zap.String("op", op),
		zap.Error(err))
}
