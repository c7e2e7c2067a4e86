// Package downloader pulls the whole catalog into the Library and the blob
// cache. Progress is checkpointed so an interrupted run resumes where it
// stopped instead of starting over.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vertextoedge/story-offline-cache/internal/domain"
	"github.com/vertextoedge/story-offline-cache/internal/port"
	"github.com/vertextoedge/story-offline-cache/internal/telemetry"
)

// LibrarySaver stores a record permanently
type LibrarySaver interface {
	SaveToLibrary(ctx context.Context, snap domain.Snapshot) error
}

// ImageEnsurer caches the representative image of a record
type ImageEnsurer interface {
	EnsureRepresentative(ctx context.Context, snap *domain.Snapshot) (downloaded bool, err error)
}

// Config contains downloader configuration
type Config struct {
	CheckpointBatch  int           // Completions between checkpoint writes
	CheckpointMaxAge time.Duration // Older checkpoints are discarded
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		CheckpointBatch:  10,
		CheckpointMaxAge: 24 * time.Hour,
	}
}

// Downloader runs bulk downloads, one at a time
type Downloader struct {
	catalog port.Catalog
	aux     port.AuxRepository
	library LibrarySaver
	images  ImageEnsurer
	config  Config
	logger  *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	mu      sync.Mutex
	running bool
	last    domain.DownloadProgress

	background sync.WaitGroup
}

// Option configures a Downloader
type Option func(*Downloader)

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(d *Downloader) {
		d.now = now
	}
}

// WithMetrics attaches metrics
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(d *Downloader) {
		d.metrics = metrics
	}
}

// New creates a new Downloader
func New(catalog port.Catalog, aux port.AuxRepository, library LibrarySaver, images ImageEnsurer, cfg Config, logger *zap.Logger, opts ...Option) *Downloader {
	if cfg.CheckpointBatch <= 0 {
		cfg.CheckpointBatch = DefaultConfig().CheckpointBatch
	}
	if cfg.CheckpointMaxAge <= 0 {
		cfg.CheckpointMaxAge = DefaultConfig().CheckpointMaxAge
	}

	d := &Downloader{
		catalog: catalog,
		aux:     aux,
		library: library,
		images:  images,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
		last:    domain.DownloadProgress{Phase: domain.PhaseIdle},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start runs a bulk download and blocks until it finishes.
// With resume set, a checkpoint younger than the max age is continued;
// otherwise any checkpoint is discarded and the run starts from zero.
// A listing failure returns a *domain.ListingError and keeps the checkpoint.
func (d *Downloader) Start(ctx context.Context, progress domain.ProgressFunc, resume bool) (*domain.DownloadSummary, error) {
	runID, err := d.acquire()
	if err != nil {
		return nil, err
	}
	defer d.release()

	return d.run(ctx, runID, progress, resume)
}

// StartBackground starts a bulk download on its own goroutine and returns
// its run id. ctx should outlive the caller's request: cancelling it
// interrupts the run and keeps the checkpoint.
func (d *Downloader) StartBackground(ctx context.Context, progress domain.ProgressFunc, resume bool) (string, error) {
	runID, err := d.acquire()
	if err != nil {
		return "", err
	}

	d.background.Add(1)
	go func() {
		defer d.background.Done()
		defer d.release()

		if _, err := d.run(ctx, runID, progress, resume); err != nil {
			d.logger.Warn("background download failed", zap.String("run_id", runID), zap.Error(err))
		}
	}()
	return runID, nil
}

// Wait blocks until background runs have finished
func (d *Downloader) Wait() {
	d.background.Wait()
}

// IsRunning reports whether a run is in progress
func (d *Downloader) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// LastProgress returns the most recent progress report
func (d *Downloader) LastProgress() domain.DownloadProgress {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// CheckResumable reports whether a usable checkpoint exists
func (d *Downloader) CheckResumable(ctx context.Context) (domain.ResumeInfo, error) {
	cp, err := d.aux.GetCheckpoint(ctx)
	if err != nil {
		return domain.ResumeInfo{}, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if cp == nil || cp.IsStale(d.now(), d.config.CheckpointMaxAge) {
		return domain.ResumeInfo{}, nil
	}
	return domain.ResumeInfo{
		CanResume: true,
		Completed: cp.Completed(),
		Total:     cp.Total,
	}, nil
}

// ClearCheckpoint discards saved progress
func (d *Downloader) ClearCheckpoint(ctx context.Context) error {
	if err := d.aux.DeleteCheckpoint(ctx); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// DiscardStaleCheckpoint deletes a checkpoint older than the max age.
// Returns true if one was deleted.
func (d *Downloader) DiscardStaleCheckpoint(ctx context.Context) (bool, error) {
	if d.IsRunning() {
		return false, nil
	}
	cp, err := d.aux.GetCheckpoint(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if cp == nil || !cp.IsStale(d.now(), d.config.CheckpointMaxAge) {
		return false, nil
	}
	if err := d.aux.DeleteCheckpoint(ctx); err != nil {
		return false, fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	d.logger.Info("discarded stale download checkpoint",
		zap.Time("started_at", cp.StartedAt),
		zap.Int("completed", cp.Completed()))
	return true, nil
}

func (d *Downloader) acquire() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return "", domain.ErrDownloadInProgress
	}
	d.running = true
	return uuid.NewString(), nil
}

func (d *Downloader) release() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// runState carries one run's progress reporting
type runState struct {
	d        *Downloader
	runID    string
	progress domain.ProgressFunc
	logger   *zap.Logger
}

func (s *runState) report(p domain.DownloadProgress) {
	p.RunID = s.runID
	s.d.mu.Lock()
	s.d.last = p
	s.d.mu.Unlock()
	if s.progress != nil {
		s.progress(p)
	}
}

func (d *Downloader) run(ctx context.Context, runID string, progress domain.ProgressFunc, resume bool) (*domain.DownloadSummary, error) {
	st := &runState{
		d:        d,
		runID:    runID,
		progress: progress,
		logger:   d.logger.With(zap.String("run_id", runID)),
	}
	summary := &domain.DownloadSummary{}

	st.report(domain.DownloadProgress{Phase: domain.PhaseFetching})

	cp, err := d.loadCheckpoint(ctx, resume, st.logger)
	if err != nil {
		st.report(domain.DownloadProgress{Phase: domain.PhaseError, Message: err.Error()})
		d.metrics.RecordBulkRun("failed")
		return summary, err
	}

	records, err := d.catalog.ListAll(ctx)
	if err != nil {
		listErr := &domain.ListingError{Err: err}
		st.logger.Error("catalog listing failed", zap.Error(err))
		resumable := d.persist(ctx, cp, st.logger) == nil
		st.report(domain.DownloadProgress{
			Phase:     domain.PhaseError,
			Current:   cp.Completed(),
			Total:     cp.Total,
			Message:   listErr.Error(),
			Resumable: resumable,
		})
		d.metrics.RecordBulkRun("failed")
		return summary, listErr
	}

	cp.Total = len(records)
	current := 0
	for i := range records {
		if cp.IsCompleted(records[i].Key) {
			current++
		}
	}

	// The checkpoint exists on disk from the start of the run
	if err := d.aux.SaveCheckpoint(ctx, cp); err != nil {
		st.logger.Warn("failed to save checkpoint", zap.Error(err))
	}

	st.logger.Info("bulk download started",
		zap.Int("total", cp.Total),
		zap.Int("already_completed", current))
	st.report(domain.DownloadProgress{Phase: domain.PhaseDownloading, Current: current, Total: cp.Total})

	sinceSave := 0
	failed := 0
	for i := range records {
		rec := &records[i]

		if err := ctx.Err(); err != nil {
			return d.interrupted(ctx, st, cp, current, summary, err)
		}

		if cp.IsCompleted(rec.Key) {
			summary.Skipped++
			continue
		}

		if err := d.library.SaveToLibrary(ctx, *rec); err != nil {
			if errors.Is(err, domain.ErrStoreUnavailable) {
				return d.interrupted(ctx, st, cp, current, summary, err)
			}
			skip := domain.NewSkippableError(err, "save "+rec.Key.String())
			st.logger.Warn("failed to save record", zap.String("key", rec.Key.String()), zap.Error(skip))
			summary.Errors++
			failed++
			d.metrics.RecordBulkError()
			continue
		}
		summary.StoriesDownloaded++
		d.metrics.RecordBulkRecord()

		downloaded, err := d.images.EnsureRepresentative(ctx, rec)
		if err != nil {
			// The record text is saved; a missing image is counted, not fatal
			st.logger.Warn("failed to download image", zap.String("key", rec.Key.String()), zap.Error(err))
			summary.Errors++
			d.metrics.RecordBulkError()
		} else if downloaded {
			summary.ImagesDownloaded++
			d.metrics.RecordBulkImage()
		}

		cp.MarkCompleted(rec.Key)
		current++
		sinceSave++
		if sinceSave >= d.config.CheckpointBatch {
			if err := d.aux.SaveCheckpoint(ctx, cp); err != nil {
				st.logger.Warn("failed to save checkpoint", zap.Error(err))
			} else {
				sinceSave = 0
			}
		}

		st.report(domain.DownloadProgress{Phase: domain.PhaseDownloading, Current: current, Total: cp.Total})
	}

	if failed > 0 {
		// Keep progress so the failed records are retried by a resumed run
		_ = d.persist(ctx, cp, st.logger)
	} else if err := d.aux.DeleteCheckpoint(ctx); err != nil {
		st.logger.Warn("failed to delete checkpoint", zap.Error(err))
	}

	msg := fmt.Sprintf("%d stories, %d images, %d errors",
		summary.StoriesDownloaded, summary.ImagesDownloaded, summary.Errors)
	st.logger.Info("bulk download completed",
		zap.Int("stories", summary.StoriesDownloaded),
		zap.Int("images", summary.ImagesDownloaded),
		zap.Int("errors", summary.Errors),
		zap.Int("skipped", summary.Skipped))
	st.report(domain.DownloadProgress{
		Phase:     domain.PhaseComplete,
		Current:   current,
		Total:     cp.Total,
		Message:   msg,
		Resumable: failed > 0,
	})
	d.metrics.RecordBulkRun("complete")
	return summary, nil
}

// loadCheckpoint returns the checkpoint to continue, or a fresh one
func (d *Downloader) loadCheckpoint(ctx context.Context, resume bool, logger *zap.Logger) (*domain.DownloadCheckpoint, error) {
	cp, err := d.aux.GetCheckpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	now := d.now()
	switch {
	case cp == nil:
	case !resume:
		logger.Info("discarding checkpoint, restart requested", zap.Int("completed", cp.Completed()))
		cp = nil
	case cp.IsStale(now, d.config.CheckpointMaxAge):
		logger.Info("discarding stale checkpoint",
			zap.Time("started_at", cp.StartedAt),
			zap.Int("completed", cp.Completed()))
		cp = nil
	default:
		logger.Info("resuming from checkpoint",
			zap.Int("completed", cp.Completed()),
			zap.Int("total", cp.Total))
		return cp, nil
	}

	if err := d.aux.DeleteCheckpoint(ctx); err != nil {
		return nil, fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return domain.NewDownloadCheckpoint(now), nil
}

// persist saves cp, logging failures
func (d *Downloader) persist(ctx context.Context, cp *domain.DownloadCheckpoint, logger *zap.Logger) error {
	if err := d.aux.SaveCheckpoint(context.WithoutCancel(ctx), cp); err != nil {
		logger.Error("failed to save checkpoint", zap.Error(err))
		return err
	}
	return nil
}

// interrupted stops a run early, keeping the checkpoint for a later resume
func (d *Downloader) interrupted(ctx context.Context, st *runState, cp *domain.DownloadCheckpoint, current int, summary *domain.DownloadSummary, cause error) (*domain.DownloadSummary, error) {
	resumable := d.persist(ctx, cp, st.logger) == nil
	st.logger.Warn("bulk download interrupted",
		zap.Int("completed", current),
		zap.Int("total", cp.Total),
		zap.Error(cause))
	st.report(domain.DownloadProgress{
		Phase:     domain.PhaseError,
		Current:   current,
		Total:     cp.Total,
		Message:   cause.Error(),
		Resumable: resumable,
	})
	d.metrics.RecordBulkRun("failed")
	return summary, fmt.Errorf("bulk download interrupted: %w", cause)
}
