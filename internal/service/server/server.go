package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/story-offline-cache/internal/domain"
	"github.com/vertextoedge/story-offline-cache/internal/port"
	"github.com/vertextoedge/story-offline-cache/internal/telemetry"
	"github.com/vertextoedge/story-offline-cache/internal/util/idle"
)

// Library is the Cache/Library surface the API exposes
type Library interface {
	GetRecord(ctx context.Context, key domain.RecordKey) (*domain.Snapshot, domain.Collection, error)
	CacheRecord(ctx context.Context, snap domain.Snapshot) error
	SaveToLibrary(ctx context.Context, snap domain.Snapshot) error
	RemoveFromLibrary(ctx context.Context, key domain.RecordKey) error
	ListAllOfflineKeys(ctx context.Context) ([]domain.RecordKey, error)
	ListLibrary(ctx context.Context) ([]*domain.LibraryEntry, error)
	ClearCache(ctx context.Context) (int, error)
	ClearLibrary(ctx context.Context) (int, error)
	SaveResultList(ctx context.Context, items []domain.ListItem) error
	LoadResultList(ctx context.Context) (*domain.ResultList, bool, error)
}

// Quota is the storage budget surface
type Quota interface {
	GetLimitMB() int
	SetLimitMB(mb int) error
	LimitBytes() int64
	GetUsage(ctx context.Context) (domain.Usage, error)
}

// Downloader is the bulk download surface
type Downloader interface {
	StartBackground(ctx context.Context, progress domain.ProgressFunc, resume bool) (string, error)
	IsRunning() bool
	LastProgress() domain.DownloadProgress
	CheckResumable(ctx context.Context) (domain.ResumeInfo, error)
	ClearCheckpoint(ctx context.Context) error
}

// Prefetcher queues neighbors of the record being viewed
type Prefetcher interface {
	PrefetchAdjacent(ctx context.Context, current domain.RecordKey, ordered []domain.RecordKey, rng int) []domain.RecordKey
}

// Assets loads artwork through the blob cache
type Assets interface {
	Load(ctx context.Context, url string) (*port.Asset, bool, error)
}

// Pinger checks the offline store
type Pinger interface {
	Ping() error
}

// Deps are the services behind the API
type Deps struct {
	Store      Pinger
	Catalog    port.Catalog
	Library    Library
	Quota      Quota
	Downloader Downloader
	Prefetcher Prefetcher
	Assets     Assets
	Activity   *idle.Tracker
	Metrics    *telemetry.Metrics
}

// Config contains HTTP server configuration
type Config struct {
	BindAddr     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	FallbackImageSlot int // Thumbnail slot for records without a default image
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		BindAddr:     "127.0.0.1:8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,

		FallbackImageSlot: 1,
	}
}

// Server represents the HTTP API server
type Server struct {
	config *Config
	deps   Deps
	logger *zap.Logger
	server *http.Server

	// runCtx outlives requests; background downloads are bound to it
	runCtx context.Context
}

// New creates a new HTTP server
func New(cfg *Config, deps Deps, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.FallbackImageSlot <= 0 {
		cfg.FallbackImageSlot = DefaultConfig().FallbackImageSlot
	}
	if deps.Activity == nil {
		deps.Activity = idle.New()
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		logger: logger,
		runCtx: context.Background(),
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Records and collections
	mux.HandleFunc("GET /records/{key}", s.handleGetRecord)
	mux.HandleFunc("GET /offline", s.handleListOffline)
	mux.HandleFunc("GET /library", s.handleListLibrary)
	mux.HandleFunc("PUT /library/{key}", s.handleSaveToLibrary)
	mux.HandleFunc("DELETE /library/{key}", s.handleRemoveFromLibrary)
	mux.HandleFunc("DELETE /library", s.handleClearLibrary)
	mux.HandleFunc("DELETE /cache", s.handleClearCache)
	mux.HandleFunc("GET /results", s.handleResults)
	mux.HandleFunc("GET /assets", s.handleAsset)

	// Storage budget
	mux.HandleFunc("GET /storage", s.handleStorage)
	mux.HandleFunc("PUT /storage/limit", s.handleSetLimit)

	// Background work
	mux.HandleFunc("POST /download", s.handleStartDownload)
	mux.HandleFunc("GET /download", s.handleDownloadStatus)
	mux.HandleFunc("DELETE /download/checkpoint", s.handleClearCheckpoint)
	mux.HandleFunc("POST /prefetch", s.handlePrefetch)

	mux.Handle("GET /metrics", deps.Metrics.Handler())

	handler := ActivityMiddleware(deps.Activity)(mux)
	handler = MetricsMiddleware(deps.Metrics)(handler)
	handler = LoggingMiddleware(logger)(handler)

	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server. Background downloads started through the
// API are cancelled with ctx.
func (s *Server) Start(ctx context.Context) error {
	s.runCtx = ctx
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	offline := true
	if err := s.deps.Store.Ping(); err != nil {
		s.logger.Warn("health check: offline store unavailable", zap.Error(err))
		status = "degraded"
		offline = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          status,
		"offline_enabled": offline,
		"time":            time.Now().Format(time.RFC3339),
	})
}

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
