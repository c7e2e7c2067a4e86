// Package library implements the policy layer between the two offline
// collections: the automatic recency Cache and the user-curated Library.
//
// A key lives in at most one collection. Saving to the Library removes any
// Cache copy, and caching a key that is already in the Library does nothing.
// Writes that touch both collections are serialized by the Manager's mutex;
// reads go straight to the store and treat the Library as authoritative.
package library

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/story-offline-cache/internal/domain"
	"github.com/vertextoedge/story-offline-cache/internal/port"
	"github.com/vertextoedge/story-offline-cache/internal/service/quota"
	"github.com/vertextoedge/story-offline-cache/internal/telemetry"
)

// Quota is the budget check run after every cache insert
type Quota interface {
	CheckAndCleanup(ctx context.Context) (*quota.CleanupResult, error)
}

// Config contains manager configuration
type Config struct {
	MaxCacheEntries    int           // Hard count ceiling of the Cache
	ResultListFreshFor time.Duration // Window in which the cached result list is fresh
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		MaxCacheEntries:    100,
		ResultListFreshFor: 5 * time.Minute,
	}
}

// Manager owns both offline collections
type Manager struct {
	store   port.Store
	blobs   port.BlobCache
	quota   Quota
	config  Config
	logger  *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	mu      sync.Mutex
	touches sync.WaitGroup

	unavailableOnce sync.Once
}

// Option configures a Manager
type Option func(*Manager)

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithMetrics attaches metrics
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// New creates a new Manager
func New(store port.Store, blobs port.BlobCache, q Quota, cfg Config, logger *zap.Logger, opts ...Option) *Manager {
	if cfg.MaxCacheEntries <= 0 {
		cfg.MaxCacheEntries = DefaultConfig().MaxCacheEntries
	}
	if cfg.ResultListFreshFor <= 0 {
		cfg.ResultListFreshFor = DefaultConfig().ResultListFreshFor
	}

	m := &Manager{
		store:  store,
		blobs:  blobs,
		quota:  q,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CacheRecord stores a viewed record in the Cache.
// It is a no-op when the record is already in the Library. After the
// upsert the Cache is pruned to its count ceiling by recency and the
// storage budget is checked.
func (m *Manager) CacheRecord(ctx context.Context, snap domain.Snapshot) error {
	if snap.Key == "" {
		return fmt.Errorf("%w: empty record key", domain.ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	inLibrary, err := m.store.HasLibraryEntry(ctx, snap.Key)
	if err != nil {
		return m.storeErr("check library", err)
	}
	if inLibrary {
		return nil
	}

	entry := &domain.CacheEntry{
		Key:            snap.Key,
		Payload:        snap,
		LastAccessedAt: m.now(),
	}
	if err := m.store.UpsertCacheEntry(ctx, entry); err != nil {
		return m.storeErr("cache record", err)
	}

	if err := m.pruneToCeiling(ctx); err != nil {
		return err
	}

	if m.quota != nil {
		if _, err := m.quota.CheckAndCleanup(ctx); err != nil {
			return m.storeErr("quota cleanup", err)
		}
	}
	return nil
}

// pruneToCeiling drops the least recently accessed entries above the count ceiling.
// Caller holds m.mu.
func (m *Manager) pruneToCeiling(ctx context.Context) error {
	count, err := m.store.CountCacheEntries(ctx)
	if err != nil {
		return m.storeErr("count cache", err)
	}
	over := count - m.config.MaxCacheEntries
	if over <= 0 {
		return nil
	}

	evicted, err := m.store.DeleteOldestCacheEntries(ctx, over)
	if err != nil {
		return m.storeErr("prune cache", err)
	}
	m.metrics.RecordEviction(telemetry.EvictCountCeiling, len(evicted))
	m.logger.Debug("pruned cache to ceiling",
		zap.Int("evicted", len(evicted)),
		zap.Int("ceiling", m.config.MaxCacheEntries))
	return nil
}

// GetRecord returns the offline copy of key and the collection it came from.
// The Library is consulted first. A Cache hit refreshes lastAccessedAt in
// the background; the refresh is best-effort and may lag the returned
// result. Returns nil and CollectionNone when the record is not offline.
func (m *Manager) GetRecord(ctx context.Context, key domain.RecordKey) (*domain.Snapshot, domain.Collection, error) {
	lib, err := m.store.GetLibraryEntry(ctx, key)
	if err != nil {
		return nil, domain.CollectionNone, m.storeErr("get library entry", err)
	}
	if lib != nil {
		m.metrics.RecordLookup(string(domain.CollectionLibrary))
		return &lib.Payload, domain.CollectionLibrary, nil
	}

	entry, err := m.store.GetCacheEntry(ctx, key)
	if err != nil {
		return nil, domain.CollectionNone, m.storeErr("get cache entry", err)
	}
	if entry == nil {
		m.metrics.RecordLookup("miss")
		return nil, domain.CollectionNone, nil
	}

	m.metrics.RecordLookup(string(domain.CollectionCache))
	m.touch(context.WithoutCancel(ctx), key)
	return &entry.Payload, domain.CollectionCache, nil
}

// touch updates lastAccessedAt without blocking the caller
func (m *Manager) touch(ctx context.Context, key domain.RecordKey) {
	at := m.now()
	m.touches.Add(1)
	go func() {
		defer m.touches.Done()
		if err := m.store.TouchCacheEntry(ctx, key, at); err != nil {
			m.logger.Debug("failed to touch cache entry",
				zap.String("key", key.String()),
				zap.Error(err))
		}
	}()
}

// Wait blocks until pending background touches have finished
func (m *Manager) Wait() {
	m.touches.Wait()
}

// SaveToLibrary stores a record permanently and removes its Cache copy.
// Saving an existing record refreshes savedAt.
func (m *Manager) SaveToLibrary(ctx context.Context, snap domain.Snapshot) error {
	if snap.Key == "" {
		return fmt.Errorf("%w: empty record key", domain.ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := &domain.LibraryEntry{
		Key:     snap.Key,
		Payload: snap,
		SavedAt: m.now(),
	}
	if err := m.store.UpsertLibraryEntry(ctx, entry); err != nil {
		return m.storeErr("save to library", err)
	}
	if err := m.store.DeleteCacheEntry(ctx, snap.Key); err != nil {
		return m.storeErr("drop cache copy", err)
	}
	return nil
}

// RemoveFromLibrary deletes key from the Library only. The record is not
// moved back to the Cache.
func (m *Manager) RemoveFromLibrary(ctx context.Context, key domain.RecordKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.DeleteLibraryEntry(ctx, key); err != nil {
		return m.storeErr("remove from library", err)
	}
	return nil
}

// IsInLibrary reports whether key is saved in the Library
func (m *Manager) IsInLibrary(ctx context.Context, key domain.RecordKey) (bool, error) {
	ok, err := m.store.HasLibraryEntry(ctx, key)
	if err != nil {
		return false, m.storeErr("check library", err)
	}
	return ok, nil
}

// IsOffline reports whether key is in either collection
func (m *Manager) IsOffline(ctx context.Context, key domain.RecordKey) (bool, error) {
	inLibrary, err := m.store.HasLibraryEntry(ctx, key)
	if err != nil {
		return false, m.storeErr("check library", err)
	}
	if inLibrary {
		return true, nil
	}
	inCache, err := m.store.HasCacheEntry(ctx, key)
	if err != nil {
		return false, m.storeErr("check cache", err)
	}
	return inCache, nil
}

// ListAllOfflineKeys returns the sorted union of Cache and Library keys
func (m *Manager) ListAllOfflineKeys(ctx context.Context) ([]domain.RecordKey, error) {
	libKeys, err := m.store.ListLibraryKeys(ctx)
	if err != nil {
		return nil, m.storeErr("list library keys", err)
	}
	cacheKeys, err := m.store.ListCacheKeys(ctx)
	if err != nil {
		return nil, m.storeErr("list cache keys", err)
	}

	seen := make(map[domain.RecordKey]struct{}, len(libKeys)+len(cacheKeys))
	keys := make([]domain.RecordKey, 0, len(libKeys)+len(cacheKeys))
	for _, list := range [][]domain.RecordKey{libKeys, cacheKeys} {
		for _, k := range list {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

// ListLibrary returns the Library, most recently saved first
func (m *Manager) ListLibrary(ctx context.Context) ([]*domain.LibraryEntry, error) {
	entries, err := m.store.ListLibraryEntries(ctx)
	if err != nil {
		return nil, m.storeErr("list library", err)
	}
	return entries, nil
}

// ClearCache removes every Cache entry and every cached asset
func (m *Manager) ClearCache(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.store.ClearCache(ctx)
	if err != nil {
		return 0, m.storeErr("clear cache", err)
	}
	m.metrics.RecordEviction(telemetry.EvictManualClear, n)

	if m.blobs != nil {
		if err := m.blobs.Clear(ctx); err != nil {
			return n, fmt.Errorf("failed to clear blob cache: %w", err)
		}
	}

	m.logger.Info("cache cleared", zap.Int("entries", n))
	return n, nil
}

// ClearLibrary removes every Library entry
func (m *Manager) ClearLibrary(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.store.ClearLibrary(ctx)
	if err != nil {
		return 0, m.storeErr("clear library", err)
	}
	m.logger.Info("library cleared", zap.Int("entries", n))
	return n, nil
}

// RunCleanup runs the quota check under the write lock
func (m *Manager) RunCleanup(ctx context.Context) (*quota.CleanupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.quota == nil {
		return &quota.CleanupResult{}, nil
	}
	res, err := m.quota.CheckAndCleanup(ctx)
	if err != nil {
		return nil, m.storeErr("quota cleanup", err)
	}
	return res, nil
}

// SaveResultList caches the catalog's list view with the current time
func (m *Manager) SaveResultList(ctx context.Context, items []domain.ListItem) error {
	list := &domain.ResultList{Items: items, CachedAt: m.now()}
	if err := m.store.SaveResultList(ctx, list); err != nil {
		return m.storeErr("save result list", err)
	}
	return nil
}

// LoadResultList returns the cached list view and whether it is still fresh.
// A stale list is still returned; nil means nothing is cached.
func (m *Manager) LoadResultList(ctx context.Context) (*domain.ResultList, bool, error) {
	list, err := m.store.GetResultList(ctx)
	if err != nil {
		return nil, false, m.storeErr("load result list", err)
	}
	if list == nil {
		return nil, false, nil
	}
	return list, list.IsFresh(m.now(), m.config.ResultListFreshFor), nil
}

// storeErr wraps err and logs store unavailability once per Manager
func (m *Manager) storeErr(op string, err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		m.unavailableOnce.Do(func() {
			m.logger.Error("offline store unavailable; offline features disabled", zap.Error(err))
		})
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
