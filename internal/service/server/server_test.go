package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vertextoedge/story-offline-cache/internal/domain"
	"github.com/vertextoedge/story-offline-cache/internal/port"
	"github.com/vertextoedge/story-offline-cache/internal/telemetry"
	"github.com/vertextoedge/story-offline-cache/internal/util/idle"
)

// mockPinger implements Pinger for testing
type mockPinger struct{ err error }

func (m *mockPinger) Ping() error { return m.err }

// mockCatalog implements port.Catalog for testing
type mockCatalog struct {
	records map[domain.RecordKey]domain.Snapshot
	listErr error
}

func (m *mockCatalog) ListAll(context.Context) ([]domain.Snapshot, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]domain.Snapshot, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *mockCatalog) GetOne(_ context.Context, key domain.RecordKey) (*domain.Snapshot, error) {
	r, ok := m.records[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

// mockLibrary implements Library with in-memory collections
type mockLibrary struct {
	mu       sync.Mutex
	cache    map[domain.RecordKey]domain.Snapshot
	library  map[domain.RecordKey]domain.LibraryEntry
	results  *domain.ResultList
	fresh    bool
	storeErr error
}

func newMockLibrary() *mockLibrary {
	return &mockLibrary{
		cache:   make(map[domain.RecordKey]domain.Snapshot),
		library: make(map[domain.RecordKey]domain.LibraryEntry),
	}
}

func (m *mockLibrary) GetRecord(_ context.Context, key domain.RecordKey) (*domain.Snapshot, domain.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storeErr != nil {
		return nil, domain.CollectionNone, m.storeErr
	}
	if e, ok := m.library[key]; ok {
		return &e.Payload, domain.CollectionLibrary, nil
	}
	if s, ok := m.cache[key]; ok {
		return &s, domain.CollectionCache, nil
	}
	return nil, domain.CollectionNone, nil
}

func (m *mockLibrary) CacheRecord(_ context.Context, snap domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storeErr != nil {
		return m.storeErr
	}
	if _, ok := m.library[snap.Key]; !ok {
		m.cache[snap.Key] = snap
	}
	return nil
}

func (m *mockLibrary) SaveToLibrary(_ context.Context, snap domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storeErr != nil {
		return m.storeErr
	}
	m.library[snap.Key] = domain.LibraryEntry{Key: snap.Key, Payload: snap, SavedAt: time.Now()}
	delete(m.cache, snap.Key)
	return nil
}

func (m *mockLibrary) RemoveFromLibrary(_ context.Context, key domain.RecordKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.library, key)
	return nil
}

func (m *mockLibrary) ListAllOfflineKeys(context.Context) ([]domain.RecordKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []domain.RecordKey
	for k := range m.cache {
		keys = append(keys, k)
	}
	for k := range m.library {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

func (m *mockLibrary) ListLibrary(context.Context) ([]*domain.LibraryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.LibraryEntry, 0, len(m.library))
	for _, e := range m.library {
		out = append(out, &e)
	}
	return out, nil
}

func (m *mockLibrary) ClearCache(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.cache)
	m.cache = make(map[domain.RecordKey]domain.Snapshot)
	return n, nil
}

func (m *mockLibrary) ClearLibrary(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.library)
	m.library = make(map[domain.RecordKey]domain.LibraryEntry)
	return n, nil
}

func (m *mockLibrary) SaveResultList(_ context.Context, items []domain.ListItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = &domain.ResultList{Items: items, CachedAt: time.Now()}
	m.fresh = true
	return nil
}

func (m *mockLibrary) LoadResultList(context.Context) (*domain.ResultList, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results, m.fresh, nil
}

// mockQuota implements Quota for testing
type mockQuota struct {
	limitMB int
	usage   domain.Usage
}

func (m *mockQuota) GetLimitMB() int   { return m.limitMB }
func (m *mockQuota) LimitBytes() int64 { return int64(m.limitMB) * domain.BytesPerMB }
func (m *mockQuota) GetUsage(context.Context) (domain.Usage, error) {
	return m.usage, nil
}
func (m *mockQuota) SetLimitMB(mb int) error {
	if err := domain.ValidateStorageLimit(mb); err != nil {
		return err
	}
	m.limitMB = mb
	return nil
}

// mockDownloader implements Downloader for testing
type mockDownloader struct {
	mu        sync.Mutex
	running   bool
	resume    *bool
	cleared   int
	resumable domain.ResumeInfo
}

func (m *mockDownloader) StartBackground(_ context.Context, _ domain.ProgressFunc, resume bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return "", domain.ErrDownloadInProgress
	}
	m.running = true
	m.resume = &resume
	return "run-1", nil
}

func (m *mockDownloader) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *mockDownloader) LastProgress() domain.DownloadProgress {
	return domain.DownloadProgress{RunID: "run-1", Phase: domain.PhaseDownloading, Current: 3, Total: 10}
}

func (m *mockDownloader) CheckResumable(context.Context) (domain.ResumeInfo, error) {
	return m.resumable, nil
}

func (m *mockDownloader) ClearCheckpoint(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared++
	return nil
}

// mockPrefetcher implements Prefetcher for testing
type mockPrefetcher struct {
	current domain.RecordKey
	rng     int
}

func (m *mockPrefetcher) PrefetchAdjacent(_ context.Context, current domain.RecordKey, ordered []domain.RecordKey, rng int) []domain.RecordKey {
	m.current = current
	m.rng = rng
	var out []domain.RecordKey
	for _, k := range ordered {
		if k != current {
			out = append(out, k)
		}
	}
	return out
}

// mockAssets implements Assets for testing
type mockAssets struct {
	cached map[string]bool
}

func (m *mockAssets) Load(_ context.Context, url string) (*port.Asset, bool, error) {
	if url == "https://cdn.example/broken.png" {
		return nil, false, errors.New("fetch failed")
	}
	downloaded := !m.cached[url]
	m.cached[url] = true
	return &port.Asset{ContentType: "image/png", Data: []byte("png:" + url)}, downloaded, nil
}

type fixture struct {
	srv        *Server
	catalog    *mockCatalog
	library    *mockLibrary
	quota      *mockQuota
	downloader *mockDownloader
	prefetcher *mockPrefetcher
	activity   *idle.Tracker
	metrics    *telemetry.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		catalog: &mockCatalog{records: map[domain.RecordKey]domain.Snapshot{
			"r1": {Key: "r1", Title: "Creation"},
			"r2": {Key: "r2", Title: "Exodus", Images: []domain.Image{{Slot: 1, URL: "https://cdn.example/r2.png"}}},
		}},
		library:    newMockLibrary(),
		quota:      &mockQuota{limitMB: 300},
		downloader: &mockDownloader{},
		prefetcher: &mockPrefetcher{},
		activity:   idle.New(),
		metrics:    telemetry.New(),
	}
	f.srv = New(nil, Deps{
		Store:      &mockPinger{},
		Catalog:    f.catalog,
		Library:    f.library,
		Quota:      f.quota,
		Downloader: f.downloader,
		Prefetcher: f.prefetcher,
		Assets:     &mockAssets{cached: make(map[string]bool)},
		Activity:   f.activity,
		Metrics:    f.metrics,
	}, zap.NewNop())
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["offline_enabled"])
}

func TestHealth_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	f.srv.deps.Store = &mockPinger{err: domain.ErrStoreUnavailable}

	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, false, body["offline_enabled"])
}

func TestGetRecord(t *testing.T) {
	f := newFixture(t)

	// First view comes from the network and is cached
	rec := f.do(t, http.MethodGet, "/records/r1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "network", decode[recordResponse](t, rec).Source)
	assert.Contains(t, f.library.cache, domain.RecordKey("r1"))

	// Second view is served offline
	rec = f.do(t, http.MethodGet, "/records/r1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[recordResponse](t, rec)
	assert.Equal(t, "cache", resp.Source)
	assert.Equal(t, "Creation", resp.Record.Title)

	rec = f.do(t, http.MethodGet, "/records/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRecord_StoreUnavailableFallsBackToCatalog(t *testing.T) {
	f := newFixture(t)
	f.library.storeErr = domain.ErrStoreUnavailable

	rec := f.do(t, http.MethodGet, "/records/r2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "network", decode[recordResponse](t, rec).Source)
}

func TestLibraryLifecycle(t *testing.T) {
	f := newFixture(t)

	// View then save: the record moves from Cache to Library
	f.do(t, http.MethodGet, "/records/r1", "")
	rec := f.do(t, http.MethodPut, "/library/r1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, f.library.cache, domain.RecordKey("r1"))
	assert.Contains(t, f.library.library, domain.RecordKey("r1"))

	// Saving a record that is not offline fetches it from the catalog
	rec = f.do(t, http.MethodPut, "/library/r2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/library", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]libraryItem](t, rec)["entries"], 2)

	rec = f.do(t, http.MethodGet, "/offline", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []domain.RecordKey{"r1", "r2"}, decode[map[string][]domain.RecordKey](t, rec)["keys"])

	rec = f.do(t, http.MethodDelete, "/library/r1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/library", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, rec)["removed"])

	rec = f.do(t, http.MethodPut, "/library/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSaveToLibrary_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	f.library.storeErr = domain.ErrStoreUnavailable

	rec := f.do(t, http.MethodPut, "/library/r1", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClearCache(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/records/r1", "")
	f.do(t, http.MethodGet, "/records/r2", "")

	rec := f.do(t, http.MethodDelete, "/cache", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode[map[string]any](t, rec)["removed"])
	assert.Empty(t, f.library.cache)
}

func TestResults(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/results", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[resultsResponse](t, rec)
	assert.True(t, resp.Fresh)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "https://cdn.example/r2.png", resp.Items[1].Thumbnail)
	require.NotNil(t, f.library.results)

	// Stale snapshot is still served when the catalog is down
	f.library.fresh = false
	f.catalog.listErr = errors.New("connection refused")
	rec = f.do(t, http.MethodGet, "/results", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[resultsResponse](t, rec)
	assert.False(t, resp.Fresh)
	assert.Len(t, resp.Items, 2)
}

func TestResults_ConfiguredFallbackSlot(t *testing.T) {
	f := newFixture(t)
	f.catalog.records = map[domain.RecordKey]domain.Snapshot{
		"r3": {Key: "r3", Title: "Ruth", Images: []domain.Image{{Slot: 3, URL: "https://cdn.example/r3.png"}}},
	}
	cfg := DefaultConfig()
	cfg.FallbackImageSlot = 3
	srv := New(cfg, f.srv.deps, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/results", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[resultsResponse](t, rec)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "https://cdn.example/r3.png", resp.Items[0].Thumbnail)
}

func TestResults_NoSnapshotCatalogDown(t *testing.T) {
	f := newFixture(t)
	f.catalog.listErr = errors.New("connection refused")

	rec := f.do(t, http.MethodGet, "/results", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAssets(t *testing.T) {
	f := newFixture(t)
	url := "/assets?url=https://cdn.example/r2.png"

	rec := f.do(t, http.MethodGet, url, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = f.do(t, http.MethodGet, url, "")
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))

	rec = f.do(t, http.MethodGet, "/assets", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/assets?url=https://cdn.example/broken.png", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestStorage(t *testing.T) {
	f := newFixture(t)
	f.quota.usage = domain.Usage{TotalBytes: 150 * domain.BytesPerMB, CacheCount: 100, LibraryCount: 36}

	rec := f.do(t, http.MethodGet, "/storage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[storageResponse](t, rec)
	assert.Equal(t, 300, resp.LimitMB)
	assert.Equal(t, "150 MiB", resp.Usage)
	assert.InDelta(t, 50.0, resp.Percent, 0.001)
	assert.Equal(t, domain.StorageLimitPresets, resp.Presets)
}

func TestSetLimit(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantMB   int
	}{
		{"preset", `{"limit_mb": 450}`, http.StatusOK, 450},
		{"not a preset", `{"limit_mb": 200}`, http.StatusBadRequest, 300},
		{"bad json", `{`, http.StatusBadRequest, 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(t, http.MethodPut, "/storage/limit", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantMB, f.quota.limitMB)
		})
	}
}

func TestDownload(t *testing.T) {
	f := newFixture(t)
	f.downloader.resumable = domain.ResumeInfo{CanResume: true, Completed: 40, Total: 100}

	rec := f.do(t, http.MethodPost, "/download?resume=false", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "run-1", decode[map[string]string](t, rec)["run_id"])
	require.NotNil(t, f.downloader.resume)
	assert.False(t, *f.downloader.resume)

	rec = f.do(t, http.MethodPost, "/download", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/download", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[downloadStatus](t, rec)
	assert.True(t, status.Running)
	assert.Equal(t, domain.PhaseDownloading, status.Progress.Phase)
	assert.Equal(t, 40, status.Resume.Completed)

	rec = f.do(t, http.MethodDelete, "/download/checkpoint", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.downloader.running = false
	rec = f.do(t, http.MethodDelete, "/download/checkpoint", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, f.downloader.cleared)

	rec = f.do(t, http.MethodPost, "/download?resume=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPrefetch(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/prefetch", `{"current":"b","ordered":["a","b","c"],"range":1}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []domain.RecordKey{"a", "c"}, decode[map[string][]domain.RecordKey](t, rec)["queued"])
	assert.Equal(t, domain.RecordKey("b"), f.prefetcher.current)
	assert.Equal(t, 1, f.prefetcher.rng)

	rec = f.do(t, http.MethodPost, "/prefetch", `{"ordered":["a"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActivityTracking(t *testing.T) {
	f := newFixture(t)

	// Polling and scrapes do not count as foreground activity
	f.do(t, http.MethodGet, "/download", "")
	f.do(t, http.MethodGet, "/metrics", "")
	assert.Greater(t, f.activity.IdleFor(), time.Hour)

	f.do(t, http.MethodGet, "/records/r1", "")
	assert.Less(t, f.activity.IdleFor(), time.Minute)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/health", "")

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}
