package quota

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vertextoedge/story-offline-cache/internal/adapter/sqlite"
	"github.com/vertextoedge/story-offline-cache/internal/domain"
)

// mockSettings implements port.SettingsStore for testing
type mockSettings struct {
	limitMB  int
	setCalls int
	setErr   error
}

func (m *mockSettings) StorageLimitMB() int   { return m.limitMB }
func (m *mockSettings) PrefetchEnabled() bool { return true }
func (m *mockSettings) SetStorageLimitMB(mb int) error {
	m.setCalls++
	if m.setErr != nil {
		return m.setErr
	}
	m.limitMB = mb
	return nil
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, limitMB int) (*Manager, *sqlite.Store, *mockSettings) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "offline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	settings := &mockSettings{limitMB: limitMB}
	return New(store, settings, DefaultConfig(), zap.NewNop(), nil), store, settings
}

func cacheKey(i int) domain.RecordKey {
	return domain.RecordKey(fmt.Sprintf("c%03d", i))
}

// fillCache inserts keys c<from>..c<to-1>, each accessed one second after the previous
func fillCache(t *testing.T, store *sqlite.Store, from, to int) {
	t.Helper()
	for i := from; i < to; i++ {
		key := cacheKey(i)
		require.NoError(t, store.UpsertCacheEntry(context.Background(), &domain.CacheEntry{
			Key:            key,
			Payload:        domain.Snapshot{Key: key, Title: key.String()},
			LastAccessedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
}

func fillLibrary(t *testing.T, store *sqlite.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		key := domain.RecordKey(fmt.Sprintf("l%03d", i))
		require.NoError(t, store.UpsertLibraryEntry(context.Background(), &domain.LibraryEntry{
			Key:     key,
			Payload: domain.Snapshot{Key: key},
			SavedAt: base,
		}))
	}
}

func TestManager_SetLimitMB(t *testing.T) {
	tests := []struct {
		name      string
		value     int
		wantErr   bool
		wantLimit int
	}{
		{name: "preset accepted", value: 450, wantLimit: 450},
		{name: "smallest preset", value: 50, wantLimit: 50},
		{name: "between presets rejected", value: 200, wantErr: true, wantLimit: 300},
		{name: "zero rejected", value: 0, wantErr: true, wantLimit: 300},
		{name: "negative rejected", value: -100, wantErr: true, wantLimit: 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, settings := newTestManager(t, 300)

			err := m.SetLimitMB(tt.value)
			if tt.wantErr {
				assert.True(t, errors.Is(err, domain.ErrInvalidStorageLimit))
				assert.Zero(t, settings.setCalls, "invalid values must not be written")
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantLimit, m.GetLimitMB())
		})
	}
}

func TestManager_GetUsage(t *testing.T) {
	m, store, _ := newTestManager(t, 300)
	fillCache(t, store, 0, 3)
	fillLibrary(t, store, 2)

	usage, err := m.GetUsage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, usage.CacheCount)
	assert.Equal(t, 2, usage.LibraryCount)
	assert.Equal(t, 5*m.EntrySizeBytes(), usage.TotalBytes)
}

func TestManager_CheckAndCleanup_BelowHighWater(t *testing.T) {
	m, store, _ := newTestManager(t, 100)
	// 81 x 1.1 MB = 89.1 MB, under the 90 MB trigger
	fillCache(t, store, 0, 81)

	res, err := m.CheckAndCleanup(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Triggered)
	assert.Empty(t, res.Evicted)
	assert.Equal(t, 81, res.After.CacheCount)
}

func TestManager_CheckAndCleanup_Hysteresis(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestManager(t, 100)
	limit := m.LimitBytes()

	// 86 x 1.1 MB = 94.6 MB, about 95% of the limit
	fillCache(t, store, 0, 86)

	res, err := m.CheckAndCleanup(ctx)
	require.NoError(t, err)
	require.True(t, res.Triggered)
	assert.LessOrEqual(t, res.After.TotalBytes, limit*70/100)
	assert.Equal(t, 63, res.After.CacheCount)

	// The oldest accessed entries go first
	require.Len(t, res.Evicted, 23)
	for i, key := range res.Evicted {
		assert.Equal(t, cacheKey(i), key)
	}
	assert.False(t, res.ResultListDropped)

	// Growing back up to 88 MB must not retrigger
	for i := 86; i < 86+17; i++ {
		fillCache(t, store, i, i+1)
		res, err := m.CheckAndCleanup(ctx)
		require.NoError(t, err)
		assert.False(t, res.Triggered, "cleanup retriggered at %d entries", res.Before.CacheCount)
	}
	usage, err := m.GetUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 80, usage.CacheCount)
}

func TestManager_CheckAndCleanup_LibraryOverBudget(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestManager(t, 50)

	require.NoError(t, store.SaveResultList(ctx, &domain.ResultList{
		Items:    []domain.ListItem{{Key: "x", Title: "X"}},
		CachedAt: base,
	}))
	// 46 library entries = 50.6 MB alone
	fillLibrary(t, store, 46)
	fillCache(t, store, 0, 5)

	res, err := m.CheckAndCleanup(ctx)
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Len(t, res.Evicted, 5)
	assert.True(t, res.ResultListDropped)

	// Library is never evicted automatically
	assert.Equal(t, 46, res.After.LibraryCount)
	assert.Zero(t, res.After.CacheCount)

	list, err := store.GetResultList(ctx)
	require.NoError(t, err)
	assert.Nil(t, list)
}

func TestNew_FixesInvalidConfig(t *testing.T) {
	m := New(nil, &mockSettings{limitMB: 300}, Config{HighWater: 2, LowWater: 0.95}, zap.NewNop(), nil)
	assert.Equal(t, DefaultConfig(), m.config)
}
