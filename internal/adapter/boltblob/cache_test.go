package boltblob

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertextoedge/story-offline-cache/internal/port"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c, err := Open(filepath.Join(t.TempDir(), "blobs", "blobs.db"), WithNow(func() time.Time { return now }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCache_PutGet(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	got, err := c.Get(ctx, "https://img.example/a.png")
	require.NoError(t, err)
	assert.Nil(t, got)

	has, err := c.Has(ctx, "https://img.example/a.png")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, c.Put(ctx, "https://img.example/a.png", &port.Asset{ContentType: "image/png", Data: []byte("png-bytes")}))

	got, err = c.Get(ctx, "https://img.example/a.png")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "image/png", got.ContentType)
	assert.Equal(t, []byte("png-bytes"), got.Data)

	has, err = c.Has(ctx, "https://img.example/a.png")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestCache_StatsTrackOverwrites(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Put(ctx, "u1", &port.Asset{Data: make([]byte, 100)}))
	require.NoError(t, c.Put(ctx, "u2", &port.Asset{Data: make([]byte, 50)}))
	require.NoError(t, c.Put(ctx, "u1", &port.Asset{Data: make([]byte, 30)}))

	count, total, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, int64(80), total)
}

func TestCache_Clear(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Put(ctx, "u1", &port.Asset{Data: []byte("x")}))
	require.NoError(t, c.Clear(ctx))

	got, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)

	count, total, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, total)

	// still writable after clear
	require.NoError(t, c.Put(ctx, "u2", &port.Asset{Data: []byte("yy")}))
	_, total, err = c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}
