// Package boltblob implements the asset blob cache on bbolt.
// Keys are the BLAKE3 digest of the source URL so arbitrary URLs map to
// fixed-size keys.
package boltblob

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"go.etcd.io/bbolt"

	"github.com/vertextoedge/story-offline-cache/internal/port"
)

var (
	bucketBlobs = []byte("blobs")
	bucketMeta  = []byte("blob_meta")
	bucketStats = []byte("blob_stats")

	statsKeyBytes = []byte("bytes")
)

// blobMeta is stored next to each blob
type blobMeta struct {
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CachedAt    time.Time `json:"cached_at"`
}

// Cache implements port.BlobCache using bbolt
type Cache struct {
	db  *bbolt.DB
	now func() time.Time
}

var _ port.BlobCache = (*Cache)(nil)

// Option configures a Cache
type Option func(*Cache)

// WithNow sets the time function for testing
func WithNow(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// Open opens the blob cache database at path
func Open(path string, opts ...Option) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating blob cache dir: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening blob cache: %w", err)
	}

	c := &Cache{db: db, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketBlobs, bucketMeta, bucketStats} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the database
func (c *Cache) Close() error {
	return c.db.Close()
}

func urlKey(url string) []byte {
	sum := blake3.Sum256([]byte(url))
	return sum[:]
}

// Get returns the cached asset, or nil if absent
func (c *Cache) Get(_ context.Context, url string) (*port.Asset, error) {
	var asset *port.Asset
	err := c.db.View(func(tx *bbolt.Tx) error {
		key := urlKey(url)
		raw := tx.Bucket(bucketMeta).Get(key)
		if raw == nil {
			return nil
		}
		var meta blobMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return fmt.Errorf("decoding blob meta: %w", err)
		}
		data := tx.Bucket(bucketBlobs).Get(key)
		asset = &port.Asset{
			ContentType: meta.ContentType,
			Data:        append([]byte(nil), data...),
		}
		return nil
	})
	return asset, err
}

// Has reports whether url is cached
func (c *Cache) Has(_ context.Context, url string) (bool, error) {
	var found bool
	err := c.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketMeta).Get(urlKey(url)) != nil
		return nil
	})
	return found, err
}

// Put stores an asset, overwriting any existing entry for url
func (c *Cache) Put(_ context.Context, url string, asset *port.Asset) error {
	meta, err := json.Marshal(blobMeta{
		URL:         url,
		ContentType: asset.ContentType,
		Size:        int64(len(asset.Data)),
		CachedAt:    c.now(),
	})
	if err != nil {
		return fmt.Errorf("encoding blob meta: %w", err)
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		key := urlKey(url)
		blobs := tx.Bucket(bucketBlobs)

		delta := int64(len(asset.Data))
		if prev := blobs.Get(key); prev != nil {
			delta -= int64(len(prev))
		}

		if err := blobs.Put(key, asset.Data); err != nil {
			return err
		}
		if err := tx.Bucket(bucketMeta).Put(key, meta); err != nil {
			return err
		}
		return addBytes(tx, delta)
	})
}

// Clear removes every cached asset
func (c *Cache) Clear(_ context.Context) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketBlobs, bucketMeta, bucketStats} {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

// Stats returns the number of cached assets and their total size
func (c *Cache) Stats(_ context.Context) (int, int64, error) {
	var (
		count int
		total int64
	)
	err := c.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket(bucketMeta).Stats().KeyN
		if raw := tx.Bucket(bucketStats).Get(statsKeyBytes); len(raw) == 8 {
			total = int64(binary.BigEndian.Uint64(raw))
		}
		return nil
	})
	return count, total, err
}

func addBytes(tx *bbolt.Tx, delta int64) error {
	b := tx.Bucket(bucketStats)
	var total int64
	if raw := b.Get(statsKeyBytes); len(raw) == 8 {
		total = int64(binary.BigEndian.Uint64(raw))
	}
	total += delta
	if total < 0 {
		total = 0
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(total))
	return b.Put(statsKeyBytes, buf)
}
