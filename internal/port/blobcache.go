package port

import (
	"context"
)

// BlobCache caches fetched assets keyed by source URL.
// Entries are not tied to records and are only removed by Clear.
type BlobCache interface {
	// Get returns the cached asset, or nil if absent
	Get(ctx context.Context, url string) (*Asset, error)

	// Has reports whether url is cached without reading the body
	Has(ctx context.Context, url string) (bool, error)

	// Put stores an asset; overwriting an existing entry is allowed
	Put(ctx context.Context, url string, asset *Asset) error

	// Clear removes every cached asset
	Clear(ctx context.Context) error

	// Stats returns the number of cached assets and their total size in bytes
	Stats(ctx context.Context) (count int, bytes int64, err error)
}
