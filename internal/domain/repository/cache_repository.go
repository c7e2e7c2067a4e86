package repository

import (
	"context"
	"time"

	"github.com/vertextoedge/story-offline-cache/internal/domain"
)

// CacheRepository defines persistence for the automatic recency cache
type CacheRepository interface {
	// GetCacheEntry retrieves a cache entry by key
	// Returns nil, nil if the key is not cached
	GetCacheEntry(ctx context.Context, key domain.RecordKey) (*domain.CacheEntry, error)

	// HasCacheEntry reports whether key is cached without decoding the payload
	HasCacheEntry(ctx context.Context, key domain.RecordKey) (bool, error)

	// UpsertCacheEntry inserts or replaces a cache entry
	UpsertCacheEntry(ctx context.Context, entry *domain.CacheEntry) error

	// TouchCacheEntry updates last_accessed_at of an existing entry
	// Missing keys are ignored
	TouchCacheEntry(ctx context.Context, key domain.RecordKey, at time.Time) error

	// DeleteCacheEntry removes a cache entry; missing keys are ignored
	DeleteCacheEntry(ctx context.Context, key domain.RecordKey) error

	// CountCacheEntries returns the number of cached records
	CountCacheEntries(ctx context.Context) (int, error)

	// DeleteOldestCacheEntries removes the n least recently accessed entries
	// Returns the keys that were removed, oldest first
	DeleteOldestCacheEntries(ctx context.Context, n int) ([]domain.RecordKey, error)

	// ListCacheKeys returns every cached key
	ListCacheKeys(ctx context.Context) ([]domain.RecordKey, error)

	// ClearCache removes every cache entry and returns how many were removed
	ClearCache(ctx context.Context) (int, error)
}
