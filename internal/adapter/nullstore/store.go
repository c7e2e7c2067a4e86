// Package nullstore provides the Store used when the offline database
// cannot be opened. Every operation fails with domain.ErrStoreUnavailable
// so offline features turn off instead of crashing the process.
package nullstore

import (
	"context"
	"fmt"
	"time"

	"github.com/vertextoedge/story-offline-cache/internal/domain"
	"github.com/vertextoedge/story-offline-cache/internal/port"
)

// Store rejects every operation
type Store struct {
	cause error
}

var _ port.Store = (*Store)(nil)

// New returns a Store that reports cause on every call
func New(cause error) *Store {
	return &Store{cause: cause}
}

func (s *Store) err() error {
	if s.cause == nil {
		return domain.ErrStoreUnavailable
	}
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, s.cause)
}

func (s *Store) GetCacheEntry(context.Context, domain.RecordKey) (*domain.CacheEntry, error) {
	return nil, s.err()
}

func (s *Store) HasCacheEntry(context.Context, domain.RecordKey) (bool, error) {
	return false, s.err()
}

func (s *Store) UpsertCacheEntry(context.Context, *domain.CacheEntry) error { return s.err() }

func (s *Store) TouchCacheEntry(context.Context, domain.RecordKey, time.Time) error {
	return s.err()
}

func (s *Store) DeleteCacheEntry(context.Context, domain.RecordKey) error { return s.err() }

func (s *Store) CountCacheEntries(context.Context) (int, error) { return 0, s.err() }

func (s *Store) DeleteOldestCacheEntries(context.Context, int) ([]domain.RecordKey, error) {
	return nil, s.err()
}

func (s *Store) ListCacheKeys(context.Context) ([]domain.RecordKey, error) { return nil, s.err() }

func (s *Store) ClearCache(context.Context) (int, error) { return 0, s.err() }

func (s *Store) GetLibraryEntry(context.Context, domain.RecordKey) (*domain.LibraryEntry, error) {
	return nil, s.err()
}

func (s *Store) HasLibraryEntry(context.Context, domain.RecordKey) (bool, error) {
	return false, s.err()
}

func (s *Store) UpsertLibraryEntry(context.Context, *domain.LibraryEntry) error { return s.err() }

func (s *Store) DeleteLibraryEntry(context.Context, domain.RecordKey) error { return s.err() }

func (s *Store) CountLibraryEntries(context.Context) (int, error) { return 0, s.err() }

func (s *Store) ListLibraryEntries(context.Context) ([]*domain.LibraryEntry, error) {
	return nil, s.err()
}

func (s *Store) ListLibraryKeys(context.Context) ([]domain.RecordKey, error) { return nil, s.err() }

func (s *Store) ClearLibrary(context.Context) (int, error) { return 0, s.err() }

func (s *Store) GetCheckpoint(context.Context) (*domain.DownloadCheckpoint, error) {
	return nil, s.err()
}

func (s *Store) SaveCheckpoint(context.Context, *domain.DownloadCheckpoint) error { return s.err() }

func (s *Store) DeleteCheckpoint(context.Context) error { return s.err() }

func (s *Store) GetResultList(context.Context) (*domain.ResultList, error) { return nil, s.err() }

func (s *Store) SaveResultList(context.Context, *domain.ResultList) error { return s.err() }

func (s *Store) DeleteResultList(context.Context) error { return s.err() }

func (s *Store) Close() error { return nil }

func (s *Store) Ping() error { return s.err() }
