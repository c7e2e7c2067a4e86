package nullstore

import (
	"context"
	"errors"
	"testing"

	"github.com/vertextoedge/story-offline-cache/internal/domain"
)

func TestStore_EveryOperationUnavailable(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("database is locked")
	s := New(cause)

	_, err1 := s.GetCacheEntry(ctx, "a")
	_, err2 := s.CountLibraryEntries(ctx)
	err3 := s.UpsertLibraryEntry(ctx, &domain.LibraryEntry{Key: "a"})
	_, err4 := s.GetCheckpoint(ctx)
	err5 := s.Ping()

	for i, err := range []error{err1, err2, err3, err4, err5} {
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			t.Errorf("op %d: error = %v, want ErrStoreUnavailable", i, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}

func TestStore_NilCause(t *testing.T) {
	if err := New(nil).Ping(); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("Ping() error = %v, want ErrStoreUnavailable", err)
	}
}
