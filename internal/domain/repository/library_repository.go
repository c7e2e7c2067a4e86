package repository

import (
	"context"

	"github.com/vertextoedge/story-offline-cache/internal/domain"
)

// LibraryRepository defines persistence for the user-curated library
type LibraryRepository interface {
	// GetLibraryEntry retrieves a library entry by key
	// Returns nil, nil if the key is not in the library
	GetLibraryEntry(ctx context.Context, key domain.RecordKey) (*domain.LibraryEntry, error)

	// HasLibraryEntry reports whether key is in the library without decoding the payload
	HasLibraryEntry(ctx context.Context, key domain.RecordKey) (bool, error)

	// UpsertLibraryEntry inserts or replaces a library entry
	UpsertLibraryEntry(ctx context.Context, entry *domain.LibraryEntry) error

	// DeleteLibraryEntry removes a library entry; missing keys are ignored
	DeleteLibraryEntry(ctx context.Context, key domain.RecordKey) error

	// CountLibraryEntries returns the number of saved records
	CountLibraryEntries(ctx context.Context) (int, error)

	// ListLibraryEntries returns all entries, most recently saved first
	ListLibraryEntries(ctx context.Context) ([]*domain.LibraryEntry, error)

	// ListLibraryKeys returns every saved key
	ListLibraryKeys(ctx context.Context) ([]domain.RecordKey, error)

	// ClearLibrary removes every library entry and returns how many were removed
	ClearLibrary(ctx context.Context) (int, error)
}
