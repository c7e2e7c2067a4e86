package port

import (
	"github.com/vertextoedge/story-offline-cache/internal/domain/repository"
)

// CacheRepository is an alias to domain repository interface
type CacheRepository = repository.CacheRepository

// LibraryRepository is an alias to domain repository interface
type LibraryRepository = repository.LibraryRepository

// AuxRepository is an alias to domain repository interface
type AuxRepository = repository.AuxRepository

// Store is an alias to domain repository interface
type Store = repository.Store
