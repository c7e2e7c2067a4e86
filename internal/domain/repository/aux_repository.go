package repository

import (
	"context"

	"github.com/vertextoedge/story-offline-cache/internal/domain"
)

// AuxRepository stores the singleton auxiliary records
type AuxRepository interface {
	// GetCheckpoint returns the bulk download checkpoint, or nil if none exists
	GetCheckpoint(ctx context.Context) (*domain.DownloadCheckpoint, error)

	// SaveCheckpoint replaces the bulk download checkpoint
	SaveCheckpoint(ctx context.Context, cp *domain.DownloadCheckpoint) error

	// DeleteCheckpoint removes the checkpoint; a missing checkpoint is not an error
	DeleteCheckpoint(ctx context.Context) error

	// GetResultList returns the cached result list, or nil if none exists
	GetResultList(ctx context.Context) (*domain.ResultList, error)

	// SaveResultList replaces the cached result list
	SaveResultList(ctx context.Context, list *domain.ResultList) error

	// DeleteResultList removes the cached result list
	DeleteResultList(ctx context.Context) error
}
