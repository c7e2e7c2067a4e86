package port

import (
	"context"

	"github.com/vertextoedge/story-offline-cache/internal/domain"
)

// Catalog is the remote content store
type Catalog interface {
	// ListAll returns the full catalog in listing order with a single request
	ListAll(ctx context.Context) ([]domain.Snapshot, error)

	// GetOne returns a single record
	// Returns domain.ErrNotFound if the catalog has no such record
	GetOne(ctx context.Context, key domain.RecordKey) (*domain.Snapshot, error)
}

// Asset is a fetched binary response
type Asset struct {
	ContentType string
	Data        []byte
}

// AssetFetcher fetches artwork from the network
type AssetFetcher interface {
	// FetchAsset downloads the asset at url
	FetchAsset(ctx context.Context, url string) (*Asset, error)
}

// SelectionProvider supplies the user's chosen image slot per record
type SelectionProvider interface {
	// SelectedImageSlot returns the user's slot for key; ok is false when
	// the user made no selection
	SelectedImageSlot(ctx context.Context, key domain.RecordKey) (slot int, ok bool, err error)
}

// NoSelections is a SelectionProvider for anonymous users
type NoSelections struct{}

// SelectedImageSlot always reports no selection
func (NoSelections) SelectedImageSlot(context.Context, domain.RecordKey) (int, bool, error) {
	return 0, false, nil
}
