// Package assets loads record artwork through the blob cache.
// The cache is consulted before the network; concurrent loads of the same
// URL share one fetch.
package assets

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vertextoedge/story-offline-cache/internal/domain"
	"github.com/vertextoedge/story-offline-cache/internal/port"
	"github.com/vertextoedge/story-offline-cache/internal/telemetry"
)

// Loader fetches assets and keeps them in the blob cache
type Loader struct {
	blobs        port.BlobCache
	fetcher      port.AssetFetcher
	selections   port.SelectionProvider
	fallbackSlot int
	logger       *zap.Logger
	metrics      *telemetry.Metrics

	group singleflight.Group
}

// New creates a new Loader. A nil selections provider means no user selections.
func New(blobs port.BlobCache, fetcher port.AssetFetcher, selections port.SelectionProvider, fallbackSlot int, logger *zap.Logger, metrics *telemetry.Metrics) *Loader {
	if selections == nil {
		selections = port.NoSelections{}
	}
	if fallbackSlot <= 0 {
		fallbackSlot = 1
	}
	return &Loader{
		blobs:        blobs,
		fetcher:      fetcher,
		selections:   selections,
		fallbackSlot: fallbackSlot,
		logger:       logger,
		metrics:      metrics,
	}
}

type fetchResult struct {
	asset *port.Asset
}

// Load returns the asset at url, from the blob cache when present.
// downloaded reports whether a network fetch by this or a concurrent
// caller was needed.
func (l *Loader) Load(ctx context.Context, url string) (asset *port.Asset, downloaded bool, err error) {
	cached, err := l.blobs.Get(ctx, url)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read blob cache: %w", err)
	}
	if cached != nil {
		l.metrics.RecordAssetLoad("blob_cache")
		return cached, false, nil
	}

	res, err := l.fetch(ctx, url)
	if err != nil {
		return nil, false, err
	}
	return res.asset, true, nil
}

// Ensure makes sure url is in the blob cache without reading it back
func (l *Loader) Ensure(ctx context.Context, url string) (downloaded bool, err error) {
	has, err := l.blobs.Has(ctx, url)
	if err != nil {
		return false, fmt.Errorf("failed to read blob cache: %w", err)
	}
	if has {
		l.metrics.RecordAssetLoad("blob_cache")
		return false, nil
	}

	if _, err := l.fetch(ctx, url); err != nil {
		return false, err
	}
	return true, nil
}

// fetch downloads url once for all concurrent callers and stores it
func (l *Loader) fetch(ctx context.Context, url string) (*fetchResult, error) {
	ch := l.group.DoChan(url, func() (any, error) {
		detached := context.WithoutCancel(ctx)
		asset, err := l.fetcher.FetchAsset(detached, url)
		if err != nil {
			return nil, err
		}
		if err := l.blobs.Put(detached, url, asset); err != nil {
			return nil, fmt.Errorf("failed to store asset: %w", err)
		}
		l.metrics.RecordAssetLoad("network")
		return &fetchResult{asset: asset}, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("failed to fetch asset %s: %w", url, res.Err)
		}
		return res.Val.(*fetchResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResolveImage picks the representative image URL of snap: the user's
// selection, then the catalog default, then the fallback slot.
// Returns domain.ErrNoImage when none of them has a URL.
func (l *Loader) ResolveImage(ctx context.Context, snap *domain.Snapshot) (string, error) {
	slot, selected, err := l.selections.SelectedImageSlot(ctx, snap.Key)
	if err != nil {
		l.logger.Warn("failed to read image selection, using catalog default",
			zap.String("key", snap.Key.String()),
			zap.Error(err))
		selected = false
	}

	url, ok := snap.ResolveImage(slot, selected, l.fallbackSlot)
	if !ok {
		return "", domain.ErrNoImage
	}
	return url, nil
}

// EnsureRepresentative resolves and caches the representative image of snap.
// A record without any image is not an error; downloaded is false.
func (l *Loader) EnsureRepresentative(ctx context.Context, snap *domain.Snapshot) (downloaded bool, err error) {
	url, err := l.ResolveImage(ctx, snap)
	if errors.Is(err, domain.ErrNoImage) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return l.Ensure(ctx, url)
}
