package server

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/story-offline-cache/internal/domain"
)

// recordResponse is a record and where it was served from
type recordResponse struct {
	Record *domain.Snapshot `json:"record"`
	Source string           `json:"source"`
}

// handleGetRecord serves a record from the offline collections, falling
// back to the catalog. A record fetched from the catalog is cached.
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	key := domain.RecordKey(r.PathValue("key"))
	ctx := r.Context()

	snap, coll, err := s.deps.Library.GetRecord(ctx, key)
	if err != nil && !errors.Is(err, domain.ErrStoreUnavailable) {
		s.writeError(w, "get record", err)
		return
	}
	if snap != nil {
		writeJSON(w, http.StatusOK, recordResponse{Record: snap, Source: string(coll)})
		return
	}

	snap, err = s.deps.Catalog.GetOne(ctx, key)
	if err != nil {
		s.writeError(w, "fetch record", catalogErr(err))
		return
	}
	if err := s.deps.Library.CacheRecord(ctx, *snap); err != nil {
		s.logger.Warn("failed to cache viewed record", zap.String("key", key.String()), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, recordResponse{Record: snap, Source: "network"})
}

// handleListOffline lists every key readable without the network
func (s *Server) handleListOffline(w http.ResponseWriter, r *http.Request) {
	keys, err := s.deps.Library.ListAllOfflineKeys(r.Context())
	if err != nil {
		s.writeError(w, "list offline keys", err)
		return
	}
	if keys == nil {
		keys = []domain.RecordKey{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

type libraryItem struct {
	Key     domain.RecordKey `json:"key"`
	Title   string           `json:"title"`
	SavedAt time.Time        `json:"saved_at"`
}

// handleListLibrary lists saved records, most recently saved first
func (s *Server) handleListLibrary(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Library.ListLibrary(r.Context())
	if err != nil {
		s.writeError(w, "list library", err)
		return
	}
	items := make([]libraryItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, libraryItem{Key: e.Key, Title: e.Payload.Title, SavedAt: e.SavedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": items})
}

// handleSaveToLibrary promotes a record into the Library, fetching it
// from the catalog when it is not already offline
func (s *Server) handleSaveToLibrary(w http.ResponseWriter, r *http.Request) {
	key := domain.RecordKey(r.PathValue("key"))
	ctx := r.Context()

	snap, _, err := s.deps.Library.GetRecord(ctx, key)
	if err != nil {
		s.writeError(w, "get record", err)
		return
	}
	if snap == nil {
		snap, err = s.deps.Catalog.GetOne(ctx, key)
		if err != nil {
			s.writeError(w, "fetch record", catalogErr(err))
			return
		}
	}

	if err := s.deps.Library.SaveToLibrary(ctx, *snap); err != nil {
		s.writeError(w, "save to library", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "saved": true})
}

// handleRemoveFromLibrary deletes a record from the Library
func (s *Server) handleRemoveFromLibrary(w http.ResponseWriter, r *http.Request) {
	key := domain.RecordKey(r.PathValue("key"))
	if err := s.deps.Library.RemoveFromLibrary(r.Context(), key); err != nil {
		s.writeError(w, "remove from library", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClearLibrary deletes every Library entry
func (s *Server) handleClearLibrary(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Library.ClearLibrary(r.Context())
	if err != nil {
		s.writeError(w, "clear library", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": n})
}

// handleClearCache deletes every Cache entry and cached asset
func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Library.ClearCache(r.Context())
	if err != nil {
		s.writeError(w, "clear cache", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": n})
}

type resultsResponse struct {
	Items    []domain.ListItem `json:"items"`
	CachedAt time.Time         `json:"cached_at"`
	Fresh    bool              `json:"fresh"`
}

// handleResults serves the list view. A fresh snapshot is returned as is;
// otherwise the catalog is asked and the snapshot refreshed. When the
// catalog fails a stale snapshot is still served.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cached, fresh, err := s.deps.Library.LoadResultList(ctx)
	if err != nil && !errors.Is(err, domain.ErrStoreUnavailable) {
		s.logger.Warn("failed to load result list", zap.Error(err))
	}
	if cached != nil && fresh {
		writeJSON(w, http.StatusOK, resultsResponse{Items: cached.Items, CachedAt: cached.CachedAt, Fresh: true})
		return
	}

	records, err := s.deps.Catalog.ListAll(ctx)
	if err != nil {
		if cached != nil {
			s.logger.Warn("catalog listing failed, serving stale result list", zap.Error(err))
			writeJSON(w, http.StatusOK, resultsResponse{Items: cached.Items, CachedAt: cached.CachedAt})
			return
		}
		s.writeError(w, "list catalog", catalogErr(err))
		return
	}

	items := make([]domain.ListItem, 0, len(records))
	for _, rec := range records {
		items = append(items, domain.ListItemFromSnapshot(rec, s.config.FallbackImageSlot))
	}
	if err := s.deps.Library.SaveResultList(ctx, items); err != nil {
		s.logger.Warn("failed to save result list", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, resultsResponse{Items: items, CachedAt: time.Now(), Fresh: true})
}

// handleAsset serves artwork through the blob cache: /assets?url=...
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		http.Error(w, "url required", http.StatusBadRequest)
		return
	}

	asset, downloaded, err := s.deps.Assets.Load(r.Context(), url)
	if err != nil {
		s.logger.Warn("failed to load asset", zap.String("url", url), zap.Error(err))
		http.Error(w, "Failed to load asset", http.StatusBadGateway)
		return
	}

	if asset.ContentType != "" {
		w.Header().Set("Content-Type", asset.ContentType)
	}
	if downloaded {
		w.Header().Set("X-Cache", "MISS")
	} else {
		w.Header().Set("X-Cache", "HIT")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(asset.Data)
}

// catalogErr tags catalog failures that are not a missing record
func catalogErr(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return errors.Join(domain.ErrCatalogUnavailable, err)
}

// writeError maps domain errors to HTTP statuses
func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidStorageLimit), errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrDownloadInProgress):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrCatalogUnavailable):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	}
	http.Error(w, op+": "+err.Error(), status)
}
