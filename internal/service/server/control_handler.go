package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/vertextoedge/story-offline-cache/internal/domain"
)

type storageResponse struct {
	UsageBytes   int64   `json:"usage_bytes"`
	Usage        string  `json:"usage"`
	LimitMB      int     `json:"limit_mb"`
	Limit        string  `json:"limit"`
	Percent      float64 `json:"percent"`
	CacheCount   int     `json:"cache_count"`
	LibraryCount int     `json:"library_count"`
	Presets      []int   `json:"presets"`
}

// handleStorage reports estimated usage against the budget
func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.deps.Quota.GetUsage(r.Context())
	if err != nil {
		s.writeError(w, "get usage", err)
		return
	}

	limit := s.deps.Quota.LimitBytes()
	resp := storageResponse{
		UsageBytes:   usage.TotalBytes,
		Usage:        humanize.IBytes(uint64(usage.TotalBytes)),
		LimitMB:      s.deps.Quota.GetLimitMB(),
		Limit:        humanize.IBytes(uint64(limit)),
		CacheCount:   usage.CacheCount,
		LibraryCount: usage.LibraryCount,
		Presets:      domain.StorageLimitPresets,
	}
	if limit > 0 {
		resp.Percent = float64(usage.TotalBytes) / float64(limit) * 100
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSetLimit changes the storage budget: {"limit_mb": 450}
func (s *Server) handleSetLimit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LimitMB int `json:"limit_mb"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	if err := s.deps.Quota.SetLimitMB(req.LimitMB); err != nil {
		s.writeError(w, "set storage limit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"limit_mb": s.deps.Quota.GetLimitMB()})
}

// handleStartDownload starts a background bulk download: POST /download?resume=false
func (s *Server) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	resume := true
	if v := r.URL.Query().Get("resume"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid resume value %q", v), http.StatusBadRequest)
			return
		}
		resume = parsed
	}

	runID, err := s.deps.Downloader.StartBackground(s.runCtx, nil, resume)
	if err != nil {
		s.writeError(w, "start download", err)
		return
	}
	s.logger.Info("bulk download started via API", zap.String("run_id", runID), zap.Bool("resume", resume))
	writeJSON(w, http.StatusAccepted, map[string]any{"run_id": runID})
}

type downloadStatus struct {
	Running  bool                    `json:"running"`
	Progress domain.DownloadProgress `json:"progress"`
	Resume   domain.ResumeInfo       `json:"resume"`
}

// handleDownloadStatus reports the last progress and any resumable checkpoint
func (s *Server) handleDownloadStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.deps.Downloader.CheckResumable(r.Context())
	if err != nil {
		s.logger.Warn("failed to check download checkpoint", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, downloadStatus{
		Running:  s.deps.Downloader.IsRunning(),
		Progress: s.deps.Downloader.LastProgress(),
		Resume:   info,
	})
}

// handleClearCheckpoint discards saved download progress
func (s *Server) handleClearCheckpoint(w http.ResponseWriter, r *http.Request) {
	if s.deps.Downloader.IsRunning() {
		s.writeError(w, "clear checkpoint", domain.ErrDownloadInProgress)
		return
	}
	if err := s.deps.Downloader.ClearCheckpoint(r.Context()); err != nil {
		s.writeError(w, "clear checkpoint", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type prefetchRequest struct {
	Current domain.RecordKey   `json:"current"`
	Ordered []domain.RecordKey `json:"ordered"`
	Range   int                `json:"range,omitempty"`
}

// handlePrefetch queues neighbors of the record being viewed
func (s *Server) handlePrefetch(w http.ResponseWriter, r *http.Request) {
	var req prefetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Current == "" {
		http.Error(w, "current is required", http.StatusBadRequest)
		return
	}

	queued := s.deps.Prefetcher.PrefetchAdjacent(r.Context(), req.Current, req.Ordered, req.Range)
	if queued == nil {
		queued = []domain.RecordKey{}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": queued})
}
