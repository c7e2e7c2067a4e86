// Package telemetry holds the prometheus instruments of the offline engine.
// A nil *Metrics is valid and records nothing, so services can be built
// without metrics in tests.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "story_offline"

// Eviction reasons
const (
	EvictCountCeiling = "count_ceiling"
	EvictQuota        = "quota"
	EvictResultList   = "result_list"
	EvictManualClear  = "manual_clear"
)

// Metrics holds the instruments on a dedicated registry
type Metrics struct {
	registry *prometheus.Registry

	lookupsTotal        *prometheus.CounterVec
	evictionsTotal      *prometheus.CounterVec
	cleanupRunsTotal    prometheus.Counter
	bulkRecordsTotal    prometheus.Counter
	bulkImagesTotal     prometheus.Counter
	bulkErrorsTotal     prometheus.Counter
	bulkRunsTotal       *prometheus.CounterVec
	prefetchTotal       *prometheus.CounterVec
	assetFetchesTotal   *prometheus.CounterVec
	usageBytes          prometheus.Gauge
	limitBytes          prometheus.Gauge
	entries             *prometheus.GaugeVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates the instruments and registers them with a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		lookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Offline record lookups by the collection that answered.",
		}, []string{"collection"}),
		evictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Entries removed from the cache by reason.",
		}, []string{"reason"}),
		cleanupRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_cleanup_runs_total",
			Help:      "Quota cleanups that crossed the high-water mark.",
		}),
		bulkRecordsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_records_total",
			Help:      "Records saved to the library by bulk downloads.",
		}),
		bulkImagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_images_total",
			Help:      "Images fetched by bulk downloads.",
		}),
		bulkErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_errors_total",
			Help:      "Per-item failures during bulk downloads.",
		}),
		bulkRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_runs_total",
			Help:      "Bulk download runs by outcome.",
		}, []string{"outcome"}),
		prefetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prefetch_total",
			Help:      "Prefetch tasks by outcome.",
		}, []string{"outcome"}),
		assetFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_loads_total",
			Help:      "Asset loads by source.",
		}, []string{"source"}),
		usageBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "usage_estimated_bytes",
			Help:      "Estimated storage used by cache and library.",
		}),
		limitBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "limit_bytes",
			Help:      "Configured storage budget.",
		}),
		entries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entries",
			Help:      "Entries per collection.",
		}, []string{"collection"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests.",
		}, []string{"method", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API request duration.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.lookupsTotal,
		m.evictionsTotal,
		m.cleanupRunsTotal,
		m.bulkRecordsTotal,
		m.bulkImagesTotal,
		m.bulkErrorsTotal,
		m.bulkRunsTotal,
		m.prefetchTotal,
		m.assetFetchesTotal,
		m.usageBytes,
		m.limitBytes,
		m.entries,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)
	return m
}

// Handler serves the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordLookup counts a GetRecord result; collection is "library", "cache" or "miss"
func (m *Metrics) RecordLookup(collection string) {
	if m == nil {
		return
	}
	m.lookupsTotal.WithLabelValues(collection).Inc()
}

// RecordEviction counts cache entries removed for reason
func (m *Metrics) RecordEviction(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictionsTotal.WithLabelValues(reason).Add(float64(n))
}

// RecordCleanupRun counts a cleanup that had to evict
func (m *Metrics) RecordCleanupRun() {
	if m == nil {
		return
	}
	m.cleanupRunsTotal.Inc()
}

// RecordBulkRecord counts one record saved by a bulk download
func (m *Metrics) RecordBulkRecord() {
	if m == nil {
		return
	}
	m.bulkRecordsTotal.Inc()
}

// RecordBulkImage counts one image fetched by a bulk download
func (m *Metrics) RecordBulkImage() {
	if m == nil {
		return
	}
	m.bulkImagesTotal.Inc()
}

// RecordBulkError counts one per-item bulk failure
func (m *Metrics) RecordBulkError() {
	if m == nil {
		return
	}
	m.bulkErrorsTotal.Inc()
}

// RecordBulkRun counts a finished run; outcome is "complete" or "failed"
func (m *Metrics) RecordBulkRun(outcome string) {
	if m == nil {
		return
	}
	m.bulkRunsTotal.WithLabelValues(outcome).Inc()
}

// RecordPrefetch counts a prefetch outcome: scheduled, completed, failed, skipped
func (m *Metrics) RecordPrefetch(outcome string) {
	if m == nil {
		return
	}
	m.prefetchTotal.WithLabelValues(outcome).Inc()
}

// RecordAssetLoad counts an asset load; source is "blob_cache" or "network"
func (m *Metrics) RecordAssetLoad(source string) {
	if m == nil {
		return
	}
	m.assetFetchesTotal.WithLabelValues(source).Inc()
}

// SetUsage updates the storage gauges
func (m *Metrics) SetUsage(usageBytes, limitBytes int64, cacheCount, libraryCount int) {
	if m == nil {
		return
	}
	m.usageBytes.Set(float64(usageBytes))
	m.limitBytes.Set(float64(limitBytes))
	m.entries.WithLabelValues("cache").Set(float64(cacheCount))
	m.entries.WithLabelValues("library").Set(float64(libraryCount))
}

// RecordHTTP records one API request
func (m *Metrics) RecordHTTP(method, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, status).Inc()
	m.httpRequestDuration.WithLabelValues(method).Observe(seconds)
}

// StatusClass buckets an HTTP status code
func StatusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
