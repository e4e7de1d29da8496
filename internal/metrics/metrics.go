package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// PagesFetched counts timeline pages retrieved per group
	PagesFetched *prometheus.CounterVec
	// MessagesPersisted counts message records durably written per group
	MessagesPersisted *prometheus.CounterVec
	// TokenRefreshes counts token refresh attempts by outcome
	TokenRefreshes *prometheus.CounterVec
	// MediaDownloads counts media pipeline task outcomes
	MediaDownloads *prometheus.CounterVec
	// MediaBytes counts bytes written by the media pipeline
	MediaBytes prometheus.Counter
	// SyncDuration tracks per-entity sync wall time
	SyncDuration *prometheus.HistogramVec
	// SyncErrors counts sync failures by error type
	SyncErrors *prometheus.CounterVec
	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		PagesFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pages_fetched_total",
				Help:      "Total number of timeline pages fetched",
			},
			[]string{"group_id"},
		),
		MessagesPersisted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_persisted_total",
				Help:      "Total number of message records persisted",
			},
			[]string{"group_id"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Total number of token refresh attempts",
			},
			[]string{"outcome"},
		),
		MediaDownloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "media_downloads_total",
				Help:      "Total number of media pipeline tasks by outcome",
			},
			[]string{"outcome"},
		),
		MediaBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "media_bytes_total",
				Help:      "Total bytes written by the media pipeline",
			},
		),
		SyncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_duration_seconds",
				Help:      "Per-entity sync duration in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0, 300.0},
			},
			[]string{"group_id"},
		),
		SyncErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_errors_total",
				Help:      "Total number of sync failures by error type",
			},
			[]string{"type"},
		),
	}

	// Register metrics with custom registry
	registry.MustRegister(
		m.PagesFetched,
		m.MessagesPersisted,
		m.TokenRefreshes,
		m.MediaDownloads,
		m.MediaBytes,
		m.SyncDuration,
		m.SyncErrors,
	)

	return m
}

// Handler returns a Prometheus handler for these metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordPageFetched records one fetched timeline page
func (m *Metrics) RecordPageFetched(groupID int64) {
	m.PagesFetched.WithLabelValues(strconv.FormatInt(groupID, 10)).Inc()
}

// RecordPagePersisted records the message records written for one page
func (m *Metrics) RecordPagePersisted(groupID int64, count int) {
	m.MessagesPersisted.WithLabelValues(strconv.FormatInt(groupID, 10)).Add(float64(count))
}

// RecordTokenRefresh records a token refresh attempt
func (m *Metrics) RecordTokenRefresh(outcome string) {
	m.TokenRefreshes.WithLabelValues(outcome).Inc()
}

// RecordMediaDownload records a media task outcome
func (m *Metrics) RecordMediaDownload(outcome string) {
	m.MediaDownloads.WithLabelValues(outcome).Inc()
}

// AddMediaBytes records bytes written by a media download
func (m *Metrics) AddMediaBytes(n int64) {
	m.MediaBytes.Add(float64(n))
}

// ObserveSyncDuration records the wall time of one entity sync
func (m *Metrics) ObserveSyncDuration(groupID int64, seconds float64) {
	m.SyncDuration.WithLabelValues(strconv.FormatInt(groupID, 10)).Observe(seconds)
}

// RecordSyncError records a sync failure
func (m *Metrics) RecordSyncError(errorType string) {
	m.SyncErrors.WithLabelValues(errorType).Inc()
}
