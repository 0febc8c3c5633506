package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ArtifactMetrics tracks the model artifact lifecycle. It satisfies
// artifact.Observer.
type ArtifactMetrics struct {
	downloadsTotal   *prometheus.CounterVec
	downloadDuration *prometheus.HistogramVec
	downloadBytes    *prometheus.CounterVec
	refreshesTotal   *prometheus.CounterVec
	digestDuration   *prometheus.HistogramVec
	revisionInfo     *prometheus.GaugeVec
}

// NewArtifactMetrics creates and registers artifact lifecycle metrics.
func NewArtifactMetrics(registry *prometheus.Registry) (*ArtifactMetrics, error) {
	m := &ArtifactMetrics{
		downloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orthovision_artifact_downloads_total",
				Help: "Artifact downloads partitioned by artifact and status",
			},
			[]string{"artifact", "status"},
		),
		downloadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orthovision_artifact_download_duration_seconds",
				Help:    "Time taken to download and place an artifact",
				Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount15), // 10ms to ~5min
			},
			[]string{"artifact"},
		),
		downloadBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orthovision_artifact_download_bytes_total",
				Help: "Bytes of artifacts placed into the artifact directory",
			},
			[]string{"artifact"},
		),
		refreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orthovision_artifact_refreshes_total",
				Help: "Full artifact refreshes partitioned by trigger",
			},
			[]string{"reason"},
		),
		digestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orthovision_artifact_digest_duration_seconds",
				Help:    "Time taken to compute an artifact digest",
				Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
			},
			[]string{"artifact"},
		),
		revisionInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "orthovision_artifact_revision_info",
				Help: "Currently applied artifact revision, value is always 1",
			},
			[]string{"revision"},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register artifact metrics: %w", err)
	}
	return m, nil
}

func (m *ArtifactMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.downloadsTotal,
		m.downloadDuration,
		m.downloadBytes,
		m.refreshesTotal,
		m.digestDuration,
		m.revisionInfo,
	}
}

// Describe implements the Collector interface
func (m *ArtifactMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *ArtifactMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// RecordDownload records one artifact download attempt.
func (m *ArtifactMetrics) RecordDownload(name string, bytes int64, d time.Duration, err error) {
	if err != nil {
		m.downloadsTotal.WithLabelValues(name, StatusError).Inc()
		return
	}
	m.downloadsTotal.WithLabelValues(name, StatusSuccess).Inc()
	m.downloadDuration.WithLabelValues(name).Observe(d.Seconds())
	if bytes > 0 {
		m.downloadBytes.WithLabelValues(name).Add(float64(bytes))
	}
}

// RecordRefresh counts a full refresh.
func (m *ArtifactMetrics) RecordRefresh(reason string) {
	m.refreshesTotal.WithLabelValues(reason).Inc()
}

// RecordDigest records a digest computation.
func (m *ArtifactMetrics) RecordDigest(name string, d time.Duration) {
	m.digestDuration.WithLabelValues(name).Observe(d.Seconds())
}

// SetRevision publishes the applied revision, replacing any previous one.
func (m *ArtifactMetrics) SetRevision(token string) {
	m.revisionInfo.Reset()
	if token == "" {
		token = "unknown"
	}
	m.revisionInfo.WithLabelValues(token).Set(1)
}
