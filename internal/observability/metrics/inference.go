package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// InferenceMetrics tracks the classification and localization cascade. It
// satisfies cascade.Observer.
type InferenceMetrics struct {
	classificationsTotal   *prometheus.CounterVec
	classificationDuration prometheus.Histogram
	stageRunsTotal         *prometheus.CounterVec
	stageDuration          *prometheus.HistogramVec
	stageBoxes             *prometheus.HistogramVec
	resolutionsTotal       *prometheus.CounterVec
	requestErrors          *prometheus.CounterVec
	modelsLoaded           *prometheus.GaugeVec
}

// NewInferenceMetrics creates and registers cascade metrics.
func NewInferenceMetrics(registry *prometheus.Registry) (*InferenceMetrics, error) {
	m := &InferenceMetrics{
		classificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orthovision_classifications_total",
				Help: "Classifications partitioned by predicted label",
			},
			[]string{"label"},
		),
		classificationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orthovision_classification_duration_seconds",
				Help:    "Time taken by the classifier",
				Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12), // 1ms to ~4s
			},
		),
		stageRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orthovision_detection_stage_runs_total",
				Help: "Detector stage invocations partitioned by stage and whether boxes were found",
			},
			[]string{"stage", "result"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orthovision_detection_stage_duration_seconds",
				Help:    "Time taken by a detector stage",
				Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
			},
			[]string{"stage"},
		),
		stageBoxes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orthovision_detection_stage_boxes",
				Help:    "Boxes returned by a detector stage",
				Buckets: []float64{0, 1, 2, 3, 5, 10, 25, 100, 300},
			},
			[]string{"stage"},
		),
		resolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orthovision_cascade_resolutions_total",
				Help: "Requests by resolving stage, gated or none",
			},
			[]string{"resolution"},
		),
		requestErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orthovision_inference_errors_total",
				Help: "Failed inference requests partitioned by error category",
			},
			[]string{"category"},
		),
		modelsLoaded: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "orthovision_models_loaded",
				Help: "Loaded models partitioned by role and backend",
			},
			[]string{"role", "backend"},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register inference metrics: %w", err)
	}
	return m, nil
}

func (m *InferenceMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.classificationsTotal,
		m.classificationDuration,
		m.stageRunsTotal,
		m.stageDuration,
		m.stageBoxes,
		m.resolutionsTotal,
		m.requestErrors,
		m.modelsLoaded,
	}
}

// Describe implements the Collector interface
func (m *InferenceMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *InferenceMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// RecordClassification records one classifier run.
func (m *InferenceMetrics) RecordClassification(label string, d time.Duration) {
	m.classificationsTotal.WithLabelValues(label).Inc()
	m.classificationDuration.Observe(d.Seconds())
}

// RecordStage records one detector stage run.
func (m *InferenceMetrics) RecordStage(stage string, boxes int, d time.Duration) {
	result := "empty"
	if boxes > 0 {
		result = "hit"
	}
	m.stageRunsTotal.WithLabelValues(stage, result).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	m.stageBoxes.WithLabelValues(stage).Observe(float64(boxes))
}

// RecordResolution records how a request ended.
func (m *InferenceMetrics) RecordResolution(resolution string) {
	m.resolutionsTotal.WithLabelValues(resolution).Inc()
}

// RecordError counts a failed inference request.
func (m *InferenceMetrics) RecordError(category string) {
	m.requestErrors.WithLabelValues(category).Inc()
}

// SetModelLoaded marks a model role as loaded with the given backend.
func (m *InferenceMetrics) SetModelLoaded(role, backend string) {
	m.modelsLoaded.WithLabelValues(role, backend).Set(1)
}
