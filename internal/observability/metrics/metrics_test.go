package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewArtifactMetrics(reg)
	require.NoError(t, err)

	m.RecordDownload("classifier", 2048, 120*time.Millisecond, nil)
	m.RecordDownload("classifier", 0, time.Millisecond, errors.New("boom"))
	m.RecordRefresh("missing")
	m.RecordDigest("classifier", 5*time.Millisecond)
	m.SetRevision("abc")
	m.SetRevision("def")

	assert.InDelta(t, 1, testutil.ToFloat64(m.downloadsTotal.WithLabelValues("classifier", StatusSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.downloadsTotal.WithLabelValues("classifier", StatusError)), 0)
	assert.InDelta(t, 2048, testutil.ToFloat64(m.downloadBytes.WithLabelValues("classifier")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.refreshesTotal.WithLabelValues("missing")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.revisionInfo), "previous revision is cleared")

	_, err = NewArtifactMetrics(reg)
	require.Error(t, err, "double registration")
}

func TestInferenceMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewInferenceMetrics(reg)
	require.NoError(t, err)

	m.RecordClassification("Fractured", 10*time.Millisecond)
	m.RecordStage("stage0", 0, 20*time.Millisecond)
	m.RecordStage("stage1", 2, 30*time.Millisecond)
	m.RecordResolution("stage1")
	m.RecordError("inference")
	m.SetModelLoaded("classifier", "onnx")

	assert.InDelta(t, 1, testutil.ToFloat64(m.stageRunsTotal.WithLabelValues("stage0", "empty")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.stageRunsTotal.WithLabelValues("stage1", "hit")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.resolutionsTotal.WithLabelValues("stage1")), 0)

	expected := `
# HELP orthovision_classifications_total Classifications partitioned by predicted label
# TYPE orthovision_classifications_total counter
orthovision_classifications_total{label="Fractured"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "orthovision_classifications_total"))
}

func TestHTTPMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewHTTPMetrics(reg)
	require.NoError(t, err)

	m.RecordHTTPRequest("POST", "/detect", 200, 0.2)
	m.RecordHTTPRequest("POST", "/detect", 429, 0.001)
	m.RecordHTTPRequestError("POST", "/detect", "limit")
	m.RecordHTTPResponseSize("POST", "/detect", 512)
	m.RecordUpload(4096)
	m.RecordRateLimited()
	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)
	m.RecordCacheLookup(false)

	assert.InDelta(t, 1, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("POST", "/detect", "429")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.rateLimited), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.resultCacheHits.WithLabelValues("miss")), 0)
}
