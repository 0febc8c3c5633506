package cascade

import (
	"context"
	"image"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/orthovision/orthovision/internal/logger"
	"github.com/orthovision/orthovision/internal/scoring"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClassifier struct {
	result scoring.Classification
	err    error
	calls  atomic.Int32
}

func (f *fakeClassifier) Classify(ctx context.Context, _ image.Image) (scoring.Classification, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return scoring.Classification{}, err
	}
	return f.result, f.err
}

func (f *fakeClassifier) Close() error { return nil }

type fakeDetector struct {
	boxes      []scoring.Box
	err        error
	calls      atomic.Int32
	thresholds []float64
	mu         sync.Mutex
	onDetect   func()
}

func (f *fakeDetector) Detect(ctx context.Context, _ image.Image, threshold float64) ([]scoring.Box, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.thresholds = append(f.thresholds, threshold)
	f.mu.Unlock()
	if f.onDetect != nil {
		f.onDetect()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.boxes, f.err
}

func (f *fakeDetector) Close() error { return nil }

func classifierReturning(label scoring.Label, confidence float64) *fakeClassifier {
	return &fakeClassifier{result: scoring.Classification{Label: label, Confidence: confidence}}
}

type recordingObserver struct {
	mu          sync.Mutex
	classified  []string
	stages      []string
	resolutions []string
}

func (o *recordingObserver) RecordClassification(label string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.classified = append(o.classified, label)
}

func (o *recordingObserver) RecordStage(stage string, _ int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, stage)
}

func (o *recordingObserver) RecordResolution(resolution string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resolutions = append(o.resolutions, resolution)
}

func testLogger() logger.Logger {
	return logger.NewSlogLogger(os.Stderr, logger.LogLevelError, time.UTC)
}

func testImage() image.Image {
	return image.NewGray(image.Rect(0, 0, 64, 64))
}

// twoStage builds an engine with stage0 (area labels) and stage1 (class labels).
func twoStage(t *testing.T, cls scoring.Classifier, s0, s1 *fakeDetector, obs Observer) *Engine {
	t.Helper()
	e, err := New(cls, []Stage{
		{Name: "stage0", Detector: s0, Threshold: 0.25},
		{Name: "stage1", Detector: s1, Threshold: 0.30, Labels: ClassLabels([]string{"elbow positive", "wrist positive"})},
	}, Options{Observer: obs, Logger: testLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}
