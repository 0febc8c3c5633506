package onnx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/orthovision/orthovision/internal/errors"
	"github.com/orthovision/orthovision/internal/scoring"
)

// run passes float32 tensors to DynamicAdvancedSession.Run as ArbitraryTensor.
var _ ort.ArbitraryTensor = (*ort.Tensor[float32])(nil)

func TestCheckDims(t *testing.T) {
	t.Parallel()

	want := []int64{1, 1, 224, 224}
	require.NoError(t, checkDims(ort.NewShape(1, 1, 224, 224), want))
	require.NoError(t, checkDims(ort.NewShape(-1, 1, -1, -1), want), "dynamic dimensions")
	require.Error(t, checkDims(ort.NewShape(1, 3, 224, 224), want))
	require.Error(t, checkDims(ort.NewShape(1, 224, 224), want))
}

// requireRuntime skips unless the onnxruntime shared library is available.
func requireRuntime(t *testing.T) {
	t.Helper()
	lib := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
	if lib == "" {
		t.Skip("ONNXRUNTIME_SHARED_LIBRARY_PATH not set")
	}
	require.NoError(t, Acquire(lib))
	t.Cleanup(Release)
}

func TestNewClassifier_InvalidModel(t *testing.T) {
	requireRuntime(t)

	path := filepath.Join(t.TempDir(), "broken.onnx")
	require.NoError(t, os.WriteFile(path, []byte("not a model"), 0o600))

	_, err := NewClassifier(path, scoring.Transform{Channels: 1, ResizeShorter: 256, CropSize: 224, Mean: 0.485, Std: 0.229}, 1)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelLoad))
}

func TestNewDetector_MissingModel(t *testing.T) {
	requireRuntime(t)

	_, err := NewDetector(filepath.Join(t.TempDir(), "absent.onnx"), 640, 0.45, 1)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelLoad))
}

func TestNewClassifier_RejectsInvalidTransform(t *testing.T) {
	t.Parallel()

	_, err := NewClassifier("unused.onnx", scoring.Transform{Channels: 2}, 1)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelLoad))
}

func TestRelease_WithoutAcquire(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, Release)
}
