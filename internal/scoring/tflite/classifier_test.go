package tflite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orthovision/orthovision/internal/errors"
	"github.com/orthovision/orthovision/internal/scoring"
)

func TestChwToHWC(t *testing.T) {
	t.Parallel()

	// 3 channels of a 1x2 image
	chw := []float32{1, 2, 10, 20, 100, 200}
	assert.Equal(t, []float32{1, 10, 100, 2, 20, 200}, chwToHWC(chw, 3, 1, 2))

	gray := []float32{1, 2, 3}
	assert.Equal(t, gray, chwToHWC(gray, 1, 1, 3))
}

func TestNewClassifier_Errors(t *testing.T) {
	t.Parallel()

	transform := scoring.Transform{Channels: 1, ResizeShorter: 256, CropSize: 224, Mean: 0.485, Std: 0.229}

	_, err := NewClassifier(filepath.Join(t.TempDir(), "absent.tflite"), transform, 1, 1)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelLoad))

	_, err = NewClassifier("unused.tflite", scoring.Transform{}, 1, 1)
	require.Error(t, err)
}

func TestNewClassifier_GarbageModel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "garbage.tflite")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a flatbuffer"), 0o600))

	transform := scoring.Transform{Channels: 1, ResizeShorter: 256, CropSize: 224, Mean: 0.485, Std: 0.229}
	_, err := NewClassifier(path, transform, 1, 1)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelInit))
}
