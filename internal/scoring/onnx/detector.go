package onnx

import (
	"context"
	"image"
	"path/filepath"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/orthovision/orthovision/internal/logger"
	"github.com/orthovision/orthovision/internal/scoring"
)

// Detector runs a YOLOv8 style detector with a fixed square input.
type Detector struct {
	session   *ort.DynamicAdvancedSession
	name      string
	inputSize int
	iou       float64
	layout    scoring.YOLOLayout
}

// NewDetector loads the model at path.
func NewDetector(path string, inputSize int, iouThreshold float64, threads int) (*Detector, error) {
	session, input, output, err := sessionFor(path, threads)
	if err != nil {
		return nil, err
	}
	if err := checkDims(input.Dimensions, []int64{1, 3, int64(inputSize), int64(inputSize)}); err != nil {
		_ = session.Destroy()
		return nil, loadError(err, path, "check input shape")
	}

	GetLogger().Info("loaded detector",
		logger.String("model", filepath.Base(path)),
		logger.Int("input_size", inputSize),
		logger.String("output_shape", output.Dimensions.String()),
		logger.Int("threads", threads))
	return &Detector{
		session:   session,
		name:      filepath.Base(path),
		inputSize: inputSize,
		iou:       iouThreshold,
		layout:    scoring.YOLOLayout{Candidates: scoring.YOLOCandidates(inputSize)},
	}, nil
}

// Detect implements scoring.Detector.
func (d *Detector) Detect(ctx context.Context, img image.Image, threshold float64) ([]scoring.Box, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, frame, err := scoring.Letterbox(img, d.inputSize)
	if err != nil {
		return nil, inferenceError(err, d.name)
	}
	size := int64(d.inputSize)
	out, shape, err := run(d.session, []int64{1, 3, size, size}, data)
	if err != nil {
		return nil, inferenceError(err, d.name)
	}
	boxes, err := scoring.PostprocessYOLO(out, shape, d.layout, frame, threshold, d.iou)
	if err != nil {
		return nil, inferenceError(err, d.name)
	}
	return boxes, nil
}

// Close destroys the session.
func (d *Detector) Close() error {
	return d.session.Destroy()
}
