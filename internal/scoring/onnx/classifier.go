package onnx

import (
	"context"
	"fmt"
	"image"
	"path/filepath"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/orthovision/orthovision/internal/logger"
	"github.com/orthovision/orthovision/internal/scoring"
)

// Classifier scores images with a two class ONNX model.
type Classifier struct {
	session   *ort.DynamicAdvancedSession
	name      string
	transform scoring.Transform
}

// NewClassifier loads the model at path. The model input must accept the
// tensor produced by transform.
func NewClassifier(path string, transform scoring.Transform, threads int) (*Classifier, error) {
	if err := transform.Validate(); err != nil {
		return nil, loadError(err, path, "validate transform")
	}
	session, input, _, err := sessionFor(path, threads)
	if err != nil {
		return nil, err
	}
	if err := checkDims(input.Dimensions, transform.Shape()); err != nil {
		_ = session.Destroy()
		return nil, loadError(err, path, "check input shape")
	}

	GetLogger().Info("loaded classifier",
		logger.String("model", filepath.Base(path)),
		logger.String("input", input.Name),
		logger.Int("threads", threads))
	return &Classifier{session: session, name: filepath.Base(path), transform: transform}, nil
}

// Classify implements scoring.Classifier.
func (c *Classifier) Classify(ctx context.Context, img image.Image) (scoring.Classification, error) {
	if err := ctx.Err(); err != nil {
		return scoring.Classification{}, err
	}
	data, err := c.transform.Apply(img)
	if err != nil {
		return scoring.Classification{}, inferenceError(err, c.name)
	}
	logits, _, err := run(c.session, c.transform.Shape(), data)
	if err != nil {
		return scoring.Classification{}, inferenceError(err, c.name)
	}
	result, err := scoring.ClassificationFromLogits(logits)
	if err != nil {
		return scoring.Classification{}, inferenceError(err, c.name)
	}
	return result, nil
}

// Close destroys the session.
func (c *Classifier) Close() error {
	return c.session.Destroy()
}

// checkDims compares declared model dimensions with want; negative model
// dimensions are dynamic and match anything.
func checkDims(declared ort.Shape, want []int64) error {
	if len(declared) != len(want) {
		return fmt.Errorf("model input has shape %v, transform produces %v", declared, want)
	}
	for i, d := range declared {
		if d >= 0 && d != want[i] {
			return fmt.Errorf("model input has shape %v, transform produces %v", declared, want)
		}
	}
	return nil
}
