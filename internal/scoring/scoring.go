// Package scoring defines the classifier and detector capabilities used by
// the cascade together with the runtime independent parts of inference:
// image preprocessing, output decoding and non-maximum suppression.
//
// Backends live in the onnx and tflite subpackages. Implementations must be
// safe for concurrent use after construction.
package scoring

import (
	"context"
	"fmt"
	"image"
	"math"
)

// Label is the classifier decision.
type Label int

const (
	NonFractured Label = iota
	Fractured
)

// String returns the label as presented to clients.
func (l Label) String() string {
	if l == Fractured {
		return "Fractured"
	}
	return "Non Fractured"
}

// Classification is the classifier output. Confidence is the probability of
// the Fractured class whatever the label.
type Classification struct {
	Label      Label
	Confidence float64
}

// Box is one detection in source image pixels.
type Box struct {
	X1, Y1, X2, Y2 float64
	Confidence     float64
	ClassID        int // -1 when the detector has no class output
}

// Valid reports whether the box has positive extent.
func (b Box) Valid() bool {
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

// Area returns the box area.
func (b Box) Area() float64 {
	return max(0, b.X2-b.X1) * max(0, b.Y2-b.Y1)
}

// Classifier scores an image.
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (Classification, error)
	Close() error
}

// Detector localizes objects, keeping boxes scoring at least threshold.
type Detector interface {
	Detect(ctx context.Context, img image.Image, threshold float64) ([]Box, error)
	Close() error
}

// ClassificationFromLogits converts the two class log-probabilities of the
// classifier head into a Classification. Index 1 is Fractured.
func ClassificationFromLogits(logits []float32) (Classification, error) {
	if len(logits) != 2 {
		return Classification{}, fmt.Errorf("classifier output has %d values, want 2", len(logits))
	}
	probs := Softmax(logits)
	label := NonFractured
	if probs[1] > probs[0] {
		label = Fractured
	}
	return Classification{Label: label, Confidence: probs[1]}, nil
}

// Softmax returns the normalized exponentials of logits.
func Softmax(logits []float32) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	peak := math.Inf(-1)
	for _, v := range logits {
		peak = max(peak, float64(v))
	}
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(float64(v) - peak)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
