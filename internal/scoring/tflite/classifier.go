// Package tflite runs the classifier on TensorFlow Lite. Interpreters are not
// safe for concurrent use, so the classifier keeps a pool of them.
package tflite

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/tphakala/go-tflite"

	"github.com/orthovision/orthovision/internal/errors"
	"github.com/orthovision/orthovision/internal/logger"
	"github.com/orthovision/orthovision/internal/scoring"
)

// GetLogger returns the tflite backend logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("scoring").Module("tflite")
}

// Classifier scores images with a pool of interpreters over one model.
type Classifier struct {
	model     *tflite.Model
	pool      chan *interpreter
	all       []*interpreter
	name      string
	transform scoring.Transform
}

type interpreter struct {
	interp  *tflite.Interpreter
	options *tflite.InterpreterOptions
	nhwc    bool
}

// NewClassifier loads the model at path with size interpreters sharing
// threads between them.
func NewClassifier(path string, transform scoring.Transform, size, threads int) (*Classifier, error) {
	start := time.Now()
	if err := transform.Validate(); err != nil {
		return nil, loadError(err, path, start)
	}
	size = max(1, size)

	data, err := os.ReadFile(path) //nolint:gosec // G304: path from the verified artifact set
	if err != nil {
		return nil, loadError(err, path, start)
	}
	model := tflite.NewModel(data)
	if model == nil {
		return nil, errors.New(fmt.Errorf("cannot load TensorFlow Lite model")).
			Component("scoring").
			Category(errors.CategoryModelInit).
			Context("model_path", path).
			Context("model_size_mb", len(data)/1024/1024).
			Timing("model-init", time.Since(start)).
			Build()
	}

	c := &Classifier{
		model:     model,
		pool:      make(chan *interpreter, size),
		name:      filepath.Base(path),
		transform: transform,
	}
	perInterpreter := max(1, threads/size)
	for range size {
		in, err := c.newInterpreter(perInterpreter)
		if err != nil {
			_ = c.Close()
			return nil, loadError(err, path, start)
		}
		c.all = append(c.all, in)
		c.pool <- in
	}

	GetLogger().Info("loaded classifier",
		logger.String("model", c.name),
		logger.Int("interpreters", size),
		logger.Int("threads_per_interpreter", perInterpreter),
		logger.Bool("nhwc", c.all[0].nhwc),
		logger.Duration("elapsed", time.Since(start)))
	return c, nil
}

func (c *Classifier) newInterpreter(threads int) (*interpreter, error) {
	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)

	interp := tflite.NewInterpreter(c.model, options)
	if interp == nil {
		options.Delete()
		return nil, fmt.Errorf("cannot create interpreter")
	}
	if status := interp.AllocateTensors(); status != tflite.OK {
		interp.Delete()
		options.Delete()
		return nil, fmt.Errorf("tensor allocation failed")
	}

	input := interp.GetInputTensor(0)
	if input == nil {
		interp.Delete()
		options.Delete()
		return nil, fmt.Errorf("cannot get input tensor")
	}
	want := c.transform.Shape()
	if input.NumDims() != len(want) {
		interp.Delete()
		options.Delete()
		return nil, fmt.Errorf("model input has %d dimensions, want %d", input.NumDims(), len(want))
	}
	// channels last when the final dimension holds the channels
	nhwc := input.Dim(3) == c.transform.Channels && input.Dim(1) != c.transform.Channels
	return &interpreter{interp: interp, options: options, nhwc: nhwc}, nil
}

// Classify implements scoring.Classifier. It waits for a free interpreter
// until ctx is done.
func (c *Classifier) Classify(ctx context.Context, img image.Image) (scoring.Classification, error) {
	data, err := c.transform.Apply(img)
	if err != nil {
		return scoring.Classification{}, c.inferenceError(err)
	}

	var in *interpreter
	select {
	case in = <-c.pool:
	case <-ctx.Done():
		return scoring.Classification{}, ctx.Err()
	}
	defer func() { c.pool <- in }()

	if in.nhwc {
		data = chwToHWC(data, c.transform.Channels, c.transform.CropSize, c.transform.CropSize)
	}

	input := in.interp.GetInputTensor(0)
	if n := copy(input.Float32s(), data); n != len(data) {
		return scoring.Classification{}, c.inferenceError(fmt.Errorf("input tensor holds %d values, need %d", n, len(data)))
	}
	if status := in.interp.Invoke(); status != tflite.OK {
		return scoring.Classification{}, c.inferenceError(fmt.Errorf("tensor invoke failed: %v", status))
	}

	output := in.interp.GetOutputTensor(0)
	logits := make([]float32, output.Dim(output.NumDims()-1))
	copy(logits, output.Float32s())

	result, err := scoring.ClassificationFromLogits(logits)
	if err != nil {
		return scoring.Classification{}, c.inferenceError(err)
	}
	return result, nil
}

// Close deletes every interpreter and the model. Calls in flight must have
// returned.
func (c *Classifier) Close() error {
	for _, in := range c.all {
		in.interp.Delete()
		in.options.Delete()
	}
	c.all = nil
	if c.model != nil {
		c.model.Delete()
		c.model = nil
	}
	return nil
}

func (c *Classifier) inferenceError(err error) error {
	return errors.New(err).
		Component("scoring").
		Category(errors.CategoryInference).
		Context("model", c.name).
		Build()
}

func loadError(err error, path string, start time.Time) error {
	return errors.New(err).
		Component("scoring").
		Category(errors.CategoryModelLoad).
		Context("model_path", path).
		Timing("model-load", time.Since(start)).
		Build()
}

// chwToHWC reorders a planar tensor to interleaved channels.
func chwToHWC(data []float32, channels, height, width int) []float32 {
	if channels == 1 {
		return data
	}
	out := make([]float32, len(data))
	plane := height * width
	for c := range channels {
		for i := range plane {
			out[i*channels+c] = data[c*plane+i]
		}
	}
	return out
}
