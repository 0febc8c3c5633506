// Package onnx runs classifiers and YOLO detectors exported to ONNX through
// the onnxruntime shared library. Sessions are created once and shared by
// concurrent requests; tensors are allocated per call.
package onnx

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/orthovision/orthovision/internal/errors"
	"github.com/orthovision/orthovision/internal/logger"
)

var (
	envMu    sync.Mutex
	envUsers int
)

// GetLogger returns the onnx backend logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("scoring").Module("onnx")
}

// Acquire initializes the runtime environment on first use. libraryPath
// overrides the shared library location when non-empty. Every successful
// Acquire must be paired with Release.
func Acquire(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envUsers == 0 && !ort.IsInitialized() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return errors.New(fmt.Errorf("initialize onnxruntime: %w", err)).
				Component("scoring").
				Category(errors.CategoryModelInit).
				Context("library_path", libraryPath).
				Build()
		}
		GetLogger().Info("onnxruntime initialized", logger.String("library_path", libraryPath))
	}
	envUsers++
	return nil
}

// Release drops one reference and destroys the environment with the last.
func Release() {
	envMu.Lock()
	defer envMu.Unlock()

	if envUsers == 0 {
		return
	}
	envUsers--
	if envUsers == 0 && ort.IsInitialized() {
		if err := ort.DestroyEnvironment(); err != nil {
			GetLogger().Warn("failed to destroy onnxruntime environment", logger.Error(err))
		}
	}
}

// sessionFor opens a session on the model's first input and output.
func sessionFor(path string, threads int) (*ort.DynamicAdvancedSession, ort.InputOutputInfo, ort.InputOutputInfo, error) {
	var none ort.InputOutputInfo

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, none, none, loadError(err, path, "inspect model")
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, none, none, loadError(fmt.Errorf("model declares %d inputs and %d outputs", len(inputs), len(outputs)), path, "inspect model")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, none, none, loadError(err, path, "create session options")
	}
	defer func() { _ = options.Destroy() }()

	if threads > 0 {
		if err := options.SetIntraOpNumThreads(threads); err != nil {
			return nil, none, none, loadError(err, path, "set intra-op threads")
		}
		if err := options.SetInterOpNumThreads(1); err != nil {
			return nil, none, none, loadError(err, path, "set inter-op threads")
		}
	}

	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, options)
	if err != nil {
		return nil, none, none, loadError(err, path, "create session")
	}
	return session, inputs[0], outputs[0], nil
}

// run executes a session on one float32 input and returns the first output.
func run(session *ort.DynamicAdvancedSession, shape []int64, data []float32) ([]float32, []int64, error) {
	input, err := ort.NewTensor(ort.NewShape(shape...), data)
	if err != nil {
		return nil, nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer func() { _ = input.Destroy() }()

	outputs := []ort.ArbitraryTensor{nil}
	if err := session.Run([]ort.ArbitraryTensor{input}, outputs); err != nil {
		return nil, nil, fmt.Errorf("run session: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			_ = outputs[0].Destroy()
		}
	}()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("output is %T, want float32 tensor", outputs[0])
	}
	out := make([]float32, len(tensor.GetData()))
	copy(out, tensor.GetData())
	return out, []int64(tensor.GetShape()), nil
}

func loadError(err error, path, op string) error {
	return errors.New(fmt.Errorf("%s: %w", op, err)).
		Component("scoring").
		Category(errors.CategoryModelLoad).
		Context("model_path", path).
		Build()
}

func inferenceError(err error, model string) error {
	return errors.New(err).
		Component("scoring").
		Category(errors.CategoryInference).
		Context("model", model).
		Build()
}
