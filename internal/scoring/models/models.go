// Package models constructs the scoring capabilities from a verified
// artifact set. The resulting Models handle is immutable and shared by all
// requests until Close.
package models

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/orthovision/orthovision/internal/artifact"
	"github.com/orthovision/orthovision/internal/conf"
	"github.com/orthovision/orthovision/internal/cpuspec"
	"github.com/orthovision/orthovision/internal/errors"
	"github.com/orthovision/orthovision/internal/logger"
	"github.com/orthovision/orthovision/internal/scoring"
	"github.com/orthovision/orthovision/internal/scoring/onnx"
	"github.com/orthovision/orthovision/internal/scoring/tflite"
)

// Classifier backends.
const (
	BackendAuto   = "auto"
	BackendONNX   = "onnx"
	BackendTFLite = "tflite"
)

// Constructors, replaceable in tests.
var (
	acquireONNX = onnx.Acquire
	releaseONNX = onnx.Release

	newONNXClassifier = func(path string, t scoring.Transform, threads int) (scoring.Classifier, error) {
		return asClassifier(onnx.NewClassifier(path, t, threads))
	}
	newTFLiteClassifier = func(path string, t scoring.Transform, pool, threads int) (scoring.Classifier, error) {
		return asClassifier(tflite.NewClassifier(path, t, pool, threads))
	}
	newONNXDetector = func(path string, inputSize int, iou float64, threads int) (scoring.Detector, error) {
		d, err := onnx.NewDetector(path, inputSize, iou, threads)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
)

func asClassifier(c scoring.Classifier, err error) (scoring.Classifier, error) {
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Models holds the loaded classifier and detectors.
type Models struct {
	Classifier scoring.Classifier
	backend    string
	detectors  map[string]scoring.Detector // by artifact name
	usesONNX   bool
	log        logger.Logger
}

// Load builds the classifier and one detector per entry of detectorArtifacts
// (duplicates load once). On failure everything loaded so far is closed.
func Load(set *artifact.Set, settings *conf.ScoringSettings, detectorArtifacts []string, log logger.Logger) (*Models, error) {
	if log == nil {
		log = logger.Global().Module("scoring")
	}
	start := time.Now()
	threads := cpuspec.Threads(settings.Threads)
	spec := cpuspec.GetCPUSpec()
	log.Info("loading scoring models",
		logger.String("cpu", spec.BrandName),
		logger.String("features", strings.Join(spec.Features(), ",")),
		logger.Int("threads", threads))

	m := &Models{detectors: make(map[string]scoring.Detector), log: log}
	if err := m.load(set, settings, detectorArtifacts, threads); err != nil {
		_ = m.Close()
		return nil, err
	}

	log.Info("scoring models loaded",
		logger.Int("detectors", len(m.detectors)),
		logger.Duration("elapsed", time.Since(start)))
	return m, nil
}

func (m *Models) load(set *artifact.Set, settings *conf.ScoringSettings, detectorArtifacts []string, threads int) error {
	cs := settings.Classifier
	classifierPath, err := artifactPath(set, cs.Artifact)
	if err != nil {
		return err
	}
	transform := scoring.Transform{
		Channels:      cs.Channels,
		ResizeShorter: cs.ResizeShorter,
		CropSize:      cs.CropSize,
		Mean:          float32(cs.Mean),
		Std:           float32(cs.Std),
	}

	backend, err := classifierBackend(cs.Backend, classifierPath)
	if err != nil {
		return err
	}
	m.backend = backend
	needONNX := backend == BackendONNX || len(detectorArtifacts) > 0
	if needONNX {
		if err := acquireONNX(settings.ONNXRuntimePath); err != nil {
			return err
		}
		m.usesONNX = true
	}

	switch backend {
	case BackendTFLite:
		pool := cs.Pool
		if pool <= 0 {
			pool = threads
		}
		m.Classifier, err = newTFLiteClassifier(classifierPath, transform, pool, threads)
	default:
		m.Classifier, err = newONNXClassifier(classifierPath, transform, threads)
	}
	if err != nil {
		return err
	}

	for _, name := range detectorArtifacts {
		if _, ok := m.detectors[name]; ok {
			continue
		}
		p, err := artifactPath(set, name)
		if err != nil {
			return err
		}
		d, err := newONNXDetector(p, settings.Detector.InputSize, settings.Detector.IoUThreshold, threads)
		if err != nil {
			return err
		}
		m.detectors[name] = d
	}
	return nil
}

// Detector returns the detector loaded for the named artifact.
func (m *Models) Detector(artifactName string) (scoring.Detector, bool) {
	d, ok := m.detectors[artifactName]
	return d, ok
}

// ClassifierBackend returns the runtime serving the classifier.
func (m *Models) ClassifierBackend() string {
	return m.backend
}

// Close releases every model and the runtime environment.
func (m *Models) Close() error {
	var errs []error
	if m.Classifier != nil {
		if err := m.Classifier.Close(); err != nil {
			errs = append(errs, err)
		}
		m.Classifier = nil
	}
	for name, d := range m.detectors {
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close detector %s: %w", name, err))
		}
		delete(m.detectors, name)
	}
	if m.usesONNX {
		releaseONNX()
		m.usesONNX = false
	}
	return errors.Join(errs...)
}

func artifactPath(set *artifact.Set, name string) (string, error) {
	p, ok := set.Path(name)
	if !ok {
		return "", errors.Newf("artifact %q is not part of the verified set", name).
			Component("scoring").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return p, nil
}

// classifierBackend resolves "auto" by file extension.
func classifierBackend(configured, path string) (string, error) {
	switch configured {
	case BackendONNX, BackendTFLite:
		return configured, nil
	case BackendAuto, "":
		if strings.EqualFold(filepath.Ext(path), ".tflite") {
			return BackendTFLite, nil
		}
		return BackendONNX, nil
	default:
		return "", errors.Newf("unknown classifier backend %q", configured).
			Component("scoring").
			Category(errors.CategoryConfiguration).
			Build()
	}
}
