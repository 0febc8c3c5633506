// Package cascade turns a classification and up to several detector passes
// into one explainable outcome.
//
// The classifier runs first. A Fractured label at or above the gate enters
// localization, where stages are tried in order and the first stage that
// returns boxes resolves the request. A confident positive that no stage can
// localize ends with a warning instead of an error.
//
// An Engine holds no mutable state after construction and is safe for
// concurrent use.
package cascade

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/orthovision/orthovision/internal/errors"
	"github.com/orthovision/orthovision/internal/logger"
	"github.com/orthovision/orthovision/internal/scoring"
)

// DefaultGate is the minimum Fractured confidence that enters localization.
const DefaultGate = 0.5

// Resolution values reported for requests no stage resolved.
const (
	ResolutionGated = "gated" // localization not attempted
	ResolutionNone  = "none"  // every stage came back empty
)

// ErrNoClassifier is returned by New without a classifier.
var ErrNoClassifier = errors.NewStd("cascade: classifier is required")

// Stage is one detector pass.
type Stage struct {
	Name      string
	Detector  scoring.Detector
	Threshold float64 // minimum box confidence, independent of the gate
	Labels    LabelMapper
}

// Observer receives per request timings. Implementations must be safe for
// concurrent use.
type Observer interface {
	RecordClassification(label string, d time.Duration)
	RecordStage(stage string, boxes int, d time.Duration)
	RecordResolution(resolution string)
}

type nopObserver struct{}

func (nopObserver) RecordClassification(string, time.Duration) {}
func (nopObserver) RecordStage(string, int, time.Duration)     {}
func (nopObserver) RecordResolution(string)                    {}

// Options configure an Engine.
type Options struct {
	Gate     float64 // zero means DefaultGate
	Messages Messages
	Observer Observer
	Logger   logger.Logger
}

// Engine runs the cascade.
type Engine struct {
	classifier scoring.Classifier
	stages     []Stage
	gate       float64
	messages   Messages
	obs        Observer
	log        logger.Logger
}

// New validates the stages and builds an engine. Stage order is kept.
func New(classifier scoring.Classifier, stages []Stage, opts Options) (*Engine, error) {
	if classifier == nil {
		return nil, ErrNoClassifier
	}
	gate := opts.Gate
	if gate == 0 {
		gate = DefaultGate
	}
	if gate < 0 || gate > 1 {
		return nil, configError(fmt.Errorf("gate %v outside [0,1]", gate))
	}

	stages = append([]Stage(nil), stages...)
	seen := make(map[string]bool, len(stages))
	for i, s := range stages {
		switch {
		case s.Name == "":
			return nil, configError(fmt.Errorf("stage %d has no name", i))
		case seen[s.Name]:
			return nil, configError(fmt.Errorf("duplicate stage name %q", s.Name))
		case s.Detector == nil:
			return nil, configError(fmt.Errorf("stage %q has no detector", s.Name))
		case s.Threshold < 0 || s.Threshold > 1:
			return nil, configError(fmt.Errorf("stage %q threshold %v outside [0,1]", s.Name, s.Threshold))
		}
		seen[s.Name] = true
		if s.Labels == nil {
			stages[i].Labels = AreaLabels()
		}
	}

	obs := opts.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	log := opts.Logger
	if log == nil {
		log = GetLogger()
	}

	return &Engine{
		classifier: classifier,
		stages:     stages,
		gate:       gate,
		messages:   opts.Messages.withDefaults(),
		obs:        obs,
		log:        log,
	}, nil
}

// Gate returns the localization gate.
func (e *Engine) Gate() float64 { return e.gate }

// Stages returns the stage names in order.
func (e *Engine) Stages() []string {
	names := make([]string, len(e.stages))
	for i, s := range e.stages {
		names[i] = s.Name
	}
	return names
}

// Infer runs one request through the cascade. Scoring failures abort the
// request; there is no partial outcome.
func (e *Engine) Infer(ctx context.Context, img image.Image) (*Outcome, error) {
	log := e.log.WithContext(ctx)

	start := time.Now()
	cls, err := e.classifier.Classify(ctx, img)
	if err != nil {
		return nil, inferenceError(err, "classify")
	}
	e.obs.RecordClassification(cls.Label.String(), time.Since(start))

	if cls.Label != scoring.Fractured || cls.Confidence < e.gate {
		e.obs.RecordResolution(ResolutionGated)
		log.Debug("localization skipped",
			logger.String("class", cls.Label.String()),
			logger.Float64("confidence", cls.Confidence))
		return e.finish(cls, nil, "", false), nil
	}

	for _, stage := range e.stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		stageStart := time.Now()
		boxes, err := stage.Detector.Detect(ctx, img, stage.Threshold)
		if err != nil {
			return nil, inferenceError(err, stage.Name)
		}
		e.obs.RecordStage(stage.Name, len(boxes), time.Since(stageStart))

		if len(boxes) == 0 {
			log.Debug("stage found nothing", logger.String("stage", stage.Name))
			continue
		}

		e.obs.RecordResolution(stage.Name)
		return e.finish(cls, mapDetections(boxes, stage.Labels), stage.Name, false), nil
	}

	e.obs.RecordResolution(ResolutionNone)
	log.Info("positive classification not localized",
		logger.Float64("confidence", cls.Confidence),
		logger.Int("stages", len(e.stages)))
	return e.finish(cls, nil, "", true), nil
}

func (e *Engine) finish(cls scoring.Classification, detections []Detection, stage string, unlocalized bool) *Outcome {
	if detections == nil {
		detections = []Detection{}
	}
	c := caseFor(cls.Label, unlocalized)
	o := &Outcome{
		Classification: cls,
		Detections:     detections,
		Stage:          stage,
		Case:           c,
		Recommendation: e.messages.For(c),
	}
	if unlocalized {
		o.Warning = e.messages.UnlocalizedWarning
	}
	return o
}

// mapDetections numbers boxes from 1 in detector order.
func mapDetections(boxes []scoring.Box, labels LabelMapper) []Detection {
	out := make([]Detection, len(boxes))
	for i, b := range boxes {
		label, tag := labels(i+1, b)
		out[i] = Detection{
			ID:         i + 1,
			Label:      label,
			Box:        [4]float64{b.X1, b.Y1, b.X2, b.Y2},
			Confidence: b.Confidence,
			Type:       tag,
		}
	}
	return out
}

func configError(err error) error {
	return errors.New(err).
		Component("cascade").
		Category(errors.CategoryConfiguration).
		Build()
}

func inferenceError(err error, stage string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.New(fmt.Errorf("%s: %w", stage, err)).
		Component("cascade").
		Category(errors.CategoryInference).
		Context("stage", stage).
		Build()
}
