package cascade

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orthovision/orthovision/internal/conf"
	"github.com/orthovision/orthovision/internal/errors"
	"github.com/orthovision/orthovision/internal/scoring"
)

func TestInfer_GatedOutcomesSkipDetection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		label scoring.Label
		conf  float64
		want  Case
	}{
		{"non-fractured low", scoring.NonFractured, 0.10, CaseNonFractured},
		{"non-fractured high", scoring.NonFractured, 0.99, CaseNonFractured},
		{"fractured below gate", scoring.Fractured, 0.4999, CaseFractured},
		{"fractured zero", scoring.Fractured, 0, CaseFractured},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s0 := &fakeDetector{boxes: []scoring.Box{{X2: 1, Y2: 1, Confidence: 0.9}}}
			s1 := &fakeDetector{boxes: []scoring.Box{{X2: 1, Y2: 1, Confidence: 0.9}}}
			e := twoStage(t, classifierReturning(tt.label, tt.conf), s0, s1, nil)

			out, err := e.Infer(t.Context(), testImage())
			require.NoError(t, err)

			assert.Empty(t, out.Detections)
			assert.NotNil(t, out.Detections)
			assert.Empty(t, out.Warning)
			assert.Empty(t, out.Stage)
			assert.Equal(t, tt.label, out.Classification.Label, "label reported as-is")
			assert.Equal(t, tt.want, out.Case)
			assert.Zero(t, s0.calls.Load())
			assert.Zero(t, s1.calls.Load())
		})
	}
}

func TestInfer_GateIsInclusive(t *testing.T) {
	t.Parallel()

	s0 := &fakeDetector{boxes: []scoring.Box{{X1: 1, Y1: 1, X2: 5, Y2: 5, Confidence: 0.6}}}
	s1 := &fakeDetector{}
	e := twoStage(t, classifierReturning(scoring.Fractured, 0.5), s0, s1, nil)

	out, err := e.Infer(t.Context(), testImage())
	require.NoError(t, err)
	assert.Equal(t, int32(1), s0.calls.Load())
	assert.Equal(t, "stage0", out.Stage)
}

func TestInfer_StageZeroHitNeverRunsFallback(t *testing.T) {
	t.Parallel()

	s0 := &fakeDetector{boxes: []scoring.Box{
		{X1: 1, Y1: 2, X2: 3, Y2: 4, Confidence: 0.7},
		{X1: 5, Y1: 6, X2: 7, Y2: 8, Confidence: 0.4},
	}}
	s1 := &fakeDetector{boxes: []scoring.Box{{X2: 1, Y2: 1, Confidence: 0.9}}}
	obs := &recordingObserver{}
	e := twoStage(t, classifierReturning(scoring.Fractured, 0.8), s0, s1, obs)

	out, err := e.Infer(t.Context(), testImage())
	require.NoError(t, err)

	assert.Zero(t, s1.calls.Load())
	require.Len(t, out.Detections, 2)
	assert.Equal(t, Detection{ID: 1, Label: "Fracture Area 1", Box: [4]float64{1, 2, 3, 4}, Confidence: 0.7}, out.Detections[0])
	assert.Equal(t, Detection{ID: 2, Label: "Fracture Area 2", Box: [4]float64{5, 6, 7, 8}, Confidence: 0.4}, out.Detections[1])
	assert.Equal(t, []string{"stage0"}, obs.stages)
	assert.Equal(t, []string{"stage0"}, obs.resolutions)
	assert.Equal(t, []string{"Fractured"}, obs.classified)
}

func TestInfer_FallbackStageTagsAndLabels(t *testing.T) {
	t.Parallel()

	s0 := &fakeDetector{}
	s1 := &fakeDetector{boxes: []scoring.Box{
		{X1: 1, Y1: 1, X2: 9, Y2: 9, Confidence: 0.8, ClassID: 1},
		{X1: 2, Y1: 2, X2: 4, Y2: 4, Confidence: 0.5, ClassID: 7},
	}}
	e := twoStage(t, classifierReturning(scoring.Fractured, 0.9), s0, s1, nil)

	out, err := e.Infer(t.Context(), testImage())
	require.NoError(t, err)

	assert.Equal(t, "stage1", out.Stage)
	assert.True(t, out.Localized())
	assert.Empty(t, out.Warning)
	assert.Equal(t, CaseFractured, out.Case)
	require.Len(t, out.Detections, 2)
	assert.Equal(t, 1, out.Detections[0].ID)
	assert.Equal(t, "wrist positive", out.Detections[0].Label)
	assert.Equal(t, "wrist positive", out.Detections[0].Type)
	assert.Equal(t, 2, out.Detections[1].ID)
	assert.Equal(t, UnknownLabel, out.Detections[1].Label)

	assert.Equal(t, []float64{0.25}, s0.thresholds, "stage thresholds are independent of the gate")
	assert.Equal(t, []float64{0.30}, s1.thresholds)
}

func TestInfer_UnlocalizedPositive(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	e := twoStage(t, classifierReturning(scoring.Fractured, 0.75), &fakeDetector{}, &fakeDetector{}, obs)

	out, err := e.Infer(t.Context(), testImage())
	require.NoError(t, err)

	assert.Empty(t, out.Detections)
	assert.Empty(t, out.Stage)
	assert.False(t, out.Localized())
	assert.Equal(t, conf.MessageUnlocalizedWarning, out.Warning)
	assert.Equal(t, CaseFracturedUnlocalized, out.Case)
	assert.Equal(t, conf.MessageFracturedUnlocalized, out.Recommendation)
	assert.Equal(t, []string{"stage0", "stage1"}, obs.stages)
	assert.Equal(t, []string{ResolutionNone}, obs.resolutions)
}

func TestInfer_NoStagesConfigured(t *testing.T) {
	t.Parallel()

	e, err := New(classifierReturning(scoring.Fractured, 0.9), nil, Options{Logger: testLogger()})
	require.NoError(t, err)

	out, err := e.Infer(t.Context(), testImage())
	require.NoError(t, err)
	assert.Equal(t, CaseFracturedUnlocalized, out.Case)
	assert.NotEmpty(t, out.Warning)
}

func TestInfer_Scenarios(t *testing.T) {
	t.Parallel()

	t.Run("A negative", func(t *testing.T) {
		t.Parallel()
		e := twoStage(t, classifierReturning(scoring.NonFractured, 0.10), &fakeDetector{}, &fakeDetector{}, nil)
		out, err := e.Infer(t.Context(), testImage())
		require.NoError(t, err)

		assert.Equal(t, scoring.NonFractured, out.Classification.Label)
		assert.Empty(t, out.Detections)
		assert.Empty(t, out.Warning)
		assert.Equal(t, conf.MessageNonFractured, out.Recommendation)
	})

	t.Run("B localized by stage0", func(t *testing.T) {
		t.Parallel()
		s0 := &fakeDetector{boxes: []scoring.Box{{X1: 10, Y1: 10, X2: 50, Y2: 50, Confidence: 0.8}}}
		e := twoStage(t, classifierReturning(scoring.Fractured, 0.92), s0, &fakeDetector{}, nil)
		out, err := e.Infer(t.Context(), testImage())
		require.NoError(t, err)

		assert.Equal(t, scoring.Fractured, out.Classification.Label)
		assert.Equal(t, "stage0", out.Stage)
		assert.Empty(t, out.Warning)
		assert.Equal(t, []Detection{{ID: 1, Label: "Fracture Area 1", Box: [4]float64{10, 10, 50, 50}, Confidence: 0.8}}, out.Detections)
		assert.Equal(t, conf.MessageFractured, out.Recommendation)
	})

	t.Run("C unlocalized", func(t *testing.T) {
		t.Parallel()
		e := twoStage(t, classifierReturning(scoring.Fractured, 0.75), &fakeDetector{}, &fakeDetector{}, nil)
		out, err := e.Infer(t.Context(), testImage())
		require.NoError(t, err)

		assert.Empty(t, out.Detections)
		assert.NotEmpty(t, out.Warning)
	})
}

func TestInfer_ScoringErrorsPropagate(t *testing.T) {
	t.Parallel()

	t.Run("classifier", func(t *testing.T) {
		t.Parallel()
		cls := &fakeClassifier{err: fmt.Errorf("session run failed")}
		s0 := &fakeDetector{}
		e := twoStage(t, cls, s0, &fakeDetector{}, nil)

		out, err := e.Infer(t.Context(), testImage())
		require.Error(t, err)
		assert.Nil(t, out)
		assert.True(t, errors.IsCategory(err, errors.CategoryInference))
		assert.Contains(t, err.Error(), "session run failed")
		assert.Zero(t, s0.calls.Load())
	})

	t.Run("detector", func(t *testing.T) {
		t.Parallel()
		s0 := &fakeDetector{err: fmt.Errorf("bad output shape")}
		s1 := &fakeDetector{boxes: []scoring.Box{{X2: 1, Y2: 1, Confidence: 0.9}}}
		e := twoStage(t, classifierReturning(scoring.Fractured, 0.9), s0, s1, nil)

		out, err := e.Infer(t.Context(), testImage())
		require.Error(t, err)
		assert.Nil(t, out)
		assert.Contains(t, err.Error(), "stage0")
		assert.Zero(t, s1.calls.Load(), "a failed stage is not a silent one")
	})
}

func TestInfer_Cancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	s0 := &fakeDetector{onDetect: cancel}
	s1 := &fakeDetector{}
	e := twoStage(t, classifierReturning(scoring.Fractured, 0.9), s0, s1, nil)

	_, err := e.Infer(ctx, testImage())
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, s1.calls.Load())
}

func TestInfer_Concurrent(t *testing.T) {
	t.Parallel()

	s0 := &fakeDetector{boxes: []scoring.Box{{X1: 1, Y1: 1, X2: 2, Y2: 2, Confidence: 0.9}}}
	e := twoStage(t, classifierReturning(scoring.Fractured, 0.9), s0, &fakeDetector{}, nil)

	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			out, err := e.Infer(context.Background(), testImage())
			assert.NoError(t, err)
			assert.Equal(t, "stage0", out.Stage)
		})
	}
	wg.Wait()
	assert.Equal(t, int32(16), s0.calls.Load())
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	cls := classifierReturning(scoring.NonFractured, 0.1)
	det := &fakeDetector{}

	_, err := New(nil, nil, Options{})
	require.ErrorIs(t, err, ErrNoClassifier)

	tests := []struct {
		name   string
		stages []Stage
		opts   Options
	}{
		{"unnamed stage", []Stage{{Detector: det}}, Options{}},
		{"duplicate stage", []Stage{{Name: "a", Detector: det}, {Name: "a", Detector: det}}, Options{}},
		{"missing detector", []Stage{{Name: "a"}}, Options{}},
		{"threshold above one", []Stage{{Name: "a", Detector: det, Threshold: 1.5}}, Options{}},
		{"negative gate", nil, Options{Gate: -0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(cls, tt.stages, tt.opts)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	e, err := New(classifierReturning(scoring.NonFractured, 0.1), []Stage{
		{Name: "b", Detector: &fakeDetector{}},
		{Name: "a", Detector: &fakeDetector{}},
	}, Options{})
	require.NoError(t, err)
	assert.InDelta(t, DefaultGate, e.Gate(), 0)
	assert.Equal(t, []string{"b", "a"}, e.Stages(), "order kept")
}

func TestNew_LeavesCallerStagesUntouched(t *testing.T) {
	t.Parallel()

	stages := []Stage{{Name: "s", Detector: &fakeDetector{}}}
	e, err := New(classifierReturning(scoring.NonFractured, 0.1), stages, Options{Logger: testLogger()})
	require.NoError(t, err)
	assert.Nil(t, stages[0].Labels, "defaults are applied to the engine's copy")
	require.NotNil(t, e.stages[0].Labels)

	label, _ := e.stages[0].Labels(1, scoring.Box{})
	assert.Equal(t, "Fracture Area 1", label)
}

func TestInfer_CustomGate(t *testing.T) {
	t.Parallel()

	s0 := &fakeDetector{boxes: []scoring.Box{{X2: 1, Y2: 1, Confidence: 0.9}}}
	e, err := New(classifierReturning(scoring.Fractured, 0.6), []Stage{{Name: "s", Detector: s0}},
		Options{Gate: 0.7, Logger: testLogger()})
	require.NoError(t, err)

	out, err := e.Infer(t.Context(), testImage())
	require.NoError(t, err)
	assert.Zero(t, s0.calls.Load())
	assert.Equal(t, CaseFractured, out.Case)
}
