package cascade

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orthovision/orthovision/internal/conf"
	"github.com/orthovision/orthovision/internal/scoring"
)

func TestAreaLabels(t *testing.T) {
	t.Parallel()

	label, tag := AreaLabels()(3, scoring.Box{ClassID: 5})
	assert.Equal(t, "Fracture Area 3", label)
	assert.Empty(t, tag)
}

func TestClassLabels(t *testing.T) {
	t.Parallel()

	names := []string{"elbow positive", "humerus"}
	m := ClassLabels(names)
	names[0] = "mutated"

	label, tag := m(1, scoring.Box{ClassID: 0})
	assert.Equal(t, "elbow positive", label, "names are copied")
	assert.Equal(t, "elbow positive", tag)

	for _, id := range []int{-1, 2, 99} {
		label, _ := m(1, scoring.Box{ClassID: id})
		assert.Equal(t, UnknownLabel, label, "class id %d", id)
	}
}

func TestCase_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "fractured", CaseFractured.String())
	assert.Equal(t, "fractured-unlocalized", CaseFracturedUnlocalized.String())
	assert.Equal(t, "non-fractured", CaseNonFractured.String())
	assert.Equal(t, "non-fractured-unlocalized", CaseNonFracturedUnlocalized.String())
	assert.Equal(t, "unknown", Case(42).String())
}

func TestMessages(t *testing.T) {
	t.Parallel()

	m := MessagesFromSettings(conf.MessageSettings{Fractured: "custom"})
	assert.Equal(t, "custom", m.For(CaseFractured))
	assert.Equal(t, conf.MessageFracturedUnlocalized, m.For(CaseFracturedUnlocalized))
	assert.Equal(t, conf.MessageNonFractured, m.For(CaseNonFractured))
	assert.Equal(t, conf.MessageNonFractured, m.For(CaseNonFracturedUnlocalized))
	assert.Equal(t, conf.MessageUnlocalizedWarning, m.UnlocalizedWarning)
}

func TestStagesFromSettings(t *testing.T) {
	t.Parallel()

	d0, d1 := &fakeDetector{}, &fakeDetector{}
	lookup := func(name string) (scoring.Detector, bool) {
		switch name {
		case "det0":
			return d0, true
		case "det1":
			return d1, true
		}
		return nil, false
	}

	stages, err := StagesFromSettings([]conf.StageSettings{
		{Name: "fracatlas", Artifact: "det0", Threshold: 0.25},
		{Name: "combined", Artifact: "det1", Threshold: 0.3, Labels: conf.LabelsClasses, ClassNames: []string{"humerus"}},
	}, lookup)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "fracatlas", stages[0].Name)
	assert.Same(t, d0, stages[0].Detector)
	label, _ := stages[1].Labels(1, scoring.Box{ClassID: 0})
	assert.Equal(t, "humerus", label)

	_, err = StagesFromSettings([]conf.StageSettings{{Name: "x", Artifact: "missing"}}, lookup)
	require.Error(t, err)

	_, err = StagesFromSettings([]conf.StageSettings{{Name: "x", Artifact: "det0", Labels: conf.LabelsClasses}}, lookup)
	require.Error(t, err)

	_, err = StagesFromSettings([]conf.StageSettings{{Name: "x", Artifact: "det0", Labels: "bones"}}, lookup)
	require.Error(t, err)
}
