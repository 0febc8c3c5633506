package cascade

import (
	"fmt"

	"github.com/orthovision/orthovision/internal/conf"
	"github.com/orthovision/orthovision/internal/scoring"
)

// DetectorLookup returns the loaded detector of an artifact.
type DetectorLookup func(artifact string) (scoring.Detector, bool)

// StagesFromSettings builds stages in configured order.
func StagesFromSettings(settings []conf.StageSettings, lookup DetectorLookup) ([]Stage, error) {
	stages := make([]Stage, 0, len(settings))
	for _, s := range settings {
		det, ok := lookup(s.Artifact)
		if !ok {
			return nil, configError(fmt.Errorf("stage %q: detector artifact %q is not loaded", s.Name, s.Artifact))
		}

		var labels LabelMapper
		switch s.Labels {
		case "", conf.LabelsArea:
			labels = AreaLabels()
		case conf.LabelsClasses:
			if len(s.ClassNames) == 0 {
				return nil, configError(fmt.Errorf("stage %q: class labels need class_names", s.Name))
			}
			labels = ClassLabels(s.ClassNames)
		default:
			return nil, configError(fmt.Errorf("stage %q: unknown label mode %q", s.Name, s.Labels))
		}

		stages = append(stages, Stage{
			Name:      s.Name,
			Detector:  det,
			Threshold: s.Threshold,
			Labels:    labels,
		})
	}
	return stages, nil
}

// MessagesFromSettings converts configured texts; blanks fall back to defaults.
func MessagesFromSettings(m conf.MessageSettings) Messages {
	return Messages{
		Fractured:               m.Fractured,
		FracturedUnlocalized:    m.FracturedUnlocalized,
		NonFractured:            m.NonFractured,
		NonFracturedUnlocalized: m.NonFracturedUnlocalized,
		UnlocalizedWarning:      m.UnlocalizedWarning,
	}.withDefaults()
}
