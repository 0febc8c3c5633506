package cascade

import (
	"github.com/orthovision/orthovision/internal/conf"
	"github.com/orthovision/orthovision/internal/scoring"
)

// Case identifies which recommendation applies to an outcome.
type Case int

const (
	// CaseFractured is a Fractured label that was localized or not eligible
	// for localization.
	CaseFractured Case = iota
	// CaseFracturedUnlocalized is a confident positive no stage could localize.
	CaseFracturedUnlocalized
	CaseNonFractured
	// CaseNonFracturedUnlocalized completes the matrix; the engine never
	// localizes negatives so it is not produced today.
	CaseNonFracturedUnlocalized
)

// String returns the case identifier.
func (c Case) String() string {
	switch c {
	case CaseFractured:
		return "fractured"
	case CaseFracturedUnlocalized:
		return "fractured-unlocalized"
	case CaseNonFractured:
		return "non-fractured"
	case CaseNonFracturedUnlocalized:
		return "non-fractured-unlocalized"
	default:
		return "unknown"
	}
}

func caseFor(label scoring.Label, unlocalized bool) Case {
	switch {
	case label == scoring.Fractured && unlocalized:
		return CaseFracturedUnlocalized
	case label == scoring.Fractured:
		return CaseFractured
	case unlocalized:
		return CaseNonFracturedUnlocalized
	default:
		return CaseNonFractured
	}
}

// Detection is one localized region.
type Detection struct {
	ID         int // 1-based within the resolving stage
	Label      string
	Box        [4]float64 // x1, y1, x2, y2 in source pixels
	Confidence float64
	Type       string // fracture type tag, empty when the stage has none
}

// Outcome is the immutable result of one request.
type Outcome struct {
	Classification scoring.Classification
	Detections     []Detection // never nil
	Stage          string      // resolving stage, empty when none
	Warning        string      // set for unlocalized positives only
	Case           Case
	Recommendation string
}

// Localized reports whether a stage resolved the request.
func (o *Outcome) Localized() bool {
	return o.Stage != ""
}

// Messages holds the recommendation text of each case and the warning.
type Messages struct {
	Fractured               string
	FracturedUnlocalized    string
	NonFractured            string
	NonFracturedUnlocalized string
	UnlocalizedWarning      string
}

func (m Messages) withDefaults() Messages {
	if m.Fractured == "" {
		m.Fractured = conf.MessageFractured
	}
	if m.FracturedUnlocalized == "" {
		m.FracturedUnlocalized = conf.MessageFracturedUnlocalized
	}
	if m.NonFractured == "" {
		m.NonFractured = conf.MessageNonFractured
	}
	if m.NonFracturedUnlocalized == "" {
		m.NonFracturedUnlocalized = m.NonFractured
	}
	if m.UnlocalizedWarning == "" {
		m.UnlocalizedWarning = conf.MessageUnlocalizedWarning
	}
	return m
}

// For returns the recommendation of c.
func (m Messages) For(c Case) string {
	switch c {
	case CaseFracturedUnlocalized:
		return m.FracturedUnlocalized
	case CaseNonFractured:
		return m.NonFractured
	case CaseNonFracturedUnlocalized:
		return m.NonFracturedUnlocalized
	default:
		return m.Fractured
	}
}
