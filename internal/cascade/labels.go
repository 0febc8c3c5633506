package cascade

import (
	"fmt"

	"github.com/orthovision/orthovision/internal/scoring"
)

// UnknownLabel names boxes whose class id has no configured name.
const UnknownLabel = "unknown"

// LabelMapper names the n-th (1-based) box of a stage and returns an
// optional fracture type tag.
type LabelMapper func(n int, box scoring.Box) (label, tag string)

// AreaLabels names boxes "Fracture Area N".
func AreaLabels() LabelMapper {
	return func(n int, _ scoring.Box) (string, string) {
		return fmt.Sprintf("Fracture Area %d", n), ""
	}
}

// ClassLabels names boxes by their class id and tags them with the same name.
// Ids outside names map to UnknownLabel.
func ClassLabels(names []string) LabelMapper {
	names = append([]string(nil), names...)
	return func(_ int, box scoring.Box) (string, string) {
		if box.ClassID < 0 || box.ClassID >= len(names) {
			return UnknownLabel, UnknownLabel
		}
		return names[box.ClassID], names[box.ClassID]
	}
}
