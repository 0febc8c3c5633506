package scoring

import (
	"fmt"
	"sort"
)

// MaxDetections caps the boxes kept after suppression.
const MaxDetections = 300

// YOLOLayout describes a detector output tensor. Zero fields are unknown.
type YOLOLayout struct {
	Classes    int // class scores per candidate
	Candidates int // candidate boxes per image
}

// YOLOCandidates returns the candidate count of a three-head YOLOv8 model
// (strides 8, 16 and 32) with a square input of the given size.
func YOLOCandidates(inputSize int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		side := inputSize / stride
		n += side * side
	}
	return n
}

// axes resolves the attribute and candidate axes of a [1, a, b] output.
// A known class count or candidate count decides the layout; without either
// the larger axis is taken as the candidate axis.
func (l YOLOLayout) axes(shape []int64) (attrs, count int, transposed bool, err error) {
	a, b := int(shape[1]), int(shape[2])
	switch {
	case l.Classes > 0:
		switch 4 + l.Classes {
		case a:
			return a, b, false, nil
		case b:
			return b, a, true, nil
		}
		return 0, 0, false, fmt.Errorf("detector output shape %v has no axis of %d attributes", shape, 4+l.Classes)
	case l.Candidates > 0:
		switch l.Candidates {
		case b:
			return a, b, false, nil
		case a:
			return b, a, true, nil
		}
		return 0, 0, false, fmt.Errorf("detector output shape %v has no axis of %d candidates", shape, l.Candidates)
	case a > b:
		return b, a, true, nil
	default:
		return a, b, false, nil
	}
}

// DecodeYOLO decodes a YOLOv8 style output tensor of shape [1, 4+nc, N] (or
// the transposed [1, N, 4+nc]) into boxes in model input coordinates. Each
// candidate takes its best class; candidates scoring below threshold are
// dropped. Boxes are center-x, center-y, width, height in the tensor.
func DecodeYOLO(data []float32, shape []int64, layout YOLOLayout, threshold float64) ([]Box, error) {
	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("unexpected detector output shape %v", shape)
	}
	attrs, count, transposed, err := layout.axes(shape)
	if err != nil {
		return nil, err
	}
	if attrs < 5 {
		return nil, fmt.Errorf("detector output has %d attributes, want at least 5", attrs)
	}
	if len(data) != attrs*count {
		return nil, fmt.Errorf("detector output has %d values, shape %v needs %d", len(data), shape, attrs*count)
	}

	at := func(attr, i int) float64 {
		if transposed {
			return float64(data[i*attrs+attr])
		}
		return float64(data[attr*count+i])
	}

	numClasses := attrs - 4
	var boxes []Box
	for i := range count {
		bestClass, bestScore := 0, at(4, i)
		for c := 1; c < numClasses; c++ {
			if s := at(4+c, i); s > bestScore {
				bestClass, bestScore = c, s
			}
		}
		if bestScore < threshold {
			continue
		}
		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		boxes = append(boxes, Box{
			X1:         cx - w/2,
			Y1:         cy - h/2,
			X2:         cx + w/2,
			Y2:         cy + h/2,
			Confidence: bestScore,
			ClassID:    bestClass,
		})
	}
	return boxes, nil
}

// IoU returns the intersection over union of two boxes.
func IoU(a, b Box) float64 {
	ix := min(a.X2, b.X2) - max(a.X1, b.X1)
	iy := min(a.Y2, b.Y2) - max(a.Y1, b.Y1)
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// NMS performs greedy per-class non-maximum suppression and returns the kept
// boxes ordered by descending confidence, at most limit of them.
func NMS(boxes []Box, iouThreshold float64, limit int) []Box {
	sorted := make([]Box, len(boxes))
	copy(sorted, boxes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })

	kept := make([]Box, 0, min(len(sorted), limit))
	suppressed := make([]bool, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		if len(kept) == limit {
			break
		}
		for j := i + 1; j < len(sorted); j++ {
			if !suppressed[j] && sorted[j].ClassID == sorted[i].ClassID && IoU(sorted[i], sorted[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

// PostprocessYOLO decodes, suppresses and maps detections back to source
// pixels, dropping boxes left without extent after clipping.
func PostprocessYOLO(data []float32, shape []int64, layout YOLOLayout, frame Frame, threshold, iouThreshold float64) ([]Box, error) {
	candidates, err := DecodeYOLO(data, shape, layout, threshold)
	if err != nil {
		return nil, err
	}
	kept := NMS(candidates, iouThreshold, MaxDetections)
	out := make([]Box, 0, len(kept))
	for _, b := range kept {
		if r := frame.Restore(b); r.Valid() {
			out = append(out, r)
		}
	}
	return out, nil
}
