package detect

import "sort"

// IoU computes intersection over union of two axis-aligned boxes.
// Zero-area boxes yield 0 with respect to any other box.
func IoU(a, b RawCandidate) float64 {
	areaA := (a.X2 - a.X1) * (a.Y2 - a.Y1)
	areaB := (b.X2 - b.X1) * (b.Y2 - b.Y1)
	if areaA <= 0 || areaB <= 0 {
		return 0
	}

	x1 := max(a.X1, b.X1)
	y1 := max(a.Y1, b.Y1)
	x2 := min(a.X2, b.X2)
	y2 := min(a.Y2, b.Y2)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := (x2 - x1) * (y2 - y1)

	return inter / (areaA + areaB - inter)
}

// NMS performs greedy non-maximum suppression over candidates of a
// single class. Candidates are visited in descending confidence order
// (stable on the original index for equal confidence); each kept box
// suppresses every remaining box whose IoU with it exceeds
// iouThreshold.
func NMS(candidates []RawCandidate, iouThreshold float64) []RawCandidate {
	n := len(candidates)
	if n == 0 {
		return nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return candidates[order[i]].Confidence > candidates[order[j]].Confidence
	})

	suppressed := make([]bool, n)
	kept := make([]RawCandidate, 0, n)

	for i := 0; i < n; i++ {
		idx := order[i]
		if suppressed[idx] {
			continue
		}
		anchor := candidates[idx]
		kept = append(kept, anchor)

		for j := i + 1; j < n; j++ {
			next := order[j]
			if suppressed[next] {
				continue
			}
			if IoU(anchor, candidates[next]) > iouThreshold {
				suppressed[next] = true
			}
		}
	}

	return kept
}
