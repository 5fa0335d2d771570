package postprocess

import (
	"cmp"
	"slices"

	"github.com/nvr-ai/go-ssd/boxes"
)

// Suppress performs greedy Non-Maximum Suppression on the candidates of a
// single class.
//
// Candidates are visited by descending score; equal scores keep their input
// order. Each kept box discards every remaining box whose IoU with it is
// strictly greater than iouThreshold.
//
// Arguments:
//   - candidates: Candidates of one class, in any order. Not modified.
//   - iouThreshold: IoU threshold above which overlapping boxes are suppressed.
//   - maxOutput: Maximum number of boxes to keep.
//
// Returns:
//   - Kept detections, highest score first. If no candidates are provided, returns nil.
func Suppress(candidates []Detection, iouThreshold float32, maxOutput int) []Detection {
	n := len(candidates)
	if n == 0 || maxOutput <= 0 {
		return nil
	}

	sorted := sortByScore(candidates)
	filtered := make([]Detection, 0, min(n, maxOutput))
	used := make([]bool, n)

	for i := 0; i < n && len(filtered) < maxOutput; i++ {
		if used[i] {
			continue
		}

		anchor := sorted[i]
		filtered = append(filtered, anchor)
		used[i] = true

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}
			if boxes.IoU(anchor.Box, sorted[j].Box) > iouThreshold {
				used[j] = true
			}
		}
	}

	return filtered
}

// PadDetections returns exactly n detections: dets truncated or followed by
// padding sentinels.
func PadDetections(dets []Detection, n int) []Detection {
	out := make([]Detection, n)
	copy(out, dets)
	return out
}

// sortByScore returns a copy of dets stably sorted by descending score.
func sortByScore(dets []Detection) []Detection {
	sorted := slices.Clone(dets)
	slices.SortStableFunc(sorted, func(a, b Detection) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return sorted
}

// selectTopK returns the k highest scoring detections, padding with
// sentinels first when fewer than k are available.
func selectTopK(dets []Detection, k int) []Detection {
	if len(dets) < k {
		dets = PadDetections(dets, k)
	}
	return sortByScore(dets)[:k]
}
