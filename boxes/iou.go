package boxes

// IoU calculates the Intersection over Union of two axis-aligned boxes.
//
// The boxes are canonicalized first, so swapped corners are tolerated. The
// calculation is broken down into three steps:
//
//  1. The intersection rectangle is found by taking the maximum of the
//     starting coordinates and the minimum of the ending coordinates. If its
//     width or height is zero or negative the boxes do not overlap.
//  2. The union area follows from inclusion-exclusion:
//     Union(A, B) = Area(A) + Area(B) - Intersection(A, B).
//  3. IoU = Intersection / Union.
//
// Identical boxes always score 1, including zero-area ones, so exact
// duplicates are suppressed. Any other pair involving a zero-area box scores 0.
//
// Arguments:
//   - a: The first box.
//   - b: The other box to compare against.
//
// Returns:
//   - float32: A value between 0.0 and 1.0.
//
// Example Usage:
// ```go
//
//	a := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	b := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//	iou := IoU(a, b) // 25 / (100 + 100 - 25) = 0.142857
//
// ```
func IoU(a, b Rect) float32 {
	a, b = a.Canon(), b.Canon()
	if a == b {
		return 1
	}

	areaA := a.Area()
	areaB := b.Area()
	if areaA <= 0 || areaB <= 0 {
		return 0
	}

	ix1 := max(a.X1, b.X1)
	iy1 := max(a.Y1, b.Y1)
	ix2 := min(a.X2, b.X2)
	iy2 := min(a.Y2, b.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0
	}
	inter := interW * interH

	return inter / (areaA + areaB - inter)
}
