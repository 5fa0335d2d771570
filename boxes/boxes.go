// Package boxes - Box geometry for anchor-based detectors.
package boxes

import "fmt"

// Rect is a bounding box in corner form.
type Rect struct {
	X1, Y1, X2, Y2 float32
}

// Centroid is a bounding box in center-size form.
type Centroid struct {
	CX, CY, W, H float32
}

// Corners converts the centroid box to corner form.
//
// Returns:
//   - Rect: The box as (xmin, ymin, xmax, ymax).
func (c Centroid) Corners() Rect {
	return Rect{
		X1: c.CX - 0.5*c.W,
		Y1: c.CY - 0.5*c.H,
		X2: c.CX + 0.5*c.W,
		Y2: c.CY + 0.5*c.H,
	}
}

// Centroid converts the corner box to center-size form.
func (r Rect) Centroid() Centroid {
	return Centroid{
		CX: 0.5 * (r.X1 + r.X2),
		CY: 0.5 * (r.Y1 + r.Y2),
		W:  r.X2 - r.X1,
		H:  r.Y2 - r.Y1,
	}
}

// Width returns the width of the box.
func (r Rect) Width() float32 {
	return r.X2 - r.X1
}

// Height returns the height of the box.
func (r Rect) Height() float32 {
	return r.Y2 - r.Y1
}

// Area returns the area of the box, or zero for an empty box.
func (r Rect) Area() float32 {
	w, h := r.Width(), r.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Canon returns the box with its corners ordered so that X1 <= X2 and Y1 <= Y2.
func (r Rect) Canon() Rect {
	if r.X2 < r.X1 {
		r.X1, r.X2 = r.X2, r.X1
	}
	if r.Y2 < r.Y1 {
		r.Y1, r.Y2 = r.Y2, r.Y1
	}
	return r
}

// Scale multiplies the x coordinates by sx and the y coordinates by sy.
//
// This is how normalized [0,1] coordinates are turned into absolute pixels.
//
// Arguments:
//   - sx: The horizontal scale, usually the image width.
//   - sy: The vertical scale, usually the image height.
//
// Returns:
//   - Rect: The scaled box.
func (r Rect) Scale(sx, sy float32) Rect {
	return Rect{
		X1: r.X1 * sx,
		Y1: r.Y1 * sy,
		X2: r.X2 * sx,
		Y2: r.Y2 * sy,
	}
}

func (r Rect) String() string {
	return fmt.Sprintf("(%f, %f), (%f, %f)", r.X1, r.Y1, r.X2, r.Y2)
}
