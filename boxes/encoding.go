package boxes

import "github.com/chewxy/math32"

// DecodeFields is the number of trailing values in a prediction row that
// describe its box: 4 offsets, 4 anchor values and 4 variances.
const DecodeFields = 12

// Offsets are the anchor-relative values predicted by the network.
type Offsets struct {
	CX, CY, W, H float32
}

// Variances scale the offsets of each coordinate during decoding.
type Variances struct {
	CX, CY, W, H float32
}

// Decode converts anchor-relative offsets into a centroid box.
//
//	cx = cx_offset * var_cx * w_anchor + cx_anchor
//	cy = cy_offset * var_cy * h_anchor + cy_anchor
//	w  = exp(w_offset * var_w) * w_anchor
//	h  = exp(h_offset * var_h) * h_anchor
//
// Arguments:
//   - o: The predicted offsets.
//   - anchor: The anchor box the offsets are relative to.
//   - v: The variances applied to each offset.
//
// Returns:
//   - Centroid: The decoded box in the anchor's coordinate system.
func Decode(o Offsets, anchor Centroid, v Variances) Centroid {
	return Centroid{
		CX: o.CX*v.CX*anchor.W + anchor.CX,
		CY: o.CY*v.CY*anchor.H + anchor.CY,
		W:  math32.Exp(o.W*v.W) * anchor.W,
		H:  math32.Exp(o.H*v.H) * anchor.H,
	}
}

// Encode is the inverse of Decode: it returns the offsets that decode to c
// against the given anchor and variances. Anchor sizes, variances and box
// sizes must be non-zero.
func Encode(c Centroid, anchor Centroid, v Variances) Offsets {
	return Offsets{
		CX: (c.CX - anchor.CX) / (anchor.W * v.CX),
		CY: (c.CY - anchor.CY) / (anchor.H * v.CY),
		W:  math32.Log(c.W/anchor.W) / v.W,
		H:  math32.Log(c.H/anchor.H) / v.H,
	}
}

// SplitRow reads the decode fields from the tail of a prediction row.
//
// The row must hold at least DecodeFields values.
func SplitRow(row []float32) (Offsets, Centroid, Variances) {
	f := row[len(row)-DecodeFields:]
	return Offsets{CX: f[0], CY: f[1], W: f[2], H: f[3]},
		Centroid{CX: f[4], CY: f[5], W: f[6], H: f[7]},
		Variances{CX: f[8], CY: f[9], W: f[10], H: f[11]}
}

// DecodeRow decodes the box of a prediction row into corner form.
func DecodeRow(row []float32) Rect {
	return Decode(SplitRow(row)).Corners()
}
