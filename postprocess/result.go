package postprocess

import (
	"fmt"

	"github.com/nvr-ai/go-ssd/boxes"
)

// RowSize is the number of values per output row:
// [class_id, confidence, xmin, ymin, xmax, ymax].
const RowSize = 6

// Detection represents a single detection result.
//
// The zero value is the padding sentinel used to fill fixed-size outputs.
type Detection struct {
	// The predicted class index of the result.
	Class int
	// The confidence score of the result.
	Score float32
	// The bounding box of the result in corner form.
	Box boxes.Rect
}

// IsPadding reports whether d is the all-zero sentinel row.
func (d Detection) IsPadding() bool {
	return d == Detection{}
}

// Row writes the detection into dst in output row layout.
func (d Detection) Row(dst []float32) {
	_ = dst[RowSize-1]
	dst[0] = float32(d.Class)
	dst[1] = d.Score
	dst[2] = d.Box.X1
	dst[3] = d.Box.Y1
	dst[4] = d.Box.X2
	dst[5] = d.Box.Y2
}

// FromRow reads a detection from an output row.
func FromRow(row []float32) Detection {
	_ = row[RowSize-1]
	return Detection{
		Class: int(row[0]),
		Score: row[1],
		Box:   boxes.Rect{X1: row[2], Y1: row[3], X2: row[4], Y2: row[5]},
	}
}

func (d Detection) String() string {
	return fmt.Sprintf("class %d (confidence %f): %s", d.Class, d.Score, d.Box)
}

// ParseRows converts a flat run of output rows into detections, dropping
// padding rows.
//
// Arguments:
//   - data: Output values, a multiple of RowSize long.
//
// Returns:
//   - []Detection: The non-padding detections in row order.
func ParseRows(data []float32) []Detection {
	n := len(data) / RowSize
	out := make([]Detection, 0, n)
	for i := 0; i < n; i++ {
		d := FromRow(data[i*RowSize : (i+1)*RowSize])
		if d.IsPadding() {
			continue
		}
		out = append(out, d)
	}
	return out
}
