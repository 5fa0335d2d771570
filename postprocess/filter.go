package postprocess

import "github.com/nvr-ai/go-ssd/boxes"

// FilterClass collects the candidates of one class whose score is strictly
// above threshold, in anchor order.
//
// Arguments:
//   - rows: The prediction rows of one image, row-major with the given width.
//   - width: The row width, n_classes + 12.
//   - decoded: The decoded box of every row.
//   - class: The class whose score column is inspected.
//   - threshold: The exclusive minimum score.
//
// Returns:
//   - []Detection: The candidates. Empty (not an error) when nothing passes.
func FilterClass(rows []float32, width int, decoded []boxes.Rect, class int, threshold float32) []Detection {
	var candidates []Detection
	for i, box := range decoded {
		score := rows[i*width+class]
		if score > threshold {
			candidates = append(candidates, Detection{Class: class, Score: score, Box: box})
		}
	}
	return candidates
}

// decodeBoxes decodes the box of every row and optionally rescales it.
func decodeBoxes(rows []float32, width, n int, sx, sy float32, scale bool) []boxes.Rect {
	decoded := make([]boxes.Rect, n)
	for i := range decoded {
		r := boxes.DecodeRow(rows[i*width : (i+1)*width])
		if scale {
			r = r.Scale(sx, sy)
		}
		decoded[i] = r
	}
	return decoded
}
