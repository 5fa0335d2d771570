package postprocess

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nvr-ai/go-ssd/boxes"
)

var testVariances = boxes.Variances{CX: 0.1, CY: 0.1, W: 0.2, H: 0.2}

// anchorRow describes one prediction row whose offsets are zero, so the
// decoded box equals the anchor.
type anchorRow struct {
	scores []float32
	anchor boxes.Centroid
}

// predictionRows lays out rows of width len(scores)+12.
func predictionRows(rows ...anchorRow) []float32 {
	var data []float32
	for _, r := range rows {
		data = append(data, r.scores...)
		data = append(data,
			0, 0, 0, 0,
			r.anchor.CX, r.anchor.CY, r.anchor.W, r.anchor.H,
			testVariances.CX, testVariances.CY, testVariances.W, testVariances.H,
		)
	}
	return data
}

// randomPredictions builds batch*nBoxes rows with random scores, offsets and
// anchors in normalized coordinates.
func randomPredictions(rng *rand.Rand, batch, nBoxes, nClasses int) []float32 {
	width := nClasses + boxes.DecodeFields
	data := make([]float32, 0, batch*nBoxes*width)
	for i := 0; i < batch*nBoxes; i++ {
		for c := 0; c < nClasses; c++ {
			data = append(data, rng.Float32())
		}
		data = append(data,
			rng.Float32()*2-1, rng.Float32()*2-1, rng.Float32()*2-1, rng.Float32()*2-1,
			rng.Float32(), rng.Float32(), 0.05+rng.Float32()*0.3, 0.05+rng.Float32()*0.3,
			testVariances.CX, testVariances.CY, testVariances.W, testVariances.H,
		)
	}
	return data
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TopK = 5
	cfg.MaxNMSOutputSize = 10
	return cfg
}

func countReal(dets []Detection) int {
	n := 0
	for _, d := range dets {
		if !d.IsPadding() {
			n++
		}
	}
	return n
}

func assertDetection(t *testing.T, expected, actual Detection) {
	t.Helper()
	assert.Equal(t, expected.Class, actual.Class)
	assert.InDelta(t, expected.Score, actual.Score, 1e-6)
	assert.InDelta(t, expected.Box.X1, actual.Box.X1, 1e-6)
	assert.InDelta(t, expected.Box.Y1, actual.Box.Y1, 1e-6)
	assert.InDelta(t, expected.Box.X2, actual.Box.X2, 1e-6)
	assert.InDelta(t, expected.Box.Y2, actual.Box.Y2, 1e-6)
}
