package inference

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ssd/config"
	"github.com/nvr-ai/go-ssd/postprocess"
)

func solidImage(w, h int, c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestPreprocess_Layouts(t *testing.T) {
	img := solidImage(16, 8, color.RGBA{R: 255, G: 128, B: 0, A: 255})

	t.Run("nchw", func(t *testing.T) {
		dst := make([]float32, 3*4*4)
		require.NoError(t, Preprocess(img, dst, 4, 4, LayoutNCHW, 1.0/255))
		assert.InDelta(t, 1.0, dst[0], 1e-3)
		assert.InDelta(t, 128.0/255, dst[16], 1e-2)
		assert.InDelta(t, 0.0, dst[32], 1e-3)
	})

	t.Run("nhwc", func(t *testing.T) {
		dst := make([]float32, 3*4*4)
		require.NoError(t, Preprocess(img, dst, 4, 4, LayoutNHWC, 1))
		assert.InDelta(t, 255, dst[0], 1)
		assert.InDelta(t, 128, dst[1], 2)
		assert.InDelta(t, 0, dst[2], 1)
	})
}

func TestPreprocess_Errors(t *testing.T) {
	img := solidImage(4, 4, color.RGBA{A: 255})

	assert.Error(t, Preprocess(img, make([]float32, 10), 4, 4, LayoutNCHW, 1))
	assert.Error(t, Preprocess(img, make([]float32, 48), 4, 4, Layout("chwn"), 1))
}

func TestLabels(t *testing.T) {
	voc, err := Labels("voc")
	require.NoError(t, err)
	assert.Len(t, voc, 21)
	assert.Equal(t, "person", Label(voc, 15))

	coco, err := Labels("coco")
	require.NoError(t, err)
	assert.Len(t, coco, 81)
	assert.Equal(t, "person", Label(coco, 1))

	assert.Equal(t, "class 99", Label(voc, 99))

	_, err = Labels("imagenet")
	assert.Error(t, err)
}

// fakeRunner returns fixed predictions.
type fakeRunner struct {
	data []float32
	err  error
}

func (f *fakeRunner) Run(image.Image) (*tensor.Dense, error) {
	if f.err != nil {
		return nil, f.err
	}
	return tensor.New(tensor.WithShape(1, len(f.data)/14, 14), tensor.WithBacking(append([]float32(nil), f.data...))), nil
}

func newTestDecoder(t *testing.T) *postprocess.Decoder {
	cfg := postprocess.DefaultConfig()
	cfg.TopK = 10
	cfg.NormalizeCoords = true
	cfg.ImageHeight, cfg.ImageWidth = 300, 300
	d, err := postprocess.New(cfg)
	require.NoError(t, err)
	return d
}

func TestDetector_Detect(t *testing.T) {
	runner := &fakeRunner{data: []float32{
		0.1, 0.8,
		0, 0, 0, 0,
		0.5, 0.5, 0.2, 0.4,
		0.1, 0.1, 0.2, 0.2,
	}}
	d := NewDetector(runner, newTestDecoder(t), WithLogger(zaptest.NewLogger(t)))

	dets, err := d.Detect(context.Background(), solidImage(4, 4, color.RGBA{A: 255}))
	require.NoError(t, err)
	require.Len(t, dets, 1)

	assert.Equal(t, 1, dets[0].Class)
	assert.InDelta(t, 0.8, dets[0].Score, 1e-6)
	assert.InDelta(t, 120, dets[0].Box.X1, 1e-3)
	assert.InDelta(t, 90, dets[0].Box.Y1, 1e-3)
	assert.InDelta(t, 180, dets[0].Box.X2, 1e-3)
	assert.InDelta(t, 210, dets[0].Box.Y2, 1e-3)
}

func TestDetector_Errors(t *testing.T) {
	boom := errors.New("boom")
	d := NewDetector(&fakeRunner{err: boom}, newTestDecoder(t))

	_, err := d.Detect(context.Background(), solidImage(2, 2, color.RGBA{}))
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Detect(ctx, solidImage(2, 2, color.RGBA{}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewSession_Validation(t *testing.T) {
	_, err := NewSession(SessionArgs{Width: 0, Height: 300, NumBoxes: 10, NumClasses: 21})
	assert.Error(t, err)

	_, err = NewSession(SessionArgs{Width: 300, Height: 300, NumBoxes: 10})
	assert.Error(t, err)
}

func TestInitEnvironment_RetriesAfterFailure(t *testing.T) {
	if _, err := os.Stat(SharedLibPath()); err == nil {
		t.Skip("onnxruntime library present, the environment may already be loaded")
	}

	err := initEnvironment("/nonexistent/first/onnxruntime.so")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first")

	err = initEnvironment("/nonexistent/second/onnxruntime.so")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second")
}

func TestOpen_Errors(t *testing.T) {
	_, _, err := Open(config.ModelConfig{Labels: "imagenet"}, newTestDecoder(t), nil)
	assert.Error(t, err)

	_, _, err = Open(config.ModelConfig{Labels: "voc", InputWidth: 300}, newTestDecoder(t), nil)
	assert.ErrorContains(t, err, "open model")
}

func TestSession_Run(t *testing.T) {
	modelPath := os.Getenv("SSD_TEST_MODEL")
	if modelPath == "" {
		t.Skip("SSD_TEST_MODEL not set")
	}
	if _, err := os.Stat(SharedLibPath()); err != nil {
		t.Skipf("onnxruntime library not available: %v", err)
	}

	s, err := NewSession(SessionArgs{
		ModelPath:  modelPath,
		InputName:  "input_1",
		OutputName: "decoded_predictions",
		Width:      300,
		Height:     300,
		Layout:     LayoutNHWC,
		NumBoxes:   8732,
		NumClasses: 21,
	})
	require.NoError(t, err)
	defer s.Close()

	out, err := s.Run(solidImage(640, 480, color.RGBA{R: 90, G: 90, B: 90, A: 255}))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 8732, 33}, out.Shape())
	assert.Equal(t, int64(1), s.Stats().Runs)
}
