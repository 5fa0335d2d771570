package postprocess

import (
	"context"
	"math"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ssd/boxes"
)

// Decoder turns batches of raw SSD predictions into [batch, top_k, 6]
// detection tensors. It is safe for concurrent use.
type Decoder struct {
	cfg     Config
	workers int
	log     *zap.Logger
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithWorkers bounds the number of goroutines used per call. Values below 1
// keep the default of one worker per CPU.
func WithWorkers(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(d *Decoder) {
		if l != nil {
			d.log = l
		}
	}
}

// New creates a Decoder after validating cfg.
//
// Arguments:
//   - cfg: The decoding parameters.
//   - opts: Optional worker and logger settings.
//
// Returns:
//   - *Decoder: The decoder.
//   - error: A construction error, see Config.Validate.
//
// @example
// decoder, err := New(DefaultConfig(), WithWorkers(4))
//
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// out, err := decoder.Decode(ctx, predictions) // [batch, 200, 6]
func New(cfg Config, opts ...Option) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Decoder{
		cfg:     cfg,
		workers: runtime.NumCPU(),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Config returns a copy of the decoder's configuration.
func (d *Decoder) Config() Config {
	return d.cfg
}

// OutputShape returns the shape of the tensor Decode produces for a batch.
// It depends only on the configuration, never on the detections found.
func (d *Decoder) OutputShape(batch int) tensor.Shape {
	return tensor.Shape{batch, d.cfg.TopK, RowSize}
}

// Decode runs the full pipeline over a prediction tensor.
//
// Arguments:
//   - ctx: Checked before every unit of work is scheduled.
//   - predictions: A float32 tensor of shape [batch, n_boxes, n_classes+12].
//
// Returns:
//   - *tensor.Dense: A float32 tensor of shape [batch, top_k, 6].
//   - error: ErrInputShape for malformed input, or the context error.
func (d *Decoder) Decode(ctx context.Context, predictions *tensor.Dense) (*tensor.Dense, error) {
	if predictions == nil {
		return nil, errors.Wrap(ErrInputShape, "nil tensor")
	}
	if predictions.Dtype() != tensor.Float32 {
		return nil, errors.Wrapf(ErrInputShape, "dtype %v, expected float32", predictions.Dtype())
	}
	shape := predictions.Shape()
	if len(shape) != 3 {
		return nil, errors.Wrapf(ErrInputShape, "got %v, expected [batch, n_boxes, n_classes+12]", shape)
	}
	if predictions.IsView() {
		materialized, ok := predictions.Materialize().(*tensor.Dense)
		if !ok {
			return nil, errors.Wrap(ErrInputShape, "cannot materialize tensor view")
		}
		predictions = materialized
	}
	data, ok := predictions.Data().([]float32)
	if !ok {
		return nil, errors.Wrapf(ErrInputShape, "unexpected backing %T", predictions.Data())
	}

	out, err := d.DecodeSlice(ctx, data, shape[0], shape[1], shape[2])
	if err != nil {
		return nil, err
	}
	return tensor.New(tensor.WithShape(d.OutputShape(shape[0])...), tensor.WithBacking(out)), nil
}

// DecodeSlice runs the full pipeline over a flat row-major buffer.
//
// Arguments:
//   - ctx: Checked before every unit of work is scheduled.
//   - data: batch*nBoxes*width prediction values.
//   - batch, nBoxes, width: The logical shape of data.
//
// Returns:
//   - []float32: batch*top_k*6 output values.
//   - error: ErrInputShape for malformed input, or the context error.
func (d *Decoder) DecodeSlice(ctx context.Context, data []float32, batch, nBoxes, width int) ([]float32, error) {
	if batch < 0 || nBoxes < 0 {
		return nil, errors.Wrapf(ErrInputShape, "negative dimension in [%d, %d, %d]", batch, nBoxes, width)
	}
	if _, err := d.cfg.numClasses(width); err != nil {
		return nil, err
	}
	need, ok := mulDims(batch, nBoxes, width)
	if !ok {
		return nil, errors.Wrapf(ErrInputShape, "shape [%d, %d, %d] overflows", batch, nBoxes, width)
	}
	if len(data) != need {
		return nil, errors.Wrapf(ErrInputShape, "buffer holds %d values, shape [%d, %d, %d] needs %d",
			len(data), batch, nBoxes, width, need)
	}
	if _, ok := mulDims(batch, d.cfg.TopK, RowSize); !ok {
		return nil, errors.Wrapf(ErrInputShape, "output shape [%d, %d, %d] overflows", batch, d.cfg.TopK, RowSize)
	}

	stride := nBoxes * width
	images := make([][]float32, batch)
	for i := range images {
		images[i] = data[i*stride : (i+1)*stride]
	}

	results, err := d.run(ctx, images, nBoxes, width)
	if err != nil {
		return nil, err
	}

	k := d.cfg.TopK
	out := make([]float32, batch*k*RowSize)
	for i, dets := range results {
		for j, det := range dets {
			det.Row(out[(i*k+j)*RowSize:])
		}
	}
	return out, nil
}

// DecodeImage runs the per-image aggregation over the rows of one image.
//
// Arguments:
//   - rows: nBoxes*width prediction values of a single image.
//   - nBoxes, width: The logical shape of rows.
//
// Returns:
//   - []Detection: Exactly top_k detections, highest score first, padded with
//     zero sentinels.
//   - error: ErrInputShape for malformed input.
func (d *Decoder) DecodeImage(rows []float32, nBoxes, width int) ([]Detection, error) {
	if nBoxes < 0 {
		return nil, errors.Wrapf(ErrInputShape, "negative box count %d", nBoxes)
	}
	if _, err := d.cfg.numClasses(width); err != nil {
		return nil, err
	}
	need, ok := mulDims(nBoxes, width)
	if !ok {
		return nil, errors.Wrapf(ErrInputShape, "shape [%d, %d] overflows", nBoxes, width)
	}
	if len(rows) != need {
		return nil, errors.Wrapf(ErrInputShape, "buffer holds %d values, shape [%d, %d] needs %d",
			len(rows), nBoxes, width, need)
	}
	results, err := d.run(context.Background(), [][]float32{rows}, nBoxes, width)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// mulDims multiplies non-negative dimensions. It reports false when the
// product does not fit in an int.
func mulDims(dims ...int) (int, bool) {
	n := 1
	for _, dim := range dims {
		if dim != 0 && n > math.MaxInt/dim {
			return 0, false
		}
		n *= dim
	}
	return n, true
}

// imageState is the per-image scratch shared by that image's class tasks.
type imageState struct {
	rows    []float32
	decoded []boxes.Rect
	// flat holds max_nms_output_size rows per non-background class.
	flat []Detection
}

// run executes decode, per-class filter and suppression, and top-k selection
// for every image. Inputs are assumed validated.
func (d *Decoder) run(ctx context.Context, images [][]float32, nBoxes, width int) ([][]Detection, error) {
	start := time.Now()
	nClasses := width - boxes.DecodeFields
	classes := nClasses - (BackgroundClass + 1)
	slot := d.cfg.MaxNMSOutputSize
	sx, sy := float32(d.cfg.ImageWidth), float32(d.cfg.ImageHeight)

	states := make([]imageState, len(images))
	err := d.parallel(ctx, len(images), func(i int) {
		states[i] = imageState{
			rows:    images[i],
			decoded: decodeBoxes(images[i], width, nBoxes, sx, sy, d.cfg.NormalizeCoords),
			flat:    make([]Detection, classes*slot),
		}
	})
	if err != nil {
		return nil, err
	}

	// One task per (image, class). Each task owns a disjoint slab of flat.
	err = d.parallel(ctx, len(images)*classes, func(t int) {
		s := &states[t/classes]
		c := t%classes + BackgroundClass + 1
		candidates := FilterClass(s.rows, width, s.decoded, c, d.cfg.ConfidenceThreshold)
		kept := Suppress(candidates, d.cfg.IoUThreshold, slot)
		// The rest of the slab stays zero, padding the class to slot rows.
		offset := (c - BackgroundClass - 1) * slot
		copy(s.flat[offset:offset+slot], kept)
	})
	if err != nil {
		return nil, err
	}

	results := make([][]Detection, len(images))
	err = d.parallel(ctx, len(images), func(i int) {
		results[i] = selectTopK(states[i].flat, d.cfg.TopK)
	})
	if err != nil {
		return nil, err
	}

	if ce := d.log.Check(zap.DebugLevel, "decoded batch"); ce != nil {
		kept := 0
		for _, dets := range results {
			for _, det := range dets {
				if !det.IsPadding() {
					kept++
				}
			}
		}
		ce.Write(
			zap.Int("batch", len(images)),
			zap.Int("boxes", nBoxes),
			zap.Int("classes", nClasses),
			zap.Int("detections", kept),
			zap.Duration("elapsed", time.Since(start)),
		)
	}

	return results, nil
}

// parallel calls fn(i) for every i in [0, n) on at most d.workers goroutines
// and waits for all of them. Scheduling stops once ctx is done.
func (d *Decoder) parallel(ctx context.Context, n int, fn func(i int)) error {
	if n == 0 {
		return nil
	}
	if d.workers == 1 || n == 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(i)
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(d.workers)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	return g.Wait()
}

// Detections reads a [batch, top_k, 6] output tensor back into detections,
// dropping padding rows.
//
// Arguments:
//   - out: A tensor produced by Decode.
//
// Returns:
//   - [][]Detection: One slice per image.
//   - error: ErrInputShape if out is not a float32 [batch, k, 6] tensor.
func Detections(out *tensor.Dense) ([][]Detection, error) {
	if out == nil || out.Dtype() != tensor.Float32 {
		return nil, errors.Wrap(ErrInputShape, "expected a float32 output tensor")
	}
	shape := out.Shape()
	if len(shape) != 3 || shape[2] != RowSize {
		return nil, errors.Wrapf(ErrInputShape, "got %v, expected [batch, top_k, %d]", shape, RowSize)
	}
	if out.IsView() {
		materialized, ok := out.Materialize().(*tensor.Dense)
		if !ok {
			return nil, errors.Wrap(ErrInputShape, "cannot materialize tensor view")
		}
		out = materialized
	}
	data, ok := out.Data().([]float32)
	if !ok {
		return nil, errors.Wrapf(ErrInputShape, "unexpected backing %T", out.Data())
	}

	stride := shape[1] * RowSize
	result := make([][]Detection, shape[0])
	for i := range result {
		result[i] = ParseRows(data[i*stride : (i+1)*stride])
	}
	return result, nil
}
