package inference

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ssd/postprocess"
)

// Runner produces raw SSD predictions for an image.
type Runner interface {
	Run(img image.Image) (*tensor.Dense, error)
}

// Detector chains a Runner with a postprocess.Decoder.
type Detector struct {
	runner  Runner
	decoder *postprocess.Decoder
	labels  []string
	log     *zap.Logger
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithLogger sets the logger used for debug output.
func WithLogger(l *zap.Logger) DetectorOption {
	return func(d *Detector) {
		if l != nil {
			d.log = l
		}
	}
}

// WithLabels sets the class names used in log output.
func WithLabels(labels []string) DetectorOption {
	return func(d *Detector) {
		d.labels = labels
	}
}

// NewDetector creates a Detector.
//
// Arguments:
//   - runner: The model runner, usually a *Session.
//   - decoder: The decoder applied to the runner output.
//   - opts: Optional logger and labels.
//
// Returns:
//   - *Detector: The detector.
func NewDetector(runner Runner, decoder *postprocess.Decoder, opts ...DetectorOption) *Detector {
	d := &Detector{
		runner:  runner,
		decoder: decoder,
		labels:  VOCClasses,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decoder returns the decoder used by the detector.
func (d *Detector) Decoder() *postprocess.Decoder {
	return d.decoder
}

// Labels returns the class names of the detector.
func (d *Detector) Labels() []string {
	return d.labels
}

// Detect runs the model over img and returns its detections, padding removed.
//
// Arguments:
//   - ctx: The context for the detection.
//   - img: The image to detect objects in.
//
// Returns:
//   - []postprocess.Detection: Detections, highest score first. Boxes are in
//     model input coordinates unless normalize_coords is configured.
//   - error: The error if any.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]postprocess.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	predictions, err := d.runner.Run(img)
	if err != nil {
		return nil, errors.Wrap(err, "run model")
	}
	inferred := time.Since(start)

	out, err := d.decoder.Decode(ctx, predictions)
	if err != nil {
		return nil, errors.Wrap(err, "decode predictions")
	}
	dets, err := postprocess.Detections(out)
	if err != nil {
		return nil, err
	}

	d.log.Debug("detected",
		zap.Int("detections", len(dets[0])),
		zap.Duration("inference", inferred),
		zap.Duration("total", time.Since(start)),
	)
	for _, det := range dets[0] {
		d.log.Debug("detection",
			zap.String("label", Label(d.labels, det.Class)),
			zap.Float32("confidence", det.Score),
			zap.Stringer("box", det.Box),
		)
	}
	return dets[0], nil
}
