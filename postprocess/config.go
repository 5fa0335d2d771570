// Package postprocess - Turns raw SSD predictions into fixed-size detection lists.
package postprocess

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ssd/boxes"
)

// BackgroundClass is the class index reserved for "no object". It is never
// selected as a detection.
const BackgroundClass = 0

// Coords identifies the box encoding of the network output.
type Coords string

const (
	// CoordsCentroids is (cx, cy, w, h) relative to an anchor box.
	CoordsCentroids Coords = "centroids"
	// CoordsCorners is (xmin, ymin, xmax, ymax). Not supported for decoding.
	CoordsCorners Coords = "corners"
	// CoordsMinMax is (xmin, xmax, ymin, ymax). Not supported for decoding.
	CoordsMinMax Coords = "minmax"
)

var (
	// ErrUnsupportedCoords is returned when a box encoding other than centroids is requested.
	ErrUnsupportedCoords = errors.New("unsupported box coordinate encoding")
	// ErrMissingImageSize is returned when coordinate normalization is
	// requested without both image dimensions.
	ErrMissingImageSize = errors.New("normalize_coords requires image_height and image_width")
	// ErrInvalidConfig is returned for out of range thresholds and sizes.
	ErrInvalidConfig = errors.New("invalid postprocess configuration")
	// ErrInputShape is returned when a prediction tensor does not have the
	// expected [batch, n_boxes, n_classes+12] layout.
	ErrInputShape = errors.New("invalid prediction tensor shape")
)

// Config holds the decoding parameters. It is fixed once a Decoder is built.
type Config struct {
	// ConfidenceThreshold is the minimum class score (exclusive) a box needs
	// to be considered for suppression. Must be greater than zero.
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold"`
	// IoUThreshold is the overlap above which a lower scoring box of the same
	// class is suppressed.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold"`
	// TopK is the number of detections returned per image.
	TopK int `json:"top_k" yaml:"top_k"`
	// MaxNMSOutputSize caps the boxes kept per class.
	MaxNMSOutputSize int `json:"max_nms_output_size" yaml:"max_nms_output_size"`
	// Coords is the box encoding of the input. Only centroids is supported.
	Coords Coords `json:"coords" yaml:"coords"`
	// NormalizeCoords rescales normalized output boxes to absolute pixels.
	NormalizeCoords bool `json:"normalize_coords" yaml:"normalize_coords"`
	ImageHeight     int  `json:"image_height" yaml:"image_height"`
	ImageWidth      int  `json:"image_width" yaml:"image_width"`
	// NumClasses, when set, pins the expected number of class scores per row
	// (background included). Zero infers it from the input width.
	NumClasses int `json:"n_classes" yaml:"n_classes"`
}

// DefaultConfig returns the parameters commonly used with SSD300/SSD512.
//
// Returns:
//   - Config: The default configuration.
//
// @example
// cfg := DefaultConfig()
// cfg.NormalizeCoords = true
// cfg.ImageHeight, cfg.ImageWidth = 300, 300
// decoder, err := New(cfg)
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.01,
		IoUThreshold:        0.45,
		TopK:                200,
		MaxNMSOutputSize:    400,
		Coords:              CoordsCentroids,
	}
}

// Validate checks the configuration for construction-time errors.
//
// Returns:
//   - error: nil, or an error wrapping ErrUnsupportedCoords,
//     ErrMissingImageSize or ErrInvalidConfig.
func (c Config) Validate() error {
	if c.Coords != CoordsCentroids {
		return errors.Wrapf(ErrUnsupportedCoords, "got %q, only %q is supported", c.Coords, CoordsCentroids)
	}
	if c.NormalizeCoords && (c.ImageHeight <= 0 || c.ImageWidth <= 0) {
		return errors.Wrapf(ErrMissingImageSize, "got image_height=%d image_width=%d", c.ImageHeight, c.ImageWidth)
	}
	// A zero threshold would let genuine zero-score boxes through, which are
	// indistinguishable from padding rows.
	if !(c.ConfidenceThreshold > 0) {
		return errors.Wrapf(ErrInvalidConfig, "confidence_threshold must be > 0, got %v", c.ConfidenceThreshold)
	}
	if !(c.IoUThreshold >= 0 && c.IoUThreshold <= 1) {
		return errors.Wrapf(ErrInvalidConfig, "iou_threshold must be in [0, 1], got %v", c.IoUThreshold)
	}
	if c.TopK <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "top_k must be > 0, got %d", c.TopK)
	}
	if c.MaxNMSOutputSize <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "max_nms_output_size must be > 0, got %d", c.MaxNMSOutputSize)
	}
	if c.NumClasses < 0 {
		return errors.Wrapf(ErrInvalidConfig, "n_classes must be >= 0, got %d", c.NumClasses)
	}
	return nil
}

// numClasses validates the last dimension of a prediction tensor and returns
// the number of class scores it carries.
func (c Config) numClasses(width int) (int, error) {
	if width <= boxes.DecodeFields {
		return 0, errors.Wrapf(ErrInputShape, "last dimension %d leaves no class scores (need > %d)", width, boxes.DecodeFields)
	}
	n := width - boxes.DecodeFields
	if c.NumClasses > 0 && n != c.NumClasses {
		return 0, errors.Wrapf(ErrInputShape, "last dimension %d does not match n_classes=%d (expected %d)",
			width, c.NumClasses, c.NumClasses+boxes.DecodeFields)
	}
	return n, nil
}
