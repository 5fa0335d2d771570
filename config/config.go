// Package config - Application configuration loaded from YAML and the environment.
package config

import (
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ssd/logger"
	"github.com/nvr-ai/go-ssd/postprocess"
)

// EnvPrefix marks environment variables that override file values.
// SSD_DECODER_TOP_K=100 sets decoder.top_k.
const EnvPrefix = "SSD_"

// DecoderConfig mirrors postprocess.Config with koanf keys.
type DecoderConfig struct {
	ConfidenceThreshold float32 `koanf:"confidence_threshold" yaml:"confidence_threshold"`
	IoUThreshold        float32 `koanf:"iou_threshold" yaml:"iou_threshold"`
	TopK                int     `koanf:"top_k" yaml:"top_k"`
	MaxNMSOutputSize    int     `koanf:"max_nms_output_size" yaml:"max_nms_output_size"`
	Coords              string  `koanf:"coords" yaml:"coords"`
	NormalizeCoords     bool    `koanf:"normalize_coords" yaml:"normalize_coords"`
	ImageHeight         int     `koanf:"image_height" yaml:"image_height"`
	ImageWidth          int     `koanf:"image_width" yaml:"image_width"`
	NumClasses          int     `koanf:"n_classes" yaml:"n_classes"`
	// Workers bounds decode parallelism. Zero uses every CPU.
	Workers int `koanf:"workers" yaml:"workers"`
}

// Postprocess converts the decoder section into a postprocess.Config.
func (c DecoderConfig) Postprocess() postprocess.Config {
	return postprocess.Config{
		ConfidenceThreshold: c.ConfidenceThreshold,
		IoUThreshold:        c.IoUThreshold,
		TopK:                c.TopK,
		MaxNMSOutputSize:    c.MaxNMSOutputSize,
		Coords:              postprocess.Coords(c.Coords),
		NormalizeCoords:     c.NormalizeCoords,
		ImageHeight:         c.ImageHeight,
		ImageWidth:          c.ImageWidth,
		NumClasses:          c.NumClasses,
	}
}

// ModelConfig describes the ONNX model that produces raw predictions.
type ModelConfig struct {
	// Path is the .onnx file. Empty disables inference.
	Path string `koanf:"path" yaml:"path"`
	// LibraryPath overrides the onnxruntime shared library location.
	LibraryPath string `koanf:"library_path" yaml:"library_path"`
	InputName   string `koanf:"input_name" yaml:"input_name"`
	OutputName  string `koanf:"output_name" yaml:"output_name"`
	InputWidth  int    `koanf:"input_width" yaml:"input_width"`
	InputHeight int    `koanf:"input_height" yaml:"input_height"`
	// Layout is "nchw" or "nhwc".
	Layout string `koanf:"layout" yaml:"layout"`
	// PixelScale multiplies 8-bit pixel values, 1 keeps [0,255].
	PixelScale float32 `koanf:"pixel_scale" yaml:"pixel_scale"`
	// NumBoxes is the anchor count of the model output.
	NumBoxes int `koanf:"n_boxes" yaml:"n_boxes"`
	// Labels selects the class names: "voc" or "coco".
	Labels string `koanf:"labels" yaml:"labels"`
	// Provider is the execution provider: cpu, cuda, coreml or openvino.
	Provider string `koanf:"provider" yaml:"provider"`
	DeviceID string `koanf:"device_id" yaml:"device_id"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Address string `koanf:"address" yaml:"address"`
	// MaxBodyBytes limits request bodies.
	MaxBodyBytes int64 `koanf:"max_body_bytes" yaml:"max_body_bytes"`
	// MaxBatch caps the batch dimension accepted by /api/decode. Zero
	// disables the cap.
	MaxBatch int `koanf:"max_batch" yaml:"max_batch"`
}

// AppConfig is the root configuration.
type AppConfig struct {
	Decoder DecoderConfig `koanf:"decoder" yaml:"decoder"`
	Model   ModelConfig   `koanf:"model" yaml:"model"`
	Server  ServerConfig  `koanf:"server" yaml:"server"`
	Log     logger.Config `koanf:"log" yaml:"log"`
}

// defaults are loaded before the file so partial files stay valid.
func defaults() map[string]any {
	d := postprocess.DefaultConfig()
	return map[string]any{
		"decoder.confidence_threshold": d.ConfidenceThreshold,
		"decoder.iou_threshold":        d.IoUThreshold,
		"decoder.top_k":                d.TopK,
		"decoder.max_nms_output_size":  d.MaxNMSOutputSize,
		"decoder.coords":               string(d.Coords),
		"model.input_name":             "input_1",
		"model.output_name":            "decoded_predictions",
		"model.input_width":            300,
		"model.input_height":           300,
		"model.layout":                 "nhwc",
		"model.pixel_scale":            1.0,
		"model.labels":                 "voc",
		"model.provider":               "cpu",
		"server.address":               ":8080",
		"server.max_body_bytes":        32 << 20,
		"server.max_batch":             64,
		"log.level":                    "info",
	}
}

// Load reads defaults, then the YAML file at path (skipped when empty), then
// SSD_ environment overrides.
//
// Arguments:
//   - path: The YAML configuration file, or "" for defaults and environment only.
//
// Returns:
//   - *AppConfig: The merged configuration.
//   - error: An error if any source fails to load or the decoder section is invalid.
func Load(path string) (*AppConfig, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, errors.Wrap(err, "load defaults")
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "load config file %s", path)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.Wrap(err, "load environment")
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	if err := cfg.Decoder.Postprocess().Validate(); err != nil {
		return nil, errors.Wrap(err, "decoder")
	}
	return &cfg, nil
}

// envKey maps SSD_DECODER_TOP_K to decoder.top_k. Only the first underscore
// after the prefix separates the section from the key.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, ok := strings.Cut(key, "_")
	if !ok {
		return key
	}
	return section + "." + rest
}
