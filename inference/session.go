package inference

import (
	"fmt"
	"image"
	"os"
	"runtime"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ssd/boxes"
)

var (
	envMu   sync.Mutex
	envPath string
)

// SharedLibPath returns the default onnxruntime shared library for the current platform.
//
// Returns:
//   - string: The path to the shared library.
func SharedLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.1.23.0.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}

// initEnvironment loads the native library. A failed attempt can be retried
// with another path. Once loaded, the library is fixed for the process and a
// different path is an error.
func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		if envPath != "" && envPath != libPath {
			return fmt.Errorf("ONNX Runtime already initialized from %s, cannot load %s", envPath, libPath)
		}
		return nil
	}
	if _, err := os.Stat(libPath); err != nil {
		return fmt.Errorf("ONNX Runtime library not found at %s: %w", libPath, err)
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("error initializing ORT environment: %w", err)
	}
	envPath = libPath
	return nil
}

// SessionArgs represents the arguments for creating a new SSD session.
type SessionArgs struct {
	// The path to the ONNX model file.
	ModelPath string
	// LibraryPath overrides SharedLibPath.
	LibraryPath string
	// Input and output node names.
	InputName, OutputName string
	// Model input size in pixels.
	Width, Height int
	Layout        Layout
	// PixelScale multiplies 8-bit channel values.
	PixelScale float32
	// NumBoxes and NumClasses define the [1, NumBoxes, NumClasses+12] output.
	NumBoxes, NumClasses int
	// Provider and DeviceID select the execution provider, CPU when empty.
	Provider Provider
	DeviceID string
}

// Stats are cumulative timings of a session.
type Stats struct {
	Runs      int64
	TotalTime time.Duration
}

// Session runs an SSD model whose output already carries anchors and
// variances, one image at a time.
type Session struct {
	args    SessionArgs
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]

	mu    sync.Mutex
	stats Stats
}

// NewSession creates a new ONNX Runtime session with preallocated input and
// output tensors.
//
// Order of operations:
//  1. Library path check and environment setup, skipped once loaded.
//  2. Tensor allocation for the fixed-shape input and output.
//  3. Session options and session creation.
//
// Arguments:
//   - args: The arguments for the session.
//
// Returns:
//   - *Session: The session. Callers must Close it.
//   - error: An error if the session creation fails.
func NewSession(args SessionArgs) (*Session, error) {
	if args.Width <= 0 || args.Height <= 0 {
		return nil, fmt.Errorf("invalid model input size %dx%d", args.Width, args.Height)
	}
	if args.NumBoxes <= 0 || args.NumClasses <= 0 {
		return nil, fmt.Errorf("n_boxes and n_classes are required, got %d and %d", args.NumBoxes, args.NumClasses)
	}
	if args.PixelScale == 0 {
		args.PixelScale = 1
	}
	if args.Layout == "" {
		args.Layout = LayoutNHWC
	}
	libPath := args.LibraryPath
	if libPath == "" {
		libPath = SharedLibPath()
	}
	if err := initEnvironment(libPath); err != nil {
		return nil, err
	}

	inputShape := ort.NewShape(1, 3, int64(args.Height), int64(args.Width))
	if args.Layout == LayoutNHWC {
		inputShape = ort.NewShape(1, int64(args.Height), int64(args.Width), 3)
	}
	input, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	output, err := ort.NewEmptyTensor[float32](
		ort.NewShape(1, int64(args.NumBoxes), int64(args.NumClasses+boxes.DecodeFields)),
	)
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("error creating ORT session options: %w", err)
	}
	defer options.Destroy()

	// Let onnxruntime pick thread counts; decoding does its own fan-out.
	_ = options.SetIntraOpNumThreads(0)
	_ = options.SetInterOpNumThreads(0)
	_ = options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended)

	if err := applyProvider(options, args.Provider, args.DeviceID); err != nil {
		input.Destroy()
		output.Destroy()
		return nil, err
	}

	session, err := ort.NewAdvancedSession(
		args.ModelPath,
		[]string{args.InputName},
		[]string{args.OutputName},
		[]ort.Value{input},
		[]ort.Value{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("error creating ORT session: %w", err)
	}

	return &Session{
		args:    args,
		session: session,
		input:   input,
		output:  output,
	}, nil
}

// Run preprocesses img, runs the model, and returns a copy of the raw
// predictions as a [1, n_boxes, n_classes+12] tensor.
func (s *Session) Run(img image.Image) (*tensor.Dense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, fmt.Errorf("session is closed")
	}

	start := time.Now()
	err := Preprocess(img, s.input.GetData(), s.args.Width, s.args.Height, s.args.Layout, s.args.PixelScale)
	if err != nil {
		return nil, err
	}
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("error running ORT session: %w", err)
	}

	raw := s.output.GetData()
	data := make([]float32, len(raw))
	copy(data, raw)

	s.stats.Runs++
	s.stats.TotalTime += time.Since(start)

	return tensor.New(
		tensor.WithShape(1, s.args.NumBoxes, s.args.NumClasses+boxes.DecodeFields),
		tensor.WithBacking(data),
	), nil
}

// Stats returns the cumulative run statistics.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close releases the resources associated with the Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.input != nil {
		s.input.Destroy()
		s.input = nil
	}
	if s.output != nil {
		s.output.Destroy()
		s.output = nil
	}
	if s.session != nil {
		err := s.session.Destroy()
		s.session = nil
		if err != nil {
			return fmt.Errorf("error destroying ORT session: %w", err)
		}
	}
	return nil
}
