package inference

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// Provider selects the ONNX Runtime execution provider.
type Provider string

const (
	// ProviderCPU is the default provider built into every onnxruntime build.
	ProviderCPU Provider = "cpu"
	// ProviderCUDA uses NVIDIA CUDA.
	ProviderCUDA Provider = "cuda"
	// ProviderCoreML uses Apple CoreML.
	ProviderCoreML Provider = "coreml"
	// ProviderOpenVINO uses Intel OpenVINO.
	ProviderOpenVINO Provider = "openvino"
)

// applyProvider appends the execution provider to options. The CPU provider
// needs no setup.
//
// Arguments:
//   - options: The session options to modify.
//   - provider: The provider to enable.
//   - device: The device id, "" for the provider default.
//
// Returns:
//   - error: An error if the provider is unknown or cannot be enabled.
func applyProvider(options *ort.SessionOptions, provider Provider, device string) error {
	switch provider {
	case "", ProviderCPU:
		return nil
	case ProviderCoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			return fmt.Errorf("error enabling CoreML: %w", err)
		}
	case ProviderOpenVINO:
		// See:
		// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
		config := map[string]string{"device_type": "CPU"}
		if device != "" {
			config["device_id"] = device
		}
		if err := options.AppendExecutionProviderOpenVINO(config); err != nil {
			return fmt.Errorf("error enabling OpenVINO: %w", err)
		}
	case ProviderCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return fmt.Errorf("error creating CUDA options: %w", err)
		}
		defer cuda.Destroy()
		if device == "" {
			device = "0"
		}
		if err := cuda.Update(map[string]string{"device_id": device}); err != nil {
			return fmt.Errorf("error converting CUDA options: %w", err)
		}
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return fmt.Errorf("error enabling CUDA: %w", err)
		}
	default:
		return fmt.Errorf("unknown execution provider %q", provider)
	}
	return nil
}
