package detectors

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	DetectorNameModel     = "model_detector"
	DetectorNameONNXModel = "onnx_model_detector"
)

// Detector is a sequence-labeling backend. Implementations must be safe for
// concurrent Detect calls.
type Detector interface {
	GetName() string
	Detect(ctx context.Context, input DetectorInput) (DetectorOutput, error)
	Close() error
}

type NewDetectorFunc func(config map[string]interface{}) (Detector, error)

var detectorFactories = make(map[string]NewDetectorFunc)

func RegisterDetectorFactory(name string, factory NewDetectorFunc) {
	detectorFactories[name] = factory
}

func NewDetector(name string, config map[string]interface{}) (Detector, error) {
	factory, ok := detectorFactories[name]
	if !ok {
		return nil, fmt.Errorf("detector factory not found for name: %s", name)
	}
	return factory(config)
}

func init() {
	RegisterDetectorFactory(DetectorNameModel, func(config map[string]interface{}) (Detector, error) {
		baseURL, ok := config["base_url"].(string)
		if !ok || baseURL == "" {
			return nil, fmt.Errorf("base_url is required for model detector")
		}
		cfg := RemoteConfig{BaseURL: baseURL}
		cfg.APIToken, _ = config["api_token"].(string)
		cfg.Timeout, _ = config["timeout"].(time.Duration)
		cfg.RetryAttempts, _ = config["retry_attempts"].(int)
		return NewModelDetector(cfg), nil
	})

	RegisterDetectorFactory(DetectorNameONNXModel, func(config map[string]interface{}) (Detector, error) {
		modelDir, ok := config["model_dir"].(string)
		if !ok || modelDir == "" {
			return nil, fmt.Errorf("model_dir is required for ONNX model detector")
		}
		files, err := ResolveModelFiles(modelDir)
		if err != nil {
			return nil, err
		}
		cfg := ONNXConfig{
			ModelPath:       files.ModelPath,
			TokenizerPath:   files.TokenizerPath,
			LabelConfigPath: files.LabelConfigPath,
		}
		cfg.SharedLibraryPath, _ = config["shared_library_path"].(string)
		cfg.InputNames, _ = config["input_names"].([]string)
		cfg.OutputName, _ = config["output_name"].(string)
		cfg.Logger, _ = config["logger"].(*slog.Logger)
		d, err := NewONNXModelDetector(cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}
