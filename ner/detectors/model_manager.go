package detectors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ErrModelUnhealthy is returned by ModelManager.Detect when no validated
// detector is loaded.
var ErrModelUnhealthy = errors.New("model is unhealthy")

// validationText is run through every freshly loaded detector before it is
// put into service.
const validationText = "Test with John Smith in Berlin"

// ModelFiles holds paths to the files of an exported model directory.
type ModelFiles struct {
	ModelPath       string
	TokenizerPath   string
	LabelConfigPath string
}

// LoaderFunc builds a detector from a model directory.
type LoaderFunc func(dir string) (Detector, error)

// ModelManager owns the process-wide labeling detector and supports
// swapping it for one loaded from another directory.
type ModelManager struct {
	mu              sync.RWMutex
	currentDetector Detector
	modelDirectory  string
	isHealthy       bool
	lastError       error
	load            LoaderFunc
	logger          *slog.Logger
	// dirChanged is signalled when a reload switches modelDirectory.
	dirChanged chan struct{}
}

// NewModelManager loads the detector from directory. A failed load does not
// fail construction; the manager starts unhealthy instead.
func NewModelManager(directory string, load LoaderFunc, logger *slog.Logger) *ModelManager {
	if logger == nil {
		logger = slog.Default()
	}
	mm := &ModelManager{
		modelDirectory: directory,
		load:           load,
		logger:         logger,
		dirChanged:     make(chan struct{}, 1),
	}

	if err := mm.ReloadModel(directory); err != nil {
		logger.Warn("[ModelManager] Failed to load initial model, starting unhealthy", "error", err)
	}
	return mm
}

// ONNXLoader returns a LoaderFunc that builds an ONNX detector through the
// registry. options carries the factory keys other than model_dir, which is
// set per load.
func ONNXLoader(options map[string]interface{}) LoaderFunc {
	return func(dir string) (Detector, error) {
		config := make(map[string]interface{}, len(options)+1)
		for k, v := range options {
			config[k] = v
		}
		config["model_dir"] = dir
		return NewDetector(DetectorNameONNXModel, config)
	}
}

// GetName implements Detector.
func (mm *ModelManager) GetName() string {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	if mm.currentDetector == nil {
		return "model_manager"
	}
	return mm.currentDetector.GetName()
}

// Detect runs the current detector. The read lock is held for the whole call
// so a concurrent reload cannot close the detector underneath it.
func (mm *ModelManager) Detect(ctx context.Context, input DetectorInput) (DetectorOutput, error) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	if !mm.isHealthy || mm.currentDetector == nil {
		if mm.lastError != nil {
			return DetectorOutput{}, fmt.Errorf("%w: %v", ErrModelUnhealthy, mm.lastError)
		}
		return DetectorOutput{}, ErrModelUnhealthy
	}
	return mm.currentDetector.Detect(ctx, input)
}

// ReloadModel loads and validates a detector from newDirectory, then swaps
// it in. On failure the manager is marked unhealthy.
func (mm *ModelManager) ReloadModel(newDirectory string) error {
	mm.logger.Info("[ModelManager] Reloading model", "directory", newDirectory)

	fail := func(err error) error {
		mm.mu.Lock()
		mm.isHealthy = false
		mm.lastError = err
		mm.mu.Unlock()
		mm.logger.Error("[ModelManager] Reload failed", "directory", newDirectory, "error", err)
		return err
	}

	newDetector, err := mm.load(newDirectory)
	if err != nil {
		return fail(fmt.Errorf("failed to load model: %w", err))
	}

	if _, err := newDetector.Detect(context.Background(), DetectorInput{Text: validationText}); err != nil {
		if closeErr := newDetector.Close(); closeErr != nil {
			mm.logger.Warn("[ModelManager] failed to close rejected detector", "error", closeErr)
		}
		return fail(fmt.Errorf("model validation failed: %w", err))
	}

	mm.mu.Lock()
	oldDetector := mm.currentDetector
	moved := mm.modelDirectory != newDirectory
	mm.currentDetector = newDetector
	mm.modelDirectory = newDirectory
	mm.isHealthy = true
	mm.lastError = nil
	mm.mu.Unlock()

	if moved {
		select {
		case mm.dirChanged <- struct{}{}:
		default:
		}
	}
	if oldDetector != nil {
		if err := oldDetector.Close(); err != nil {
			mm.logger.Warn("[ModelManager] failed to close old detector", "error", err)
		}
	}

	mm.logger.Info("[ModelManager] Model reload complete", "directory", newDirectory, "detector", newDetector.GetName())
	return nil
}

// IsHealthy returns whether the current model is healthy
func (mm *ModelManager) IsHealthy() bool {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.isHealthy
}

// GetLastError returns the last error encountered (if any)
func (mm *ModelManager) GetLastError() error {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.lastError
}

// GetInfo returns information about the current model state
func (mm *ModelManager) GetInfo() map[string]interface{} {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	info := map[string]interface{}{
		"directory": mm.modelDirectory,
		"healthy":   mm.isHealthy,
		"error":     nil,
	}
	if mm.currentDetector != nil {
		info["detector"] = mm.currentDetector.GetName()
	}
	if mm.lastError != nil {
		info["error"] = mm.lastError.Error()
	}
	return info
}

// ResolveModelFiles checks that dir holds an exported token classifier:
// tokenizer.json, config.json (with id2label) and model.onnx or
// model_quantized.onnx.
func ResolveModelFiles(dir string) (*ModelFiles, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("directory does not exist: %s", dir)
		}
		return nil, fmt.Errorf("failed to access directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dir)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		absDir = dir
	}

	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(absDir, name))
		return err == nil
	}

	var missing []string
	modelFile := ""
	for _, candidate := range []string{"model.onnx", "model_quantized.onnx"} {
		if exists(candidate) {
			modelFile = candidate
			break
		}
	}
	if modelFile == "" {
		missing = append(missing, "model.onnx")
	}
	for _, name := range []string{"tokenizer.json", "config.json"} {
		if !exists(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required files in directory: %v", missing)
	}

	return &ModelFiles{
		ModelPath:       filepath.Join(absDir, modelFile),
		TokenizerPath:   filepath.Join(absDir, "tokenizer.json"),
		LabelConfigPath: filepath.Join(absDir, "config.json"),
	}, nil
}

// Close closes the current detector and cleans up resources
func (mm *ModelManager) Close() error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	mm.isHealthy = false
	if mm.currentDetector != nil {
		mm.logger.Info("[ModelManager] Closing current detector")
		if err := mm.currentDetector.Close(); err != nil {
			return fmt.Errorf("failed to close detector: %w", err)
		}
		mm.currentDetector = nil
	}
	return nil
}
