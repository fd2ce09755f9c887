package detectors

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type stubDetector struct {
	name      string
	detectErr error
	closed    bool
}

func (s *stubDetector) GetName() string { return s.name }

func (s *stubDetector) Detect(_ context.Context, input DetectorInput) (DetectorOutput, error) {
	if s.detectErr != nil {
		return DetectorOutput{}, s.detectErr
	}
	return DetectorOutput{Text: input.Text, Entities: []Entity{{Text: "John Smith", Label: "PER"}}}, nil
}

func (s *stubDetector) Close() error {
	s.closed = true
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestModelManager_LoadAndSwap(t *testing.T) {
	loaded := map[string]*stubDetector{}
	load := func(dir string) (Detector, error) {
		d := &stubDetector{name: dir}
		loaded[dir] = d
		return d, nil
	}

	mm := NewModelManager("first", load, quietLogger())
	if !mm.IsHealthy() {
		t.Fatal("Expected manager to be healthy after initial load")
	}

	out, err := mm.Detect(context.Background(), DetectorInput{Text: "John Smith"})
	if err != nil || len(out.Entities) != 1 {
		t.Fatalf("Detect: %v %+v", err, out)
	}

	if err := mm.ReloadModel("second"); err != nil {
		t.Fatalf("ReloadModel failed: %v", err)
	}
	if !loaded["first"].closed {
		t.Error("Expected previous detector to be closed after swap")
	}
	if mm.GetName() != "second" {
		t.Errorf("Expected current detector 'second', got %s", mm.GetName())
	}
	if info := mm.GetInfo(); info["directory"] != "second" || info["healthy"] != true {
		t.Errorf("Unexpected info: %v", info)
	}

	if err := mm.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !loaded["second"].closed {
		t.Error("Expected current detector to be closed")
	}
}

func TestModelManager_UnhealthyOnLoadFailure(t *testing.T) {
	load := func(dir string) (Detector, error) {
		return nil, errors.New("no such model")
	}

	mm := NewModelManager("missing", load, quietLogger())

	if mm.IsHealthy() {
		t.Error("Expected manager to be unhealthy")
	}
	_, err := mm.Detect(context.Background(), DetectorInput{Text: "x"})
	if !errors.Is(err, ErrModelUnhealthy) {
		t.Errorf("Expected ErrModelUnhealthy, got %v", err)
	}
	if mm.GetLastError() == nil {
		t.Error("Expected last error to be recorded")
	}
}

func TestModelManager_ValidationInferenceFailure(t *testing.T) {
	good := &stubDetector{name: "good"}
	bad := &stubDetector{name: "bad", detectErr: errors.New("inference failed")}
	load := func(dir string) (Detector, error) {
		if dir == "bad" {
			return bad, nil
		}
		return good, nil
	}

	mm := NewModelManager("good", load, quietLogger())
	if err := mm.ReloadModel("bad"); err == nil {
		t.Fatal("Expected reload to fail validation")
	}
	if !bad.closed {
		t.Error("Expected rejected detector to be closed")
	}
	if mm.IsHealthy() {
		t.Error("Expected manager to be unhealthy after failed reload")
	}
}

func TestResolveModelFiles(t *testing.T) {
	dir := t.TempDir()

	if _, err := ResolveModelFiles(filepath.Join(dir, "nope")); err == nil {
		t.Error("Expected error for missing directory")
	}

	_, err := ResolveModelFiles(dir)
	if err == nil || !strings.Contains(err.Error(), "model.onnx") {
		t.Errorf("Expected missing files error, got %v", err)
	}

	for _, name := range []string{"model_quantized.onnx", "tokenizer.json", "config.json"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	files, err := ResolveModelFiles(dir)
	if err != nil {
		t.Fatalf("ResolveModelFiles failed: %v", err)
	}
	if filepath.Base(files.ModelPath) != "model_quantized.onnx" {
		t.Errorf("Expected quantized model fallback, got %s", files.ModelPath)
	}
	if filepath.Base(files.LabelConfigPath) != "config.json" {
		t.Errorf("Expected config.json label map, got %s", files.LabelConfigPath)
	}
}

func TestONNXLoader_UsesRegistry(t *testing.T) {
	dir := t.TempDir()
	options := map[string]interface{}{"output_name": "logits"}

	mm := NewModelManager(dir, ONNXLoader(options), quietLogger())

	if mm.IsHealthy() {
		t.Fatal("Expected manager to be unhealthy for an empty model directory")
	}
	if err := mm.GetLastError(); err == nil || !strings.Contains(err.Error(), "model.onnx") {
		t.Errorf("Expected missing model file error from the registry factory, got %v", err)
	}
	if _, ok := options["model_dir"]; ok {
		t.Error("Expected loader not to modify the shared options")
	}
}
