package detectors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/daulet/tokenizers"
	onnxruntime "github.com/yalue/onnxruntime_go"
)

const (
	maxSeqLen    = 512
	chunkOverlap = 64
	chunkStride  = maxSeqLen - chunkOverlap
)

var defaultInputNames = []string{"input_ids", "attention_mask", "token_type_ids"}

// ONNXConfig describes an exported token-classification model.
type ONNXConfig struct {
	ModelPath       string
	TokenizerPath   string
	LabelConfigPath string
	// SharedLibraryPath overrides ONNXRUNTIME_SHARED_LIBRARY_PATH.
	SharedLibraryPath string
	// InputNames defaults to input_ids, attention_mask, token_type_ids.
	// Models exported without token_type_ids take the first two only.
	InputNames []string
	OutputName string
	Logger     *slog.Logger
}

// ONNXModelDetector runs a BERT-style token classifier in process.
type ONNXModelDetector struct {
	// mu guards the session and its scratch tensors, which every Detect reuses.
	mu            sync.Mutex
	tokenizer     *tokenizers.Tokenizer
	session       *onnxruntime.AdvancedSession
	inputTensor   *onnxruntime.Tensor[int64]
	maskTensor    *onnxruntime.Tensor[int64]
	typeIDsTensor *onnxruntime.Tensor[int64]
	outputTensor  *onnxruntime.Tensor[float32]
	id2label      map[int]string
	numLabels     int
	modelPath     string
	inputNames    []string
	outputName    string
	logger        *slog.Logger
}

// tokenChunk is a window of at most maxSeqLen tokens.
type tokenChunk struct {
	tokenIDs        []uint32
	offsets         []tokenizers.Offset
	startTokenIndex int
}

// safeUintToInt converts with bounds checking, saturating at maxInt.
func safeUintToInt(val uint) int {
	const maxInt = int(^uint(0) >> 1)
	if val <= uint(maxInt) {
		// #nosec G115 - Safe conversion with bounds checking
		return int(val)
	}
	return maxInt
}

func resolveSharedLibraryPath(override string) string {
	if override != "" {
		return override
	}
	if p := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); p != "" {
		return p
	}
	candidates := []string{
		"./libonnxruntime.so",
		"./build/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"./libonnxruntime.dylib",
		"./build/libonnxruntime.dylib",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadLabelMap reads id2label from a HuggingFace config.json.
func loadLabelMap(path string) (map[int]string, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read label config: %w", err)
	}

	var cfg struct {
		ID2Label map[string]string `json:"id2label"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, 0, fmt.Errorf("failed to parse label config: %w", err)
	}

	id2label := make(map[int]string, len(cfg.ID2Label))
	numLabels := 0
	for idStr, label := range cfg.ID2Label {
		id, err := strconv.Atoi(idStr)
		if err != nil || id < 0 {
			continue
		}
		id2label[id] = label
		if id >= numLabels {
			numLabels = id + 1
		}
	}
	if numLabels == 0 {
		return nil, 0, fmt.Errorf("label config %s has no id2label entries", path)
	}
	return id2label, numLabels, nil
}

// NewONNXModelDetector loads the tokenizer and label map. The inference
// session is created on first use.
func NewONNXModelDetector(cfg ONNXConfig) (*ONNXModelDetector, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if libPath := resolveSharedLibraryPath(cfg.SharedLibraryPath); libPath != "" {
		onnxruntime.SetSharedLibraryPath(libPath)
	}
	if !onnxruntime.IsInitialized() {
		if err := onnxruntime.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX Runtime environment: %w", err)
		}
	}

	id2label, numLabels, err := loadLabelMap(cfg.LabelConfigPath)
	if err != nil {
		return nil, err
	}

	tk, err := tokenizers.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	inputNames := cfg.InputNames
	if len(inputNames) == 0 {
		inputNames = defaultInputNames
	}
	if len(inputNames) < 2 || len(inputNames) > 3 {
		_ = tk.Close()
		return nil, fmt.Errorf("expected 2 or 3 model input names, got %d", len(inputNames))
	}
	outputName := cfg.OutputName
	if outputName == "" {
		outputName = "logits"
	}

	logger.Info("[ONNXModelDetector] Loaded label map", "labels", numLabels, "model", cfg.ModelPath)

	return &ONNXModelDetector{
		tokenizer:  tk,
		id2label:   id2label,
		numLabels:  numLabels,
		modelPath:  cfg.ModelPath,
		inputNames: inputNames,
		outputName: outputName,
		logger:     logger,
	}, nil
}

// GetName returns the name of this detector
func (d *ONNXModelDetector) GetName() string {
	return DetectorNameONNXModel
}

// Detect tokenizes the text, classifies every token window and aggregates
// the predictions into spans.
func (d *ONNXModelDetector) Detect(ctx context.Context, input DetectorInput) (DetectorOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		if err := d.initializeSession(); err != nil {
			return DetectorOutput{}, fmt.Errorf("failed to initialize session: %w", err)
		}
	}

	encoding := d.tokenizer.EncodeWithOptions(input.Text, true, tokenizers.WithReturnOffsets())
	chunks := chunkTokens(encoding.IDs, encoding.Offsets)

	perChunk := make([][]Entity, 0, len(chunks))
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return DetectorOutput{}, err
		}
		d.updateInputTensors(chunk.tokenIDs)
		if err := d.session.Run(); err != nil {
			return DetectorOutput{}, fmt.Errorf("failed to run inference: %w", err)
		}
		perChunk = append(perChunk, AggregateSimple(input.Text, d.predictTokens(chunk)))
	}

	entities := perChunk[0]
	if len(perChunk) > 1 {
		entities = mergeChunkEntities(perChunk)
	}

	return DetectorOutput{
		Text:     input.Text,
		Entities: entities,
	}, nil
}

// predictTokens turns the output logits of one chunk into per-token labels.
func (d *ONNXModelDetector) predictTokens(chunk tokenChunk) []TokenPrediction {
	outputData := d.outputTensor.GetData()

	numTokens := len(chunk.tokenIDs)
	if len(chunk.offsets) < numTokens {
		numTokens = len(chunk.offsets)
	}

	preds := make([]TokenPrediction, 0, numTokens)
	for i := 0; i < numTokens; i++ {
		startIdx := i * d.numLabels
		endIdx := startIdx + d.numLabels
		if endIdx > len(outputData) {
			break
		}
		bestClass, score := argmaxSoftmax(outputData[startIdx:endIdx])

		label, ok := d.id2label[bestClass]
		if !ok {
			label = "O"
		}
		preds = append(preds, TokenPrediction{
			Label: label,
			Score: score,
			Start: safeUintToInt(chunk.offsets[i][0]),
			End:   safeUintToInt(chunk.offsets[i][1]),
		})
	}
	return preds
}

// argmaxSoftmax returns the best class and its softmax probability.
func argmaxSoftmax(logits []float32) (int, float64) {
	if len(logits) == 0 {
		return 0, 0
	}
	best := 0
	maxLogit := float64(logits[0])
	for j, l := range logits {
		if float64(l) > maxLogit {
			maxLogit = float64(l)
			best = j
		}
	}
	var sum float64
	for _, l := range logits {
		sum += math.Exp(float64(l) - maxLogit)
	}
	return best, 1 / sum
}

// chunkTokens splits a token sequence into windows of maxSeqLen tokens that
// overlap by chunkOverlap tokens. It always returns at least one chunk.
func chunkTokens(tokenIDs []uint32, offsets []tokenizers.Offset) []tokenChunk {
	if len(tokenIDs) <= maxSeqLen {
		return []tokenChunk{{
			tokenIDs:        tokenIDs,
			offsets:         offsets,
			startTokenIndex: 0,
		}}
	}

	var chunks []tokenChunk
	for start := 0; start < len(tokenIDs); start += chunkStride {
		end := start + maxSeqLen
		if end > len(tokenIDs) {
			end = len(tokenIDs)
		}
		offEnd := end
		if offEnd > len(offsets) {
			offEnd = len(offsets)
		}
		chunks = append(chunks, tokenChunk{
			tokenIDs:        tokenIDs[start:end],
			offsets:         offsets[start:offEnd],
			startTokenIndex: start,
		})
		if end == len(tokenIDs) {
			break
		}
	}
	return chunks
}

// mergeChunkEntities flattens per-chunk results in position order. Of two
// overlapping spans the containing or longer one is kept, so a name cut at a
// window edge loses to the complete one from the neighbouring window.
// Confidence only decides between spans of equal length.
func mergeChunkEntities(chunkEntities [][]Entity) []Entity {
	var all []Entity
	for _, entities := range chunkEntities {
		all = append(all, entities...)
	}
	if len(all) == 0 {
		return []Entity{}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].StartPos != all[j].StartPos {
			return all[i].StartPos < all[j].StartPos
		}
		return all[i].EndPos < all[j].EndPos
	})

	merged := []Entity{all[0]}
	for _, e := range all[1:] {
		last := &merged[len(merged)-1]
		if e.StartPos < last.EndPos && last.StartPos < e.EndPos {
			if preferSpan(e, *last) {
				*last = e
			}
			continue
		}
		merged = append(merged, e)
	}
	return merged
}

// preferSpan reports whether a should replace b when the two overlap.
func preferSpan(a, b Entity) bool {
	switch {
	case a.StartPos <= b.StartPos && a.EndPos >= b.EndPos && (a.StartPos != b.StartPos || a.EndPos != b.EndPos):
		return true
	case b.StartPos <= a.StartPos && b.EndPos >= a.EndPos && (a.StartPos != b.StartPos || a.EndPos != b.EndPos):
		return false
	}
	la, lb := a.EndPos-a.StartPos, b.EndPos-b.StartPos
	if la != lb {
		return la > lb
	}
	return a.Confidence > b.Confidence
}

// initializeSession creates the fixed-size tensors and the session bound to them.
func (d *ONNXModelDetector) initializeSession() error {
	batchSize := int64(1)
	inputShape := onnxruntime.NewShape(batchSize, maxSeqLen)

	var created []onnxruntime.Value
	cleanup := func() {
		for _, v := range created {
			if err := v.Destroy(); err != nil {
				d.logger.Warn("[ONNXModelDetector] failed to destroy tensor during cleanup", "error", err)
			}
		}
	}

	inputTensor, err := onnxruntime.NewTensor(inputShape, make([]int64, maxSeqLen))
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}
	created = append(created, inputTensor)

	maskTensor, err := onnxruntime.NewTensor(inputShape, make([]int64, maxSeqLen))
	if err != nil {
		cleanup()
		return fmt.Errorf("failed to create mask tensor: %w", err)
	}
	created = append(created, maskTensor)

	inputs := []onnxruntime.Value{inputTensor, maskTensor}

	var typeIDsTensor *onnxruntime.Tensor[int64]
	if len(d.inputNames) == 3 {
		typeIDsTensor, err = onnxruntime.NewTensor(inputShape, make([]int64, maxSeqLen))
		if err != nil {
			cleanup()
			return fmt.Errorf("failed to create token type tensor: %w", err)
		}
		created = append(created, typeIDsTensor)
		inputs = append(inputs, typeIDsTensor)
	}

	outputShape := onnxruntime.NewShape(batchSize, maxSeqLen, int64(d.numLabels))
	outputTensor, err := onnxruntime.NewEmptyTensor[float32](outputShape)
	if err != nil {
		cleanup()
		return fmt.Errorf("failed to create output tensor: %w", err)
	}
	created = append(created, outputTensor)

	session, err := onnxruntime.NewAdvancedSession(d.modelPath,
		d.inputNames,
		[]string{d.outputName},
		inputs,
		[]onnxruntime.Value{outputTensor},
		nil)
	if err != nil {
		cleanup()
		return fmt.Errorf("failed to create session: %w", err)
	}

	d.session = session
	d.inputTensor = inputTensor
	d.maskTensor = maskTensor
	d.typeIDsTensor = typeIDsTensor
	d.outputTensor = outputTensor
	return nil
}

// updateInputTensors zero-pads the scratch tensors and copies the chunk in.
func (d *ONNXModelDetector) updateInputTensors(tokenIDs []uint32) {
	inputData := d.inputTensor.GetData()
	maskData := d.maskTensor.GetData()

	for i := range inputData {
		inputData[i] = 0
		maskData[i] = 0
	}
	for i, id := range tokenIDs {
		if i >= len(inputData) {
			break
		}
		inputData[i] = int64(id)
		maskData[i] = 1
	}
	if d.typeIDsTensor != nil {
		typeData := d.typeIDsTensor.GetData()
		for i := range typeData {
			typeData[i] = 0
		}
	}
}

// Close implements the Detector interface. The ONNX Runtime environment is
// process wide and is released by DestroyRuntime.
func (d *ONNXModelDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	if d.session != nil {
		if err := d.session.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy session: %w", err))
		}
		d.session = nil
	}
	for _, t := range []*onnxruntime.Tensor[int64]{d.inputTensor, d.maskTensor, d.typeIDsTensor} {
		if t == nil {
			continue
		}
		if err := t.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy input tensor: %w", err))
		}
	}
	if d.outputTensor != nil {
		if err := d.outputTensor.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy output tensor: %w", err))
		}
	}
	d.inputTensor, d.maskTensor, d.typeIDsTensor, d.outputTensor = nil, nil, nil, nil

	if d.tokenizer != nil {
		if err := d.tokenizer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close tokenizer: %w", err))
		}
		d.tokenizer = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}

// DestroyRuntime releases the process-wide ONNX Runtime environment.
func DestroyRuntime() error {
	if !onnxruntime.IsInitialized() {
		return nil
	}
	return onnxruntime.DestroyEnvironment()
}
