package detectors

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/daulet/tokenizers"
)

func makeTokens(n, width int) ([]uint32, []tokenizers.Offset) {
	ids := make([]uint32, n)
	offsets := make([]tokenizers.Offset, n)
	for i := 0; i < n; i++ {
		ids[i] = uint32(i)
		offsets[i] = tokenizers.Offset{uint(i * width), uint(i*width + width - 1)}
	}
	return ids, offsets
}

func TestONNXModelDetector_GetName(t *testing.T) {
	detector := &ONNXModelDetector{}

	if name := detector.GetName(); name != DetectorNameONNXModel {
		t.Errorf("Expected name '%s', got '%s'", DetectorNameONNXModel, name)
	}
}

func TestChunkTokens_SingleWindow(t *testing.T) {
	for _, n := range []int{0, 1, 100, maxSeqLen} {
		ids, offsets := makeTokens(n, 5)

		chunks := chunkTokens(ids, offsets)

		if len(chunks) != 1 {
			t.Fatalf("n=%d: expected 1 chunk, got %d", n, len(chunks))
		}
		if len(chunks[0].tokenIDs) != n {
			t.Errorf("n=%d: expected %d tokens, got %d", n, n, len(chunks[0].tokenIDs))
		}
	}
}

func TestChunkTokens_LongText(t *testing.T) {
	ids, offsets := makeTokens(1000, 5)

	chunks := chunkTokens(ids, offsets)

	// 0-511, 448-959, 896-999
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks for 1000 tokens, got %d", len(chunks))
	}
	wantStarts := []int{0, 448, 896}
	wantLens := []int{512, 512, 104}
	for i, c := range chunks {
		if c.startTokenIndex != wantStarts[i] {
			t.Errorf("chunk %d: expected start %d, got %d", i, wantStarts[i], c.startTokenIndex)
		}
		if len(c.tokenIDs) != wantLens[i] {
			t.Errorf("chunk %d: expected %d tokens, got %d", i, wantLens[i], len(c.tokenIDs))
		}
	}
}

func TestChunkTokens_OverlapAndOffsets(t *testing.T) {
	ids, offsets := makeTokens(600, 10)

	chunks := chunkTokens(ids, offsets)

	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}
	overlap := chunks[0].startTokenIndex + len(chunks[0].tokenIDs) - chunks[1].startTokenIndex
	if overlap != chunkOverlap {
		t.Errorf("Expected overlap of %d, got %d", chunkOverlap, overlap)
	}
	if got := chunks[1].offsets[0][0]; got != uint(448*10) {
		t.Errorf("Expected second chunk to start at offset %d, got %d", 448*10, got)
	}
	if len(chunks[1].offsets) != len(chunks[1].tokenIDs) {
		t.Errorf("Offsets and ids out of step: %d vs %d", len(chunks[1].offsets), len(chunks[1].tokenIDs))
	}
}

func TestMergeChunkEntities(t *testing.T) {
	tests := []struct {
		name      string
		input     [][]Entity
		wantTexts []string
		wantConf  []float64
	}{
		{
			name:      "empty input",
			input:     [][]Entity{},
			wantTexts: []string{},
		},
		{
			name:      "empty chunks",
			input:     [][]Entity{{}, {}, {}},
			wantTexts: []string{},
		},
		{
			name: "duplicate in overlap keeps higher score",
			input: [][]Entity{
				{{Text: "Berlin", Label: "LOC", StartPos: 400, EndPos: 406, Confidence: 0.90}},
				{{Text: "Berlin", Label: "LOC", StartPos: 400, EndPos: 406, Confidence: 0.95}},
			},
			wantTexts: []string{"Berlin"},
			wantConf:  []float64{0.95},
		},
		{
			name: "containing span beats higher scored fragment",
			input: [][]Entity{
				{{Text: "Acme", Label: "ORG", StartPos: 10, EndPos: 14, Confidence: 0.97}},
				{{Text: "Acme Corp", Label: "ORG", StartPos: 10, EndPos: 19, Confidence: 0.60}},
			},
			wantTexts: []string{"Acme Corp"},
			wantConf:  []float64{0.60},
		},
		{
			name: "name cut at window edge loses to complete span",
			input: [][]Entity{
				{{Text: "John Sm", Label: "PER", StartPos: 100, EndPos: 107, Confidence: 0.99}},
				{{Text: "John Smith", Label: "PER", StartPos: 100, EndPos: 110, Confidence: 0.97}},
			},
			wantTexts: []string{"John Smith"},
			wantConf:  []float64{0.97},
		},
		{
			name: "complete span survives a later tail fragment",
			input: [][]Entity{
				{{Text: "John Smith", Label: "PER", StartPos: 100, EndPos: 110, Confidence: 0.80}},
				{{Text: "Smith", Label: "PER", StartPos: 105, EndPos: 110, Confidence: 0.99}},
			},
			wantTexts: []string{"John Smith"},
			wantConf:  []float64{0.80},
		},
		{
			name: "crossing spans keep the longer one",
			input: [][]Entity{
				{{Text: "Bank of", Label: "ORG", StartPos: 0, EndPos: 7, Confidence: 0.99}},
				{{Text: "of America", Label: "ORG", StartPos: 5, EndPos: 15, Confidence: 0.60}},
			},
			wantTexts: []string{"of America"},
			wantConf:  []float64{0.60},
		},
		{
			name: "adjacent spans stay separate",
			input: [][]Entity{
				{{Text: "John", Label: "PER", StartPos: 0, EndPos: 4, Confidence: 0.90}},
				{{Text: "Doe", Label: "PER", StartPos: 4, EndPos: 7, Confidence: 0.85}},
			},
			wantTexts: []string{"John", "Doe"},
			wantConf:  []float64{0.90, 0.85},
		},
		{
			name: "sorted by position across chunks",
			input: [][]Entity{
				{
					{Text: "John", Label: "PER", StartPos: 0, EndPos: 4, Confidence: 0.90},
					{Text: "Smith", Label: "PER", StartPos: 450, EndPos: 455, Confidence: 0.85},
				},
				{
					{Text: "Smith", Label: "PER", StartPos: 450, EndPos: 455, Confidence: 0.88},
					{Text: "Paris", Label: "LOC", StartPos: 900, EndPos: 905, Confidence: 0.92},
				},
				{
					{Text: "Paris", Label: "LOC", StartPos: 900, EndPos: 905, Confidence: 0.91},
					{Text: "UN", Label: "ORG", StartPos: 1400, EndPos: 1402, Confidence: 0.80},
				},
			},
			wantTexts: []string{"John", "Smith", "Paris", "UN"},
			wantConf:  []float64{0.90, 0.88, 0.92, 0.80},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged := mergeChunkEntities(tt.input)

			if len(merged) != len(tt.wantTexts) {
				t.Fatalf("Expected %d entities, got %d: %+v", len(tt.wantTexts), len(merged), merged)
			}
			for i, e := range merged {
				if e.Text != tt.wantTexts[i] {
					t.Errorf("Entity %d: expected text %q, got %q", i, tt.wantTexts[i], e.Text)
				}
				if tt.wantConf != nil && e.Confidence != tt.wantConf[i] {
					t.Errorf("Entity %d: expected confidence %v, got %v", i, tt.wantConf[i], e.Confidence)
				}
			}
		})
	}
}

func TestArgmaxSoftmax(t *testing.T) {
	best, score := argmaxSoftmax([]float32{0.1, 3.0, 0.1})
	if best != 1 {
		t.Errorf("Expected class 1, got %d", best)
	}
	want := math.Exp(3.0) / (math.Exp(0.1)*2 + math.Exp(3.0))
	if math.Abs(score-want) > 1e-6 {
		t.Errorf("Expected score %f, got %f", want, score)
	}

	if best, score := argmaxSoftmax(nil); best != 0 || score != 0 {
		t.Errorf("Expected (0, 0) for empty logits, got (%d, %f)", best, score)
	}
}

func TestLoadLabelMap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	cfg := `{"id2label": {"0": "O", "1": "B-PER", "2": "I-PER", "8": "I-LOC"}, "label2id": {}}`
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}

	id2label, numLabels, err := loadLabelMap(path)
	if err != nil {
		t.Fatalf("loadLabelMap failed: %v", err)
	}
	if numLabels != 9 {
		t.Errorf("Expected 9 labels, got %d", numLabels)
	}
	if id2label[1] != "B-PER" || id2label[8] != "I-LOC" {
		t.Errorf("Unexpected label map: %v", id2label)
	}

	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, []byte(`{"id2label": {}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := loadLabelMap(empty); err == nil {
		t.Error("Expected error for empty id2label")
	}
}
