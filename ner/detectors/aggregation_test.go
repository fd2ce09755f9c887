package detectors

import (
	"math"
	"testing"
)

func TestAggregateSimple(t *testing.T) {
	text := "Hugging Face Inc. is based in New York City"
	tests := []struct {
		name   string
		tokens []TokenPrediction
		want   []Entity
	}{
		{
			name: "adjacent sub-word tokens of one group merge",
			tokens: []TokenPrediction{
				{Label: "O", Start: 0, End: 0},
				{Label: "B-ORG", Score: 0.9, Start: 0, End: 4},
				{Label: "I-ORG", Score: 0.8, Start: 4, End: 7},
				{Label: "I-ORG", Score: 0.7, Start: 8, End: 12},
				{Label: "I-ORG", Score: 0.6, Start: 13, End: 17},
				{Label: "O", Score: 0.99, Start: 18, End: 20},
				{Label: "O", Score: 0.99, Start: 21, End: 26},
				{Label: "O", Score: 0.99, Start: 27, End: 29},
				{Label: "B-LOC", Score: 0.95, Start: 30, End: 33},
				{Label: "I-LOC", Score: 0.85, Start: 34, End: 38},
				{Label: "I-LOC", Score: 0.75, Start: 39, End: 43},
				{Label: "O", Start: 0, End: 0},
			},
			want: []Entity{
				{Text: "Hugging Face Inc.", Label: "ORG", StartPos: 0, EndPos: 17, Confidence: 0.75},
				{Text: "New York City", Label: "LOC", StartPos: 30, EndPos: 43, Confidence: 0.85},
			},
		},
		{
			name: "B- tag starts a new span of the same group",
			tokens: []TokenPrediction{
				{Label: "B-ORG", Score: 1, Start: 0, End: 12},
				{Label: "B-ORG", Score: 0.5, Start: 13, End: 17},
			},
			want: []Entity{
				{Text: "Hugging Face", Label: "ORG", StartPos: 0, EndPos: 12, Confidence: 1},
				{Text: "Inc.", Label: "ORG", StartPos: 13, EndPos: 17, Confidence: 0.5},
			},
		},
		{
			name: "group change splits",
			tokens: []TokenPrediction{
				{Label: "I-ORG", Score: 0.9, Start: 0, End: 7},
				{Label: "I-MISC", Score: 0.7, Start: 8, End: 12},
			},
			want: []Entity{
				{Text: "Hugging", Label: "ORG", StartPos: 0, EndPos: 7, Confidence: 0.9},
				{Text: "Face", Label: "MISC", StartPos: 8, EndPos: 12, Confidence: 0.7},
			},
		},
		{
			name: "unprefixed labels behave as inside tags",
			tokens: []TokenPrediction{
				{Label: "LOC", Score: 0.6, Start: 30, End: 33},
				{Label: "LOC", Score: 0.8, Start: 34, End: 38},
			},
			want: []Entity{
				{Text: "New York", Label: "LOC", StartPos: 30, EndPos: 38, Confidence: 0.7},
			},
		},
		{
			name:   "only O tokens",
			tokens: []TokenPrediction{{Label: "O", Start: 0, End: 7}},
			want:   []Entity{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AggregateSimple(text, tt.tokens)

			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d entities, got %d: %+v", len(tt.want), len(got), got)
			}
			for i := range got {
				g, w := got[i], tt.want[i]
				if g.Text != w.Text || g.Label != w.Label || g.StartPos != w.StartPos || g.EndPos != w.EndPos {
					t.Errorf("Entity %d: expected %+v, got %+v", i, w, g)
				}
				if math.Abs(g.Confidence-w.Confidence) > 1e-9 {
					t.Errorf("Entity %d: expected confidence %f, got %f", i, w.Confidence, g.Confidence)
				}
			}
		})
	}
}

func TestDetectorOutput_ExtractionResult(t *testing.T) {
	out := DetectorOutput{Entities: []Entity{
		{Text: "Acme Corp", Label: "ORG"},
		{Text: "", Label: "PER"},
		{Text: "Acme Corp", Label: "ORG"},
	}}

	res := out.ExtractionResult()

	if len(res) != 2 {
		t.Fatalf("Expected 2 entities, got %d", len(res))
	}
	if res[0].Entity != "Acme Corp" || res[0].Type != "ORG" {
		t.Errorf("Unexpected first entity: %+v", res[0])
	}
}
