package detectors

import "github.com/hannes/kiji-ner/ner"

// DetectorInput represents the input for entity detection
type DetectorInput struct {
	Text string `json:"text"`
}

// DetectorOutput represents the output of entity detection
type DetectorOutput struct {
	Text     string   `json:"text"`
	Entities []Entity `json:"entities"`
}

// Entity is one aggregated span produced by a token classifier
type Entity struct {
	Text       string  `json:"text"`
	Label      string  `json:"label"`
	StartPos   int     `json:"start_pos"`
	EndPos     int     `json:"end_pos"`
	Confidence float64 `json:"confidence"`
}

// TokenPrediction is the best label for a single token. Start and End are
// offsets into the original text; Start == End marks a special token.
type TokenPrediction struct {
	Label string
	Score float64
	Start int
	End   int
}

// ExtractionResult converts detected spans into the shared entity shape,
// keeping discovery order.
func (o DetectorOutput) ExtractionResult() ner.ExtractionResult {
	out := make(ner.ExtractionResult, 0, len(o.Entities))
	for _, e := range o.Entities {
		if e.Text == "" {
			continue
		}
		out = append(out, ner.Entity{Entity: e.Text, Type: e.Label})
	}
	return out
}
