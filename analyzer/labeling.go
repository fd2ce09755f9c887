package analyzer

import (
	"context"

	"github.com/hannes/kiji-ner/ner"
	"github.com/hannes/kiji-ner/ner/detectors"
)

// DetectorLabeler adapts a sequence-labeling detector to LabelingBranch.
type DetectorLabeler struct {
	Detector detectors.Detector
}

// Label implements LabelingBranch.
func (l DetectorLabeler) Label(ctx context.Context, text string) (ner.ExtractionResult, error) {
	out, err := l.Detector.Detect(ctx, detectors.DetectorInput{Text: text})
	if err != nil {
		return nil, err
	}
	return out.ExtractionResult(), nil
}
