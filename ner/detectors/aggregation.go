package detectors

import "strings"

// splitTag separates a BIO tag into its prefix and entity group. Tags without
// a B-/I- prefix are treated as inside tags.
func splitTag(label string) (bi, group string) {
	switch {
	case strings.HasPrefix(label, "B-"):
		return "B", label[2:]
	case strings.HasPrefix(label, "I-"):
		return "I", label[2:]
	default:
		return "I", label
	}
}

// AggregateSimple merges per-token predictions into entity spans using the
// "simple" strategy: consecutive tokens of the same entity group join the
// current span unless the token is tagged B-. O tokens and special tokens
// close the current span. Span text is sliced from text between the first
// token's start and the last token's end; confidence is the mean token score.
func AggregateSimple(text string, tokens []TokenPrediction) []Entity {
	entities := []Entity{}

	var (
		current *Entity
		sum     float64
		count   int
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Confidence = sum / float64(count)
		current.Text = sliceText(text, current.StartPos, current.EndPos)
		entities = append(entities, *current)
		current = nil
		sum, count = 0, 0
	}

	for _, tok := range tokens {
		if tok.Start == tok.End || tok.Label == "" || tok.Label == "O" {
			flush()
			continue
		}

		bi, group := splitTag(tok.Label)
		if current != nil && bi != "B" && current.Label == group {
			current.EndPos = tok.End
			sum += tok.Score
			count++
			continue
		}

		flush()
		current = &Entity{Label: group, StartPos: tok.Start, EndPos: tok.End}
		sum, count = tok.Score, 1
	}
	flush()

	return entities
}

func sliceText(text string, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(text) {
		end = len(text)
	}
	if start >= end {
		return ""
	}
	return text[start:end]
}
