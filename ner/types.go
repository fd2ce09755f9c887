package ner

// Entity is a text span from the document paired with a category label.
type Entity struct {
	Entity string `json:"entity"`
	Type   string `json:"type"`
}

// ExtractionResult holds entities in the order the source produced them.
// It is never deduplicated or sorted.
type ExtractionResult []Entity

// AnalysisResponse carries the two independent result lists
type AnalysisResponse struct {
	GenerativeResults ExtractionResult `json:"generative_results"`
	LabelingResults   ExtractionResult `json:"labeling_results"`
}

// LegacyAnalysisResponse uses the field names of the first public API
// (openai_results / huggingface_results).
type LegacyAnalysisResponse struct {
	OpenAIResults      ExtractionResult `json:"openai_results"`
	HuggingFaceResults ExtractionResult `json:"huggingface_results"`
}

// Legacy converts the response to the legacy wire shape.
func (r AnalysisResponse) Legacy() LegacyAnalysisResponse {
	return LegacyAnalysisResponse{
		OpenAIResults:      r.GenerativeResults.orEmpty(),
		HuggingFaceResults: r.LabelingResults.orEmpty(),
	}
}

// WithEmptyLists replaces nil lists so they serialize as [] instead of null.
func (r AnalysisResponse) WithEmptyLists() AnalysisResponse {
	return AnalysisResponse{
		GenerativeResults: r.GenerativeResults.orEmpty(),
		LabelingResults:   r.LabelingResults.orEmpty(),
	}
}

func (r ExtractionResult) orEmpty() ExtractionResult {
	if r == nil {
		return ExtractionResult{}
	}
	return r
}
