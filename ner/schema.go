package ner

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// entityListSchema is the contract a generative payload must satisfy before
// any element is trusted. Extra keys on an element (e.g. "confidence") are allowed.
const entityListSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["entity", "type"],
		"properties": {
			"entity": {"type": "string", "minLength": 1, "pattern": "\\S"},
			"type":   {"type": "string", "minLength": 1, "pattern": "\\S"}
		}
	}
}`

var compiledEntityListSchema = jsonschema.MustCompileString("entity_list.json", entityListSchema)

// validateEntityList checks the whole payload against entityListSchema.
func validateEntityList(payload []byte) error {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := compiledEntityListSchema.Validate(v); err != nil {
		return fmt.Errorf("payload does not match entity schema: %w", err)
	}
	return nil
}
