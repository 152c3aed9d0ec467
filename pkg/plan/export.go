package plan

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document for a
// single step record using invopop/jsonschema. A plan document is an array
// of these.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false
	// Steps may carry non-contractual bookkeeping keys; the sanitizer strips
	// them, the schema must not reject them.
	r.AllowAdditionalProperties = true

	s := r.Reflect(&Step{})
	s.ID = "https://github.com/cpravetz/stage7-sub000/schemas/step-v1.json"
	s.Title = "Plan Step v1"
	s.Description = "Schema for one step record of an agent plan document"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}
