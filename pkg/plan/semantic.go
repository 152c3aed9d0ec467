package plan

import (
	"encoding/json"
	"fmt"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// DocumentError is one schema-level problem found before the engine sees
// the plan.
type DocumentError struct {
	Path    string `json:"path"` // JSON-path-like location (e.g. "0/outputs")
	Message string `json:"message"`
}

func (e *DocumentError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidateDocument checks a raw plan document against the generated step
// schema. It reports shape problems only; contract and graph checking is
// the engine's job.
func ValidateDocument(data []byte) []*DocumentError {
	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return []*DocumentError{{Message: fmt.Sprintf("generate schema: %v", err)}}
	}

	var stepSchema any
	if err := json.Unmarshal(schemaJSON, &stepSchema); err != nil {
		return []*DocumentError{{Message: fmt.Sprintf("unmarshal schema: %v", err)}}
	}
	// A plan document is an array of step records.
	const stepSchemaID = "https://github.com/cpravetz/stage7-sub000/schemas/step-v1.json"
	planSchema := map[string]any{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "array",
		"items":   map[string]any{"$ref": stepSchemaID},
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource(stepSchemaID, stepSchema); err != nil {
		return []*DocumentError{{Message: fmt.Sprintf("add schema resource: %v", err)}}
	}
	if err := c.AddResource("plan-v1.json", planSchema); err != nil {
		return []*DocumentError{{Message: fmt.Sprintf("add schema resource: %v", err)}}
	}
	sch, err := c.Compile("plan-v1.json")
	if err != nil {
		return []*DocumentError{{Message: fmt.Sprintf("compile schema: %v", err)}}
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return []*DocumentError{{Message: fmt.Sprintf("plan is not valid JSON: %v", err)}}
	}

	if err := sch.Validate(doc); err != nil {
		var errs []*DocumentError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenValidationErrors(ve) {
				errs = append(errs, &DocumentError{
					Path:    strings.Join(cause.InstanceLocation, "/"),
					Message: fmt.Sprintf("%v", cause.ErrorKind),
				})
			}
		} else {
			errs = append(errs, &DocumentError{Message: err.Error()})
		}
		return errs
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}
