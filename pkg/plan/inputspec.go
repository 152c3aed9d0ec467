package plan

import (
	"encoding/json"
	"fmt"
)

// InputKind classifies an input spec as one of the two union variants,
// or as neither.
type InputKind int

const (
	InputInvalid InputKind = iota
	InputLiteral
	InputReference
)

// InputSpec binds a step input to either a literal value (Value + ValueType)
// or another step's output (SourceStep + OutputName). It is a two-variant
// tagged union: never both, never neither.
type InputSpec struct {
	Value      any    `json:"value,omitempty"      yaml:"value,omitempty"`
	ValueType  string `json:"valueType,omitempty"  yaml:"valueType,omitempty"`
	SourceStep string `json:"sourceStep,omitempty" yaml:"sourceStep,omitempty"`
	OutputName string `json:"outputName,omitempty" yaml:"outputName,omitempty"`

	// hasValue distinguishes an explicit literal null from an absent value.
	hasValue bool
	// malformed marks an entry that was not an object at all (e.g. a bare
	// scalar shorthand). The validator reports these as MissingField.
	malformed bool
}

// Literal constructs a literal-variant input spec.
func Literal(value any, valueType string) *InputSpec {
	return &InputSpec{Value: value, ValueType: valueType, hasValue: value != nil}
}

// Reference constructs a reference-variant input spec.
func Reference(sourceStep, outputName string) *InputSpec {
	return &InputSpec{SourceStep: sourceStep, OutputName: outputName}
}

// Kind reports which union variant the spec is, or InputInvalid when the
// entry satisfies neither contract (both variants set, neither set, or a
// malformed non-object entry).
func (in *InputSpec) Kind() InputKind {
	if in == nil || in.malformed {
		return InputInvalid
	}
	refSet := in.SourceStep != "" || in.OutputName != ""
	litSet := in.hasValue || in.Value != nil || in.ValueType != ""
	switch {
	case refSet && litSet:
		return InputInvalid
	case refSet:
		if in.SourceStep == "" || in.OutputName == "" {
			return InputInvalid
		}
		return InputReference
	case litSet:
		return InputLiteral
	default:
		return InputInvalid
	}
}

// IsReference reports whether the spec is a valid reference variant.
func (in *InputSpec) IsReference() bool { return in.Kind() == InputReference }

// IsLiteral reports whether the spec is a valid literal variant.
func (in *InputSpec) IsLiteral() bool { return in.Kind() == InputLiteral }

// Malformed reports whether the entry failed to decode as an object.
func (in *InputSpec) Malformed() bool { return in.malformed }

// UnmarshalJSON decodes an input spec. A bare scalar (shorthand some
// producers emit instead of the canonical object shape) is tolerated but
// marked malformed so validation can flag it rather than aborting the
// whole decode. A sourceStep stored as a composite object instead of a
// plain identifier is flattened to its id-like key.
func (in *InputSpec) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		in.malformed = true
		return nil
	}

	if v, ok := raw["value"]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &in.Value); err != nil {
			return fmt.Errorf("decode input value: %w", err)
		}
		in.hasValue = true
	}
	if v, ok := raw["valueType"]; ok {
		if err := json.Unmarshal(v, &in.ValueType); err != nil {
			return fmt.Errorf("decode input valueType: %w", err)
		}
	}
	if v, ok := raw["outputName"]; ok {
		if err := json.Unmarshal(v, &in.OutputName); err != nil {
			return fmt.Errorf("decode input outputName: %w", err)
		}
	}
	if v, ok := raw["sourceStep"]; ok && string(v) != "null" {
		src, err := decodeSourceStep(v)
		if err != nil {
			return err
		}
		in.SourceStep = src
	}
	return nil
}

// decodeSourceStep accepts a plain identifier string or a composite object
// carrying the identifier under an id-like key.
func decodeSourceStep(data json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", fmt.Errorf("sourceStep must be a step identifier")
	}
	for _, key := range []string{"id", "stepId", "sourceStep", "step"} {
		if v, ok := obj[key]; ok {
			if err := json.Unmarshal(v, &s); err == nil && s != "" {
				return s, nil
			}
		}
	}
	return "", fmt.Errorf("sourceStep object carries no step identifier")
}

// MarshalJSON emits only the fields of the active variant.
func (in *InputSpec) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 2)
	if in.SourceStep != "" || in.OutputName != "" {
		if in.SourceStep != "" {
			out["sourceStep"] = in.SourceStep
		}
		if in.OutputName != "" {
			out["outputName"] = in.OutputName
		}
		return json.Marshal(out)
	}
	if in.hasValue || in.Value != nil {
		out["value"] = in.Value
	}
	if in.ValueType != "" {
		out["valueType"] = in.ValueType
	}
	return json.Marshal(out)
}
