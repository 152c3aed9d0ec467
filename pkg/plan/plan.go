// Package plan defines the Go struct types for the agent plan document,
// a directed graph of typed steps, and provides strict parsing from JSON
// and YAML.
package plan

import (
	"encoding/json"
	"fmt"
)

// ParentMarker is the literal sourceStep value that binds an input to the
// enclosing scope instead of a sibling step. Inside a FOREACH body it is how
// a step reads the implicit per-iteration outputs (item, index).
const ParentMarker = "__parent__"

// Step is a single unit of work in a plan. Control-flow steps (FOREACH,
// SEQUENCE, IF_THEN, ...) own a nested sub-plan in Steps; all other steps
// leave it empty.
type Step struct {
	ID          string                 `json:"id,omitempty"          yaml:"id,omitempty"`
	Action      string                 `json:"action"                yaml:"action"                jsonschema:"required"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Inputs      map[string]*InputSpec  `json:"inputs,omitempty"      yaml:"inputs,omitempty"`
	Outputs     map[string]*OutputSpec `json:"outputs,omitempty"     yaml:"outputs,omitempty"`
	Role        string                 `json:"recommendedRole,omitempty" yaml:"recommendedRole,omitempty"`
	Steps       []*Step                `json:"steps,omitempty"       yaml:"steps,omitempty"`

	// extra holds non-contractual keys encountered while decoding. The
	// sanitizer drops them; nothing else reads them.
	extra map[string]json.RawMessage
}

// Extra returns the non-contractual keys captured at decode time.
// Exposed for the sanitizer and for tests; treat as read-only.
func (s *Step) Extra() map[string]json.RawMessage { return s.extra }

// SetExtra attaches a non-contractual key to the step, as a decoder would.
func (s *Step) SetExtra(key string, raw json.RawMessage) {
	if s.extra == nil {
		s.extra = make(map[string]json.RawMessage)
	}
	s.extra[key] = raw
}

// ClearExtra removes all non-contractual keys.
func (s *Step) ClearExtra() { s.extra = nil }

// stepContractKeys are the only keys a serialized step may carry.
var stepContractKeys = map[string]bool{
	"id": true, "action": true, "description": true,
	"inputs": true, "outputs": true, "recommendedRole": true, "steps": true,
}

// legacyOutput is the list-shaped output declaration some producers still
// emit ([{name, type, description}] instead of a name→spec map).
type legacyOutput struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Deliverable bool   `json:"deliverable"`
	Filename    string `json:"filename"`
}

// UnmarshalJSON decodes a step, normalizing legacy list-shaped output
// declarations into the name→spec map and capturing unknown keys so the
// sanitizer can strip them later.
func (s *Step) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode step: %w", err)
	}

	get := func(key string, dst any) error {
		v, ok := raw[key]
		if !ok || string(v) == "null" {
			return nil
		}
		return json.Unmarshal(v, dst)
	}

	if err := get("id", &s.ID); err != nil {
		return fmt.Errorf("decode step id: %w", err)
	}
	if err := get("action", &s.Action); err != nil {
		return fmt.Errorf("decode step action: %w", err)
	}
	if err := get("description", &s.Description); err != nil {
		return fmt.Errorf("decode step description: %w", err)
	}
	if err := get("recommendedRole", &s.Role); err != nil {
		return fmt.Errorf("decode step recommendedRole: %w", err)
	}
	if err := get("inputs", &s.Inputs); err != nil {
		return fmt.Errorf("decode step inputs: %w", err)
	}
	if err := get("steps", &s.Steps); err != nil {
		return fmt.Errorf("decode step sub-plan: %w", err)
	}

	if v, ok := raw["outputs"]; ok && string(v) != "null" {
		outs, err := decodeOutputs(v)
		if err != nil {
			return fmt.Errorf("decode step outputs: %w", err)
		}
		s.Outputs = outs
	}

	for k, v := range raw {
		if !stepContractKeys[k] {
			s.SetExtra(k, v)
		}
	}
	return nil
}

// decodeOutputs accepts both the canonical name→spec map and the legacy
// []{name, type, description} list form.
func decodeOutputs(data json.RawMessage) (map[string]*OutputSpec, error) {
	var m map[string]*OutputSpec
	if err := json.Unmarshal(data, &m); err == nil {
		return m, nil
	}

	var list []legacyOutput
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("outputs must be a name→spec map or a declaration list")
	}
	m = make(map[string]*OutputSpec, len(list))
	for i, o := range list {
		name := o.Name
		if name == "" {
			name = fmt.Sprintf("output_%d", i)
		}
		m[name] = &OutputSpec{
			Description: o.Description,
			Type:        o.Type,
			Deliverable: o.Deliverable,
			Filename:    o.Filename,
		}
	}
	return m, nil
}

// OutputSpec declares one named output of a step.
type OutputSpec struct {
	Description string `json:"description"           yaml:"description"           jsonschema:"required"`
	Type        string `json:"type,omitempty"        yaml:"type,omitempty"`
	Deliverable bool   `json:"deliverable,omitempty" yaml:"deliverable,omitempty"`
	Filename    string `json:"filename,omitempty"    yaml:"filename,omitempty"`
}

// Clone returns a deep copy of the step, including its nested sub-plan.
func (s *Step) Clone() *Step {
	if s == nil {
		return nil
	}
	out := &Step{
		ID:          s.ID,
		Action:      s.Action,
		Description: s.Description,
		Role:        s.Role,
	}
	if s.Inputs != nil {
		out.Inputs = make(map[string]*InputSpec, len(s.Inputs))
		for k, v := range s.Inputs {
			cp := *v
			out.Inputs[k] = &cp
		}
	}
	if s.Outputs != nil {
		out.Outputs = make(map[string]*OutputSpec, len(s.Outputs))
		for k, v := range s.Outputs {
			cp := *v
			out.Outputs[k] = &cp
		}
	}
	for _, child := range s.Steps {
		out.Steps = append(out.Steps, child.Clone())
	}
	for k, v := range s.extra {
		out.SetExtra(k, v)
	}
	return out
}

// Walk visits the step and every step of its nested sub-plans, depth-first.
func (s *Step) Walk(fn func(*Step)) {
	fn(s)
	for _, child := range s.Steps {
		child.Walk(fn)
	}
}

// WalkSteps visits every step in a plan, depth-first.
func WalkSteps(steps []*Step, fn func(*Step)) {
	for _, s := range steps {
		s.Walk(fn)
	}
}

// CountSteps returns the total number of steps at any depth.
func CountSteps(steps []*Step) int {
	n := 0
	WalkSteps(steps, func(*Step) { n++ })
	return n
}
