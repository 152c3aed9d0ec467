// Package registry provides the capability-registry client and the cached
// manifest resolver. A manifest is an action's declared input/output
// contract; an action with no manifest anywhere is "novel", which is never
// an error by itself.
package registry

// Manifest is an action's capability contract as published by the registry.
type Manifest struct {
	Action      string       `json:"action"`
	Description string       `json:"description,omitempty"`
	Inputs      []InputDecl  `json:"inputs,omitempty"`
	Outputs     []OutputDecl `json:"outputs,omitempty"`
}

// InputDecl declares one input the action accepts.
type InputDecl struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// OutputDecl declares one output the action produces.
type OutputDecl struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Input returns the declaration for the named input, or nil.
func (m *Manifest) Input(name string) *InputDecl {
	for i := range m.Inputs {
		if m.Inputs[i].Name == name {
			return &m.Inputs[i]
		}
	}
	return nil
}

// Output returns the declaration for the named output, or nil.
func (m *Manifest) Output(name string) *OutputDecl {
	for i := range m.Outputs {
		if m.Outputs[i].Name == name {
			return &m.Outputs[i]
		}
	}
	return nil
}

// RequiredInputs returns the names of all required inputs, in declaration
// order.
func (m *Manifest) RequiredInputs() []string {
	var names []string
	for _, in := range m.Inputs {
		if in.Required {
			names = append(names, in.Name)
		}
	}
	return names
}
