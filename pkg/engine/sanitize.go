package engine

import (
	"github.com/cpravetz/stage7-sub000/pkg/plan"
)

// Sanitize rebuilds the plan keeping only contractual fields (step
// identity, action, description, role, inputs, outputs, and the nested
// sub-plan) at every depth. It never removes or merges steps; the only
// thing dropped is the non-contractual bookkeeping accumulated while the
// document was decoded and validated.
func Sanitize(steps []*plan.Step) []*plan.Step {
	out := make([]*plan.Step, 0, len(steps))
	for _, s := range steps {
		out = append(out, sanitizeStep(s))
	}
	return out
}

func sanitizeStep(s *plan.Step) *plan.Step {
	clean := &plan.Step{
		ID:          s.ID,
		Action:      s.Action,
		Description: s.Description,
		Role:        s.Role,
	}
	if len(s.Inputs) > 0 {
		clean.Inputs = make(map[string]*plan.InputSpec, len(s.Inputs))
		for name, in := range s.Inputs {
			if in == nil {
				continue
			}
			cp := *in
			clean.Inputs[name] = &cp
		}
	}
	if len(s.Outputs) > 0 {
		clean.Outputs = make(map[string]*plan.OutputSpec, len(s.Outputs))
		for name, out := range s.Outputs {
			if out == nil {
				continue
			}
			cp := *out
			clean.Outputs[name] = &cp
		}
	}
	if len(s.Steps) > 0 {
		clean.Steps = Sanitize(s.Steps)
	}
	return clean
}
