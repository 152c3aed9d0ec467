package engine

import (
	"github.com/cpravetz/stage7-sub000/pkg/plan"
)

// RootScope identifies the top-level plan scope.
const RootScope = ""

// Index is the derived, rebuildable view of a plan: steps by id, owning
// scope by id, declared output types by id, and a memoized per-scope
// execution order. A scope is identified by the id of its owning
// control-flow step ("" for the root plan).
type Index struct {
	steps   map[string]*plan.Step
	parent  map[string]string
	outputs map[string]map[string]string
	scopes  map[string][]*plan.Step // direct members, declaration order
	order   map[string][]string     // memoized execution order
	cyclic  map[string]bool         // members of an unresolved dependency cycle
}

// BuildIndex walks the plan tree and records every step.
func BuildIndex(steps []*plan.Step) *Index {
	ix := &Index{
		steps:   make(map[string]*plan.Step),
		parent:  make(map[string]string),
		outputs: make(map[string]map[string]string),
		scopes:  make(map[string][]*plan.Step),
		order:   make(map[string][]string),
		cyclic:  make(map[string]bool),
	}
	ix.indexScope(RootScope, steps)
	return ix
}

func (ix *Index) indexScope(scope string, steps []*plan.Step) {
	ix.scopes[scope] = steps
	for _, s := range steps {
		ix.steps[s.ID] = s
		ix.parent[s.ID] = scope

		types := make(map[string]string, len(s.Outputs))
		for name, out := range s.Outputs {
			if out != nil {
				types[name] = out.Type
			}
		}
		ix.outputs[s.ID] = types

		if len(s.Steps) > 0 {
			ix.indexScope(s.ID, s.Steps)
		}
	}
}

// Step returns the step with the given id, or nil.
func (ix *Index) Step(id string) *plan.Step { return ix.steps[id] }

// Scope returns the id of the scope owning the step ("" for root), and
// whether the step is indexed at all.
func (ix *Index) Scope(id string) (string, bool) {
	scope, ok := ix.parent[id]
	return scope, ok
}

// ScopeSteps returns the direct members of a scope in declaration order.
func (ix *Index) ScopeSteps(scope string) []*plan.Step { return ix.scopes[scope] }

// OutputType returns the declared type of a step output.
func (ix *Index) OutputType(stepID, output string) (string, bool) {
	t, ok := ix.outputs[stepID][output]
	return t, ok
}

// Cyclic reports whether the step was left unresolved by the topological
// sort of its scope.
func (ix *Index) Cyclic(id string) bool { return ix.cyclic[id] }

// ExecutionOrder returns the ids of a scope's members in dependency order,
// computed with Kahn's algorithm over reference edges and memoized per
// scope. The parent-scope marker is not an edge. When a cycle prevents a
// complete ordering, the unresolved members are appended in declaration
// order, so cycles degrade into ordinary reference errors downstream
// instead of aborting.
func (ix *Index) ExecutionOrder(scope string) []string {
	if order, ok := ix.order[scope]; ok {
		return order
	}

	members := ix.scopes[scope]
	inScope := make(map[string]bool, len(members))
	for _, s := range members {
		inScope[s.ID] = true
	}

	indegree := make(map[string]int, len(members))
	dependents := make(map[string][]string, len(members))
	for _, s := range members {
		for _, in := range s.Inputs {
			if in == nil || !in.IsReference() || in.SourceStep == plan.ParentMarker {
				continue
			}
			if in.SourceStep == s.ID || !inScope[in.SourceStep] {
				continue
			}
			indegree[s.ID]++
			dependents[in.SourceStep] = append(dependents[in.SourceStep], s.ID)
		}
	}

	order := make([]string, 0, len(members))
	placed := make(map[string]bool, len(members))
	for len(order) < len(members) {
		advanced := false
		for _, s := range members {
			if placed[s.ID] || indegree[s.ID] > 0 {
				continue
			}
			placed[s.ID] = true
			order = append(order, s.ID)
			for _, dep := range dependents[s.ID] {
				indegree[dep]--
			}
			advanced = true
		}
		if !advanced {
			break
		}
	}

	// Cycle: append the unresolved members in declaration order.
	for _, s := range members {
		if !placed[s.ID] {
			order = append(order, s.ID)
			ix.cyclic[s.ID] = true
		}
	}

	ix.order[scope] = order
	return order
}

// InvalidateScope drops the memoized order for a scope and re-indexes its
// subtree, picking up steps moved, synthesized, or removed by a rewrite.
func (ix *Index) InvalidateScope(scope string, steps []*plan.Step) {
	delete(ix.order, scope)
	for _, s := range ix.scopes[scope] {
		ix.dropSubtree(s)
	}
	ix.indexScope(scope, steps)
}

func (ix *Index) dropSubtree(s *plan.Step) {
	for _, child := range s.Steps {
		ix.dropSubtree(child)
	}
	delete(ix.order, s.ID)
	delete(ix.steps, s.ID)
	delete(ix.parent, s.ID)
	delete(ix.outputs, s.ID)
	delete(ix.scopes, s.ID)
	delete(ix.cyclic, s.ID)
}

// Preceding returns the ids of same-scope steps that come before the given
// step in execution order.
func (ix *Index) Preceding(id string) []string {
	scope, ok := ix.parent[id]
	if !ok {
		return nil
	}
	order := ix.ExecutionOrder(scope)
	var before []string
	for _, other := range order {
		if other == id {
			break
		}
		before = append(before, other)
	}
	return before
}

// Ancestors returns the chain of enclosing control-flow step ids, nearest
// first. The root scope terminates the chain and is not included.
func (ix *Index) Ancestors(id string) []string {
	var chain []string
	cur := id
	for {
		scope, ok := ix.parent[cur]
		if !ok || scope == RootScope {
			return chain
		}
		chain = append(chain, scope)
		cur = scope
	}
}

// ImplicitOutputType resolves a FOREACH construct's implicit per-iteration
// outputs: item (typed from the array input's element type when derivable)
// and index (numeric). The second return is false when the construct step
// offers no such implicit output.
func (ix *Index) ImplicitOutputType(construct *plan.Step, name string) (string, bool) {
	if construct == nil || construct.Action != plan.ActionForEach {
		return "", false
	}
	switch name {
	case plan.ImplicitIndex:
		return plan.TypeNumber, true
	case plan.ImplicitItem:
		in := construct.Inputs["array"]
		if in == nil {
			return plan.TypeAny, true
		}
		var collType string
		if in.IsReference() {
			collType, _ = ix.OutputType(in.SourceStep, in.OutputName)
		} else if in.IsLiteral() {
			collType = in.ValueType
		}
		if elem, ok := plan.ElementType(collType); ok {
			return elem, true
		}
		return plan.TypeAny, true
	}
	return "", false
}
