package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cpravetz/stage7-sub000/pkg/plan"
)

// applyRewrite performs one FOREACH/REGROUP synthesis for the wrappable w:
// the consumer (and its safely-movable same-scope dependents) relocate into
// a new FOREACH body iterating the producer's collection output, and every
// outer reference into the moved set is rewired through a synthesized
// REGROUP collector. Step count is conserved: moved steps relocate, the
// construct and collectors are additive.
func (e *Engine) applyRewrite(ctx context.Context, sess *session, w wrappable) error {
	ix := sess.index

	scope, ok := ix.Scope(w.Consumer)
	if !ok {
		return fmt.Errorf("consumer %s is not indexed", w.Consumer)
	}
	if got, ok := ix.Scope(w.Producer); !ok || got != scope {
		return fmt.Errorf("producer %s and consumer %s are in different scopes", w.Producer, w.Consumer)
	}

	moving := e.movingSet(ctx, ix, scope, w)

	// Moved steps, in execution order.
	var moved []*plan.Step
	for _, id := range ix.ExecutionOrder(scope) {
		if moving[id] {
			moved = append(moved, ix.Step(id))
		}
	}
	if len(moved) == 0 {
		return fmt.Errorf("empty moving set for consumer %s", w.Consumer)
	}

	// Deep-copy into the FOREACH body and rebind the offending input to the
	// implicit per-iteration item.
	body := make([]*plan.Step, 0, len(moved))
	for _, s := range moved {
		body = append(body, s.Clone())
	}
	for _, s := range body {
		if s.ID == w.Consumer {
			s.Inputs[w.Input] = plan.Reference(plan.ParentMarker, plan.ImplicitItem)
		}
	}

	producerStep := ix.Step(w.Producer)
	if producerStep == nil {
		return fmt.Errorf("producer %s is not indexed", w.Producer)
	}
	construct := &plan.Step{
		ID:          uuid.NewString(),
		Action:      plan.ActionForEach,
		Description: fmt.Sprintf("Iterate over %s from %s", w.Output, producerStep.Action),
		Inputs: map[string]*plan.InputSpec{
			"array": plan.Reference(w.Producer, w.Output),
		},
		Outputs: map[string]*plan.OutputSpec{
			"results": {
				Description: "Ordered per-iteration results",
				Type:        plan.TypeArray,
			},
		},
		Steps: body,
	}

	// Detach the moved steps from the outer scope before rewiring, so the
	// rewire pass never sees the discarded originals.
	outer := scopeSlice(sess, scope)
	remaining := make([]*plan.Step, 0, len(outer))
	for _, s := range outer {
		if !moving[s.ID] {
			remaining = append(remaining, s)
		}
	}
	setScopeSlice(sess, scope, remaining)

	// Rewire every surviving reference into the moved set through a
	// collector, one per (moved step, output) pair.
	collectors := make(map[string]*plan.Step)
	collectorFor := func(movedID, output string) *plan.Step {
		key := movedID + "." + output
		if c, ok := collectors[key]; ok {
			return c
		}
		movedStep := ix.Step(movedID)
		c := &plan.Step{
			ID:          uuid.NewString(),
			Action:      plan.ActionRegroup,
			Description: fmt.Sprintf("Collect %s.%s across iterations", movedStep.Action, output),
			Inputs: map[string]*plan.InputSpec{
				"array":      plan.Reference(construct.ID, "results"),
				"stepId":     plan.Literal(movedID, plan.TypeString),
				"outputName": plan.Literal(output, plan.TypeString),
			},
			Outputs: map[string]*plan.OutputSpec{
				"result": {
					Description: fmt.Sprintf("Aggregated %s values, one per iteration", output),
					Type:        aggregateType(ix, movedID, output),
				},
			},
		}
		collectors[key] = c
		return c
	}

	for _, s := range sess.steps {
		rewireRefs(s, moving, collectorFor)
	}

	// Always collect the final moved step's own outputs, even with no
	// current consumers.
	last := moved[len(moved)-1]
	for _, name := range sortedOutputNames(last) {
		collectorFor(last.ID, name)
	}

	// Insert the construct and its collectors immediately after the producer.
	inserted := append([]*plan.Step{construct}, orderedCollectors(collectors, moved)...)
	outerNew := insertAfter(scopeSlice(sess, scope), w.Producer, inserted)
	setScopeSlice(sess, scope, outerNew)

	sess.index.InvalidateScope(scope, outerNew)

	e.log.Info("applied iteration rewrite",
		zap.String("consumer", w.Consumer),
		zap.String("producer", w.Producer),
		zap.String("output", w.Output),
		zap.Int("moved", len(moved)),
		zap.Int("collectors", len(collectors)))
	return nil
}

// movingSet breadth-first expands from the consumer across same-scope
// dependents. A downstream step joins only when every reference input it
// has is already satisfied within the moving set, and the specific edge
// being followed does not itself expect a collection value; a step wanting
// the aggregate stops the expansion there.
func (e *Engine) movingSet(ctx context.Context, ix *Index, scope string, w wrappable) map[string]bool {
	moving := map[string]bool{w.Consumer: true}
	members := ix.ScopeSteps(scope)

	queue := []string{w.Consumer}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, d := range members {
			if moving[d.ID] {
				continue
			}

			follows, wantsAggregate := e.edgesFrom(ctx, d, cur)
			if !follows || wantsAggregate {
				continue
			}
			if !refsSatisfied(d, moving) {
				continue
			}
			moving[d.ID] = true
			queue = append(queue, d.ID)
		}
	}
	return moving
}

// edgesFrom reports whether step d consumes an output of step cur, and
// whether any such edge expects a collection value.
func (e *Engine) edgesFrom(ctx context.Context, d *plan.Step, cur string) (follows, wantsAggregate bool) {
	manifest := e.resolveManifest(ctx, d.Action)
	for name, in := range d.Inputs {
		if in == nil || !in.IsReference() || in.SourceStep != cur {
			continue
		}
		follows = true
		if manifest != nil {
			if decl := manifest.Input(name); decl != nil && plan.IsCollectionType(decl.Type) {
				wantsAggregate = true
			}
		}
	}
	return follows, wantsAggregate
}

// refsSatisfied reports whether every reference input of d points inside
// the moving set.
func refsSatisfied(d *plan.Step, moving map[string]bool) bool {
	for _, in := range d.Inputs {
		if in == nil || !in.IsReference() {
			continue
		}
		if !moving[in.SourceStep] {
			return false
		}
	}
	return true
}

// rewireRefs redirects any of s's references (at any depth) into the moved
// set to the corresponding collector's aggregated result.
func rewireRefs(s *plan.Step, moving map[string]bool, collectorFor func(movedID, output string) *plan.Step) {
	s.Walk(func(step *plan.Step) {
		for _, in := range step.Inputs {
			if in == nil || !in.IsReference() || !moving[in.SourceStep] {
				continue
			}
			c := collectorFor(in.SourceStep, in.OutputName)
			in.SourceStep = c.ID
			in.OutputName = "result"
		}
	})
}

// aggregateType names the collector's result type: an element-typed array
// when the inner output type is a base scalar, a bare array otherwise.
func aggregateType(ix *Index, movedID, output string) string {
	t, _ := ix.OutputType(movedID, output)
	if t != "" && !plan.IsCollectionType(t) && plan.IsValidType(t) {
		return plan.TypeArray + "[" + t + "]"
	}
	return plan.TypeArray
}

// orderedCollectors returns the synthesized collectors in a deterministic
// order: by moved-step execution order, then output name.
func orderedCollectors(collectors map[string]*plan.Step, moved []*plan.Step) []*plan.Step {
	var out []*plan.Step
	seen := make(map[string]bool)
	for _, m := range moved {
		for _, name := range sortedOutputNames(m) {
			key := m.ID + "." + name
			if c, ok := collectors[key]; ok && !seen[key] {
				out = append(out, c)
				seen[key] = true
			}
		}
	}
	// Any collector for an output the moved step never declared.
	var rest []string
	for key := range collectors {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		out = append(out, collectors[key])
	}
	return out
}

// insertAfter places the inserted steps immediately after the step with the
// given id; if the anchor is missing they go to the front, which keeps them
// ahead of the steps that reference them.
func insertAfter(steps []*plan.Step, anchor string, inserted []*plan.Step) []*plan.Step {
	pos := -1
	for i, s := range steps {
		if s.ID == anchor {
			pos = i
			break
		}
	}
	out := make([]*plan.Step, 0, len(steps)+len(inserted))
	if pos == -1 {
		out = append(out, inserted...)
		return append(out, steps...)
	}
	out = append(out, steps[:pos+1]...)
	out = append(out, inserted...)
	return append(out, steps[pos+1:]...)
}

// scopeSlice returns the mutable step slice owning a scope.
func scopeSlice(sess *session, scope string) []*plan.Step {
	if scope == RootScope {
		return sess.steps
	}
	owner := sess.index.Step(scope)
	if owner == nil {
		return nil
	}
	return owner.Steps
}

func setScopeSlice(sess *session, scope string, steps []*plan.Step) {
	if scope == RootScope {
		sess.steps = steps
		return
	}
	if owner := sess.index.Step(scope); owner != nil {
		owner.Steps = steps
	}
}
