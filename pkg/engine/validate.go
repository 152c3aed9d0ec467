package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/cpravetz/stage7-sub000/pkg/plan"
	"github.com/cpravetz/stage7-sub000/pkg/registry"
)

// wrappable records a detected scalar/collection mismatch that FOREACH
// synthesis can resolve: consumer step C's input N is fed by producer P's
// collection output O.
type wrappable struct {
	Consumer string
	Producer string
	Output   string
	Input    string
}

func (w wrappable) key() string {
	return fmt.Sprintf("%s|%s|%s", w.Consumer, w.Producer, w.Output)
}

// validatePass checks every step in dependency order and returns the
// pass's errors, warnings, and wrappable descriptors. It mutates the plan
// only in the two sanctioned ways: defaulting a literal's value type and
// synthesizing deliverable filenames.
func (e *Engine) validatePass(ctx context.Context, sess *session) ([]*StepError, []string, []wrappable) {
	var (
		errs  []*StepError
		warns []string
		wraps []wrappable
	)
	e.validateScope(ctx, sess, RootScope, &errs, &warns, &wraps)
	return errs, warns, wraps
}

// validateScope validates one scope's members in execution order, recursing
// into nested sub-plans directly after their owning step.
func (e *Engine) validateScope(ctx context.Context, sess *session, scope string, errs *[]*StepError, warns *[]string, wraps *[]wrappable) {
	ix := sess.index

	seen := make(map[string]string) // id → first action
	for _, s := range ix.ScopeSteps(scope) {
		if first, dup := seen[s.ID]; dup {
			*errs = append(*errs, &StepError{
				Kind: KindInvalidIdentifier, StepID: s.ID, Action: s.Action,
				Message: fmt.Sprintf("step id duplicated within scope (first used by action %s)", first),
			})
			continue
		}
		seen[s.ID] = s.Action
	}

	for _, id := range ix.ExecutionOrder(scope) {
		s := ix.Step(id)
		if s == nil {
			continue
		}
		e.validateStep(ctx, sess, s, errs, warns, wraps)

		if len(s.Steps) > 0 {
			e.validateScope(ctx, sess, s.ID, errs, warns, wraps)
		}
	}
}

func (e *Engine) validateStep(ctx context.Context, sess *session, s *plan.Step, errs *[]*StepError, warns *[]string, wraps *[]wrappable) {
	if strings.TrimSpace(s.Action) == "" {
		*errs = append(*errs, errorf(KindMissingField, s.ID, "step has no action"))
		return
	}

	manifest := e.resolveManifest(ctx, s.Action)
	novel := manifest == nil

	if novel {
		// Unknown contract: the only structural requirement is a description.
		if strings.TrimSpace(s.Description) == "" {
			err := errorf(KindMissingField, s.ID, "novel action %s requires a description", s.Action)
			err.Action = s.Action
			*errs = append(*errs, err)
		}
	} else {
		e.checkManifestInputs(s, manifest, errs)
	}

	// Free-text generation always needs a prompt, manifest or not.
	if strings.EqualFold(s.Action, plan.ActionThink) {
		if !hasNonEmptyInput(s, "prompt") {
			*errs = append(*errs, &StepError{
				Kind: KindMissingInput, StepID: s.ID, Action: s.Action, Input: "prompt",
				Message: "THINK requires a non-empty prompt input",
			})
		}
	}

	e.checkInputs(ctx, sess, s, manifest, novel, errs, wraps)
	e.checkOutputs(s, errs, warns)
}

// checkManifestInputs raises MissingInput for every manifest-required input
// the step lacks, except the sole-input rename case, which gets the more
// actionable InputNameMismatch instead of a redundant missing-input error.
func (e *Engine) checkManifestInputs(s *plan.Step, manifest *registry.Manifest, errs *[]*StepError) {
	required := manifest.RequiredInputs()

	if len(s.Inputs) == 1 && len(required) == 1 {
		var declared string
		for name := range s.Inputs {
			declared = name
		}
		if declared != required[0] {
			*errs = append(*errs, &StepError{
				Kind: KindInputNameMismatch, StepID: s.ID, Action: s.Action, Input: declared,
				Message: fmt.Sprintf("input %q should be named %q per the %s manifest", declared, required[0], manifest.Action),
			})
			return
		}
	}

	for _, name := range required {
		if _, ok := s.Inputs[name]; !ok {
			*errs = append(*errs, &StepError{
				Kind: KindMissingInput, StepID: s.ID, Action: s.Action, Input: name,
				Message: fmt.Sprintf("manifest-required input %q is missing", name),
			})
		}
	}
}

func (e *Engine) checkInputs(ctx context.Context, sess *session, s *plan.Step, manifest *registry.Manifest, novel bool, errs *[]*StepError, wraps *[]wrappable) {
	for _, name := range sortedInputNames(s) {
		in := s.Inputs[name]

		switch in.Kind() {
		case plan.InputLiteral:
			if in.ValueType == "" && novel {
				in.ValueType = plan.TypeString
			}
		case plan.InputReference:
			e.checkReference(ctx, sess, s, name, in, manifest, novel, errs, wraps)
		default:
			*errs = append(*errs, &StepError{
				Kind: KindMissingField, StepID: s.ID, Action: s.Action, Input: name,
				Message: fmt.Sprintf("input %q is neither a literal nor a reference", name),
			})
		}
	}
}

// checkReference resolves a reference input's source step and output, then
// runs type compatibility against the consumer's manifest contract.
func (e *Engine) checkReference(ctx context.Context, sess *session, s *plan.Step, name string, in *plan.InputSpec, manifest *registry.Manifest, novel bool, errs *[]*StepError, wraps *[]wrappable) {
	ix := sess.index

	var producerType string
	var producerAction string
	var resolvedType bool

	if in.SourceStep == plan.ParentMarker {
		scope, _ := ix.Scope(s.ID)
		if scope == RootScope {
			*errs = append(*errs, &StepError{
				Kind: KindInvalidReference, StepID: s.ID, Action: s.Action, Input: name, Source: in.SourceStep,
				Message: fmt.Sprintf("input %q references the parent scope but the step is top-level", name),
			})
			return
		}
		parent := ix.Step(scope)
		producerAction = parent.Action
		if t, ok := ix.ImplicitOutputType(parent, in.OutputName); ok {
			producerType, resolvedType = t, true
		} else if t, ok := ix.OutputType(scope, in.OutputName); ok {
			producerType, resolvedType = t, t != ""
		} else {
			*errs = append(*errs, &StepError{
				Kind: KindInvalidReference, StepID: s.ID, Action: s.Action, Input: name,
				Source: in.SourceStep, Output: in.OutputName,
				Message: fmt.Sprintf("enclosing %s exposes no output %q", parent.Action, in.OutputName),
			})
			return
		}
	} else {
		producer := ix.Step(in.SourceStep)
		if producer == nil {
			*errs = append(*errs, &StepError{
				Kind: KindInvalidReference, StepID: s.ID, Action: s.Action, Input: name, Source: in.SourceStep,
				Message: fmt.Sprintf("input %q references unknown step %s", name, in.SourceStep),
			})
			return
		}
		if !e.visibleFrom(ix, s.ID, in.SourceStep) {
			kind := KindInvalidReference
			msg := fmt.Sprintf("input %q references step %s which is not available yet", name, in.SourceStep)
			if ix.Cyclic(s.ID) || ix.Cyclic(in.SourceStep) {
				kind = KindCircularDependency
				msg = fmt.Sprintf("input %q participates in a dependency cycle with step %s", name, in.SourceStep)
			}
			err := &StepError{Kind: kind, StepID: s.ID, Action: s.Action, Input: name, Source: in.SourceStep, Message: msg}
			*errs = append(*errs, err)
			return
		}
		producerAction = producer.Action

		if t, ok := e.producerOutputType(ctx, ix, producer, in.OutputName); ok {
			producerType, resolvedType = t, true
		} else {
			*errs = append(*errs, &StepError{
				Kind: KindInvalidReference, StepID: s.ID, Action: s.Action, Input: name,
				Source: in.SourceStep, Output: in.OutputName,
				Message: fmt.Sprintf("step %s declares no output %q", in.SourceStep, in.OutputName),
			})
			return
		}
	}

	if !resolvedType || producerType == "" {
		return
	}

	// Consumer type comes from the manifest. Unresolvable on a novel action
	// is a true unknown, skip silently. Unresolvable on a known action
	// defaults to string.
	var consumerType string
	if manifest != nil {
		if decl := manifest.Input(name); decl != nil && decl.Type != "" {
			consumerType = decl.Type
		}
	}
	if consumerType == "" {
		if novel {
			return
		}
		consumerType = plan.TypeString
	}

	switch checkCompat(producerType, consumerType, producerAction, s.Action) {
	case verdictWrappable:
		// A parent-scope value has no producer step to wrap an iteration
		// around; report the shape conflict instead.
		if in.SourceStep == plan.ParentMarker {
			*errs = append(*errs, &StepError{
				Kind: KindTypeMismatch, StepID: s.ID, Action: s.Action, Input: name,
				Source: in.SourceStep, Output: in.OutputName,
				ProducerType: producerType, ConsumerType: consumerType,
				Message: fmt.Sprintf("input %q expects %s but the enclosing %s provides %s", name, consumerType, producerAction, producerType),
			})
			return
		}
		*wraps = append(*wraps, wrappable{Consumer: s.ID, Producer: in.SourceStep, Output: in.OutputName, Input: name})
	case verdictMismatch:
		*errs = append(*errs, &StepError{
			Kind: KindTypeMismatch, StepID: s.ID, Action: s.Action, Input: name,
			Source: in.SourceStep, Output: in.OutputName,
			ProducerType: producerType, ConsumerType: consumerType,
			Message: fmt.Sprintf("input %q expects %s but %s.%s produces %s", name, consumerType, in.SourceStep, in.OutputName, producerType),
		})
	}
}

// visibleFrom reports whether producer's outputs are available to consumer:
// a same-scope step preceding it in execution order, or an enclosing
// control-flow step.
func (e *Engine) visibleFrom(ix *Index, consumer, producer string) bool {
	for _, id := range ix.Preceding(consumer) {
		if id == producer {
			return true
		}
	}
	for _, id := range ix.Ancestors(consumer) {
		if id == producer {
			return true
		}
	}
	return false
}

// producerOutputType resolves a producer's output type from its own
// declaration (preferred), its manifest, or, for an enclosing FOREACH,
// the implicit per-iteration outputs.
func (e *Engine) producerOutputType(ctx context.Context, ix *Index, producer *plan.Step, output string) (string, bool) {
	declared, declaredOK := ix.OutputType(producer.ID, output)
	if declaredOK && declared != "" {
		return declared, true
	}
	if t, ok := ix.ImplicitOutputType(producer, output); ok {
		return t, true
	}
	// An untyped declaration defers to the manifest contract.
	if m := e.resolveManifest(ctx, producer.Action); m != nil {
		if decl := m.Output(output); decl != nil {
			return decl.Type, true
		}
	}
	return "", declaredOK
}

func (e *Engine) checkOutputs(s *plan.Step, errs *[]*StepError, warns *[]string) {
	for _, name := range sortedOutputNames(s) {
		out := s.Outputs[name]
		if out == nil {
			continue
		}

		if out.Type != "" && !plan.IsValidType(out.Type) {
			*errs = append(*errs, &StepError{
				Kind: KindTypeMismatch, StepID: s.ID, Action: s.Action, Output: name,
				ProducerType: out.Type,
				Message:      fmt.Sprintf("output %q declares unknown type %q", name, out.Type),
			})
		}

		if !out.Deliverable {
			continue
		}
		if strings.TrimSpace(out.Description) == "" {
			*errs = append(*errs, &StepError{
				Kind: KindMissingField, StepID: s.ID, Action: s.Action, Output: name,
				Message: fmt.Sprintf("deliverable output %q requires a description", name),
			})
		}
		if out.Filename == "" {
			out.Filename = deliverableFilename(s.ID, name, out.Type)
			e.log.Info("synthesized deliverable filename",
				zap.String("step", s.ID), zap.String("output", name), zap.String("filename", out.Filename))
			*warns = append(*warns, fmt.Sprintf("step %s: synthesized filename %q for deliverable output %q", s.ID, out.Filename, name))
		}
	}
}

// deliverableFilename builds {stepId}_{outputName}.{ext}, json for
// structured outputs and plain text otherwise.
func deliverableFilename(stepID, output, outType string) string {
	ext := "txt"
	if outType == plan.TypeObject || plan.IsCollectionType(outType) {
		ext = "json"
	}
	return fmt.Sprintf("%s_%s.%s", stepID, output, ext)
}

func hasNonEmptyInput(s *plan.Step, name string) bool {
	in, ok := s.Inputs[name]
	if !ok || in == nil {
		return false
	}
	switch in.Kind() {
	case plan.InputReference:
		return true
	case plan.InputLiteral:
		if str, ok := in.Value.(string); ok {
			return strings.TrimSpace(str) != ""
		}
		return in.Value != nil
	}
	return false
}

// Map iteration order is random; errors must not be.
func sortedInputNames(s *plan.Step) []string {
	names := make([]string, 0, len(s.Inputs))
	for name := range s.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedOutputNames(s *plan.Step) []string {
	names := make([]string, 0, len(s.Outputs))
	for name := range s.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
