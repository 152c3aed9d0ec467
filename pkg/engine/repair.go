package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cpravetz/stage7-sub000/pkg/oracle"
	"github.com/cpravetz/stage7-sub000/pkg/plan"
)

// repairRule binds one class of error signatures to the correction
// instruction sent to the oracle. The policy slice is an explicit ordered
// priority table: reference problems are repaired before the known
// recurring categories, which precede everything else. New categories are
// added here, not as inline conditionals.
type repairRule struct {
	name        string
	match       func(sig string) bool
	instruction string
}

var repairPolicy = []repairRule{
	{
		name: "references",
		match: func(sig string) bool {
			return strings.HasPrefix(sig, string(KindCircularDependency)) ||
				strings.HasPrefix(sig, string(KindInvalidReference))
		},
		instruction: "Fix broken and circular step references. Every sourceStep must name " +
			"a step defined earlier in the same scope (or the literal parent marker " +
			plan.ParentMarker + "), and the outputName must be an output that step declares. " +
			"Break cycles by reordering steps or replacing a reference with a literal value.",
	},
	{
		name: "think-prompt",
		match: func(sig string) bool {
			return sig == fmt.Sprintf("%s:%s.prompt", KindMissingInput, plan.ActionThink)
		},
		instruction: "Every THINK step must carry a non-empty 'prompt' input as a literal " +
			"string value describing exactly what text to generate.",
	},
	{
		name: "collection-scalar",
		match: func(sig string) bool {
			if !strings.HasPrefix(sig, string(KindTypeMismatch)+":") {
				return false
			}
			pair := strings.TrimPrefix(sig, string(KindTypeMismatch)+":")
			from, to, ok := strings.Cut(pair, "->")
			return ok && plan.IsCollectionType(from) && to == plan.TypeString
		},
		instruction: "A step consumes a single value from an output that is a collection. " +
			"Wrap the consumer in a FOREACH iteration construct over the producer's collection " +
			"output, move the consumer into the construct's nested steps, and rebind its input " +
			"to the construct's per-iteration item.",
	},
	{
		name: "input-rename",
		match: func(sig string) bool {
			return strings.HasPrefix(sig, string(KindInputNameMismatch))
		},
		instruction: "Rename each flagged step's sole declared input to the sole required " +
			"input name from the action's manifest, keeping its value or reference unchanged.",
	},
	{
		name: "input-shape",
		match: func(sig string) bool {
			return strings.HasPrefix(sig, string(KindMissingField))
		},
		instruction: "Convert malformed or shorthand input records into the canonical shape: " +
			"a literal is {\"value\": ..., \"valueType\": ...}; a reference is " +
			"{\"sourceStep\": ..., \"outputName\": ...}. Never both, never neither. " +
			"Supply any other missing required fields (descriptions, deliverable filenames).",
	},
	{
		name:  "general",
		match: func(sig string) bool { return true },
		instruction: "Correct the errors listed below, changing only what the errors require " +
			"and preserving every other step unchanged.",
	},
}

// ruleFor returns the first policy entry matching the signature.
func ruleFor(sig string) repairRule {
	for _, rule := range repairPolicy {
		if rule.match(sig) {
			return rule
		}
	}
	return repairPolicy[len(repairPolicy)-1]
}

// signatureGroup is one batch of structurally identical errors.
type signatureGroup struct {
	sig      string
	priority int
	errs     []*StepError
}

// groupBySignature buckets errors by signature and orders the buckets by
// policy priority, then by first appearance.
func groupBySignature(errs []*StepError) []*signatureGroup {
	byKey := make(map[string]*signatureGroup)
	var groups []*signatureGroup
	for _, err := range errs {
		sig := err.Signature()
		g, ok := byKey[sig]
		if !ok {
			g = &signatureGroup{sig: sig, priority: priorityOf(sig)}
			byKey[sig] = g
			groups = append(groups, g)
		}
		g.errs = append(g.errs, err)
	}
	// Stable insertion sort keeps first-appearance order within a priority.
	for i := 1; i < len(groups); i++ {
		for j := i; j > 0 && groups[j].priority < groups[j-1].priority; j-- {
			groups[j], groups[j-1] = groups[j-1], groups[j]
		}
	}
	return groups
}

func priorityOf(sig string) int {
	for i, rule := range repairPolicy {
		if rule.match(sig) {
			return i
		}
	}
	return len(repairPolicy)
}

// repair sends one correction request per error signature to the oracle. A
// response that fails to parse as a step array leaves the plan unchanged
// for that signature. Returns true if any signature produced an accepted
// correction.
func (e *Engine) repair(ctx context.Context, sess *session, errs []*StepError, goal string, meta map[string]string) bool {
	changed := false
	for _, group := range groupBySignature(errs) {
		rule := ruleFor(group.sig)

		prompt, err := buildRepairPrompt(sess.steps, goal, rule, group)
		if err != nil {
			e.log.Warn("skipping repair group", zap.String("signature", group.sig), zap.Error(err))
			continue
		}

		response, err := e.cfg.Oracle.Correct(ctx, prompt, meta, rule.name)
		if err != nil {
			e.log.Warn("oracle call failed", zap.String("signature", group.sig), zap.Error(err))
			continue
		}

		repaired, err := oracle.ParseSteps(response)
		if err != nil {
			e.log.Warn("oracle response rejected, keeping plan",
				zap.String("signature", group.sig), zap.Error(err))
			continue
		}

		sess.steps = repaired
		Canonicalize(sess.steps)
		sess.index = BuildIndex(sess.steps)
		changed = true
		e.log.Info("applied oracle correction",
			zap.String("signature", group.sig), zap.Int("errors", len(group.errs)))
	}
	return changed
}

// buildRepairPrompt combines the category instruction, the goal, the
// concrete plan, and the literal error messages into one correction request.
func buildRepairPrompt(steps []*plan.Step, goal string, rule repairRule, group *signatureGroup) (string, error) {
	planJSON, err := json.MarshalIndent(steps, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal plan: %w", err)
	}

	var b strings.Builder
	b.WriteString("A structured agent plan failed validation.\n\n")
	if goal != "" {
		fmt.Fprintf(&b, "Goal: %s\n\n", goal)
	}
	fmt.Fprintf(&b, "Instruction: %s\n\n", rule.instruction)
	fmt.Fprintf(&b, "Errors (%s):\n", group.sig)
	for _, err := range group.errs {
		fmt.Fprintf(&b, "  - %s\n", err.Error())
	}
	fmt.Fprintf(&b, "\nPlan:\n%s\n\n", planJSON)
	b.WriteString("Return the full corrected plan as a JSON array of step records.")
	return b.String(), nil
}
