// Package oracle defines the correction-oracle boundary: the engine hands a
// broken plan plus targeted instructions to an external text-generation
// service and expects a corrected step array back.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cpravetz/stage7-sub000/pkg/plan"
)

// Oracle is the injected correction callback. meta is the caller's opaque
// context map (credentials, service locations) propagated, not interpreted.
// mode names the correction category so the service can pick a model or
// temperature per category.
type Oracle interface {
	Correct(ctx context.Context, prompt string, meta map[string]string, mode string) (string, error)
}

// Func adapts a plain function to the Oracle interface.
type Func func(ctx context.Context, prompt string, meta map[string]string, mode string) (string, error)

// Correct implements Oracle.
func (f Func) Correct(ctx context.Context, prompt string, meta map[string]string, mode string) (string, error) {
	return f(ctx, prompt, meta, mode)
}

// Conventional keys under which an oracle response may nest the step array.
var stepArrayKeys = []string{"steps", "plan"}

// ParseSteps extracts a step array from an oracle response. Accepted shapes:
// a bare JSON array of step records, or an object exposing one under a
// conventional key ("steps" or "plan"). Code-fence wrappers are stripped
// first. Anything else is an error, which callers treat as "no change".
func ParseSteps(response string) ([]*plan.Step, error) {
	text := stripOuterCodeFence(response)

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("empty oracle response")
	}

	if strings.HasPrefix(trimmed, "[") {
		var steps []*plan.Step
		if err := json.Unmarshal([]byte(trimmed), &steps); err != nil {
			return nil, fmt.Errorf("parse step array: %w", err)
		}
		if len(steps) == 0 {
			return nil, fmt.Errorf("oracle returned an empty step array")
		}
		return steps, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil, fmt.Errorf("oracle response is neither a step array nor an object: %w", err)
	}
	for _, key := range stepArrayKeys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var steps []*plan.Step
		if err := json.Unmarshal(raw, &steps); err != nil {
			return nil, fmt.Errorf("parse %q step array: %w", key, err)
		}
		if len(steps) == 0 {
			return nil, fmt.Errorf("oracle %q array is empty", key)
		}
		return steps, nil
	}
	return nil, fmt.Errorf("oracle object exposes no step array under %v", stepArrayKeys)
}

// stripOuterCodeFence removes a wrapping ```...``` code fence if present.
func stripOuterCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "```") {
		if idx := strings.Index(trimmed, "\n"); idx != -1 {
			trimmed = trimmed[idx+1:]
		}
		if last := strings.LastIndex(trimmed, "```"); last != -1 {
			trimmed = trimmed[:last]
		}
	}
	return trimmed
}
