package engine

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/cpravetz/stage7-sub000/pkg/plan"
)

// placeholderID matches the id patterns plan generators emit before real
// identifiers are assigned (step_1, step-2, STEP3, ...).
var placeholderID = regexp.MustCompile(`(?i)^step[_\- ]?\d*$`)

// WellFormedID reports whether id is a canonical step identifier (an
// RFC 4122 UUID string). Placeholder ids never qualify.
func WellFormedID(id string) bool {
	if id == "" || placeholderID.MatchString(id) {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// Canonicalize walks the full step tree once, assigning a fresh identifier
// to every step whose id is absent, a recognizable placeholder, or otherwise
// malformed, then rewrites every reference through the old→new mapping. The
// returned mapping is empty when the plan was already canonical, so a second
// run is a no-op.
func Canonicalize(steps []*plan.Step) map[string]string {
	mapping := make(map[string]string)

	plan.WalkSteps(steps, func(s *plan.Step) {
		old := strings.TrimSpace(s.ID)
		if WellFormedID(old) {
			s.ID = old
			return
		}
		fresh := uuid.NewString()
		if old != "" {
			mapping[old] = fresh
		}
		s.ID = fresh
	})

	if len(mapping) == 0 {
		return mapping
	}

	plan.WalkSteps(steps, func(s *plan.Step) {
		for _, in := range s.Inputs {
			if in == nil || in.SourceStep == "" || in.SourceStep == plan.ParentMarker {
				continue
			}
			if fresh, ok := mapping[in.SourceStep]; ok {
				in.SourceStep = fresh
			}
		}
	})
	return mapping
}
