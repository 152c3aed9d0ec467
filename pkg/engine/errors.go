// Package engine implements the plan validation-and-repair kernel:
// identifier canonicalization, indexing and dependency ordering, step and
// type validation, FOREACH/REGROUP synthesis, and the signature-grouped
// repair loop.
package engine

import (
	"fmt"
	"strings"
)

// ErrorKind tags one class of plan defect. During a pass errors are data,
// never panics.
type ErrorKind string

const (
	KindMissingInput       ErrorKind = "MissingInput"
	KindInputNameMismatch  ErrorKind = "InputNameMismatch"
	KindInvalidReference   ErrorKind = "InvalidReference"
	KindTypeMismatch       ErrorKind = "TypeMismatch"
	KindMissingField       ErrorKind = "MissingField"
	KindCircularDependency ErrorKind = "CircularDependency"
	KindInvalidIdentifier  ErrorKind = "InvalidIdentifier"
	KindGeneric            ErrorKind = "Generic"
)

// StepError is one validation defect, carrying enough identifiers for the
// repair orchestrator to group structurally identical defects together.
type StepError struct {
	Kind    ErrorKind `json:"kind"`
	StepID  string    `json:"stepId"`
	Action  string    `json:"action,omitempty"`
	Input   string    `json:"input,omitempty"`
	Output  string    `json:"output,omitempty"`
	Source  string    `json:"sourceStep,omitempty"`
	Message string    `json:"message"`

	// Producer/consumer types refine the TypeMismatch repair signature.
	ProducerType string `json:"producerType,omitempty"`
	ConsumerType string `json:"consumerType,omitempty"`
}

func (e *StepError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] step %s", e.Kind, e.StepID)
	if e.Input != "" {
		fmt.Fprintf(&b, " input %q", e.Input)
	}
	if e.Output != "" {
		fmt.Fprintf(&b, " output %q", e.Output)
	}
	fmt.Fprintf(&b, ": %s", e.Message)
	return b.String()
}

// Signature derives the repair-grouping key. Type mismatches refine on the
// producer/consumer type pair; missing inputs on ACTION.inputName, so one
// oracle call fixes every step with the same structural defect.
func (e *StepError) Signature() string {
	switch e.Kind {
	case KindTypeMismatch:
		return fmt.Sprintf("%s:%s->%s", e.Kind, e.ProducerType, e.ConsumerType)
	case KindMissingInput:
		return fmt.Sprintf("%s:%s.%s", e.Kind, strings.ToUpper(e.Action), e.Input)
	default:
		return string(e.Kind)
	}
}

func errorf(kind ErrorKind, stepID, msg string, args ...any) *StepError {
	return &StepError{Kind: kind, StepID: stepID, Message: fmt.Sprintf(msg, args...)}
}
