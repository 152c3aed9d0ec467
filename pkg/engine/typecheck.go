package engine

import (
	"github.com/cpravetz/stage7-sub000/pkg/plan"
)

// verdict is the outcome of one producer→consumer type check.
type verdict int

const (
	verdictOK verdict = iota
	verdictWrappable
	verdictMismatch
)

// checkCompat applies the compatibility rule between a producer's output
// type and a consumer's input type.
//
// A scalar-string consumer fed by a collection producer is not an error
// when neither side is a control-flow construct; it is a wrappable, an
// opportunity for FOREACH synthesis. Otherwise: exact match, the universal
// any on either side, number/boolean/object widened into string, or
// collection on both sides all pass; anything else is a mismatch.
func checkCompat(producerType, consumerType, producerAction, consumerAction string) verdict {
	if consumerType == plan.TypeString && plan.IsCollectionType(producerType) &&
		!plan.IsControlFlowAction(producerAction) && !plan.IsControlFlowAction(consumerAction) {
		return verdictWrappable
	}

	switch {
	case producerType == consumerType:
		return verdictOK
	case producerType == plan.TypeAny || consumerType == plan.TypeAny:
		return verdictOK
	case consumerType == plan.TypeString && widensToString(producerType):
		return verdictOK
	case plan.IsCollectionType(producerType) && plan.IsCollectionType(consumerType):
		return verdictOK
	default:
		return verdictMismatch
	}
}

func widensToString(t string) bool {
	switch t {
	case plan.TypeNumber, plan.TypeBoolean, plan.TypeObject:
		return true
	}
	return false
}
