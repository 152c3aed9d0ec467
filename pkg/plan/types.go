package plan

import "strings"

// Output type vocabulary. Collection types additionally admit element-typed
// variants written as array[string], list[object], etc.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
	TypeList    = "list"
	TypePlan    = "plan"
	TypePlugin  = "plugin"
	TypeAny     = "any"
)

var baseTypes = map[string]bool{
	TypeString: true, TypeNumber: true, TypeBoolean: true,
	TypeObject: true, TypeArray: true, TypeList: true,
	TypePlan: true, TypePlugin: true, TypeAny: true,
}

// IsValidType reports whether t is one of the fixed vocabulary tokens,
// including element-typed collection variants.
func IsValidType(t string) bool {
	if baseTypes[t] {
		return true
	}
	base, elem, ok := splitCollection(t)
	if !ok {
		return false
	}
	return (base == TypeArray || base == TypeList) && baseTypes[elem]
}

// IsCollectionType reports whether t names an array/list shape.
func IsCollectionType(t string) bool {
	if t == TypeArray || t == TypeList {
		return true
	}
	base, _, ok := splitCollection(t)
	return ok && (base == TypeArray || base == TypeList)
}

// ElementType returns the declared element type of a collection, or false
// when the collection is untyped (bare array/list) or t is not a collection.
func ElementType(t string) (string, bool) {
	base, elem, ok := splitCollection(t)
	if !ok || (base != TypeArray && base != TypeList) {
		return "", false
	}
	return elem, true
}

func splitCollection(t string) (base, elem string, ok bool) {
	open := strings.IndexByte(t, '[')
	if open <= 0 || !strings.HasSuffix(t, "]") {
		return "", "", false
	}
	return t[:open], t[open+1 : len(t)-1], true
}

// Control-flow actions own nested sub-plans and are synthesized by the
// engine itself; they never resolve against the external registry.
const (
	ActionForEach  = "FOREACH"
	ActionSequence = "SEQUENCE"
	ActionIfThen   = "IF_THEN"
	ActionWhile    = "WHILE"
	ActionRepeat   = "REPEAT"
	ActionRegroup  = "REGROUP"
	ActionThink    = "THINK"
	ActionChat     = "CHAT"
)

var controlFlowActions = map[string]bool{
	ActionForEach: true, ActionSequence: true, ActionIfThen: true,
	ActionWhile: true, ActionRepeat: true, ActionRegroup: true,
}

// internalActions have no external manifest and are resolved without a
// registry round trip.
var internalActions = map[string]bool{
	ActionForEach: true, ActionSequence: true, ActionIfThen: true,
	ActionWhile: true, ActionRepeat: true, ActionRegroup: true,
	ActionThink: true, ActionChat: true,
}

// IsControlFlowAction reports whether the action is one of the fixed
// iteration/sequencing/branching/looping/repetition/collection constructs.
func IsControlFlowAction(action string) bool {
	return controlFlowActions[strings.ToUpper(action)]
}

// IsInternalAction reports whether the action is engine-internal and has
// no externally registered manifest.
func IsInternalAction(action string) bool {
	return internalActions[strings.ToUpper(action)]
}

// Implicit outputs exposed by an enclosing FOREACH to the steps of its body.
const (
	ImplicitItem  = "item"
	ImplicitIndex = "index"
)
