package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/cpravetz/stage7-sub000/pkg/plan"
	"github.com/cpravetz/stage7-sub000/pkg/registry"
)

func runPass(t *testing.T, eng *Engine, steps []*plan.Step) ([]*StepError, []string, []wrappable) {
	t.Helper()
	sess := &session{steps: steps, index: BuildIndex(steps), tracker: newTracker()}
	return eng.validatePass(context.Background(), sess)
}

func TestValidateEmptyAction(t *testing.T) {
	eng := newTestEngine(fakeManifests{})
	errs, _, _ := runPass(t, eng, []*plan.Step{{ID: "a", Action: "  "}})
	if len(filterErrors(errs, KindMissingField)) == 0 {
		t.Errorf("expected MissingField for empty action, got %v", errs)
	}
}

func TestValidateNovelActionNeedsDescription(t *testing.T) {
	eng := newTestEngine(fakeManifests{})
	errs, _, _ := runPass(t, eng, []*plan.Step{{ID: "a", Action: "DO_SOMETHING_NEW"}})
	if !containsMessage(errs, "requires a description") {
		t.Errorf("expected description requirement for novel action, got %v", errs)
	}

	errs, _, _ = runPass(t, eng, []*plan.Step{{ID: "a", Action: "DO_SOMETHING_NEW", Description: "does it"}})
	if len(errs) != 0 {
		t.Errorf("described novel action should pass, got %v", errs)
	}
}

func TestValidateManifestRequiredInput(t *testing.T) {
	manifests := fakeManifests{
		"FETCH": {
			Action: "FETCH",
			Inputs: []registry.InputDecl{
				{Name: "url", Type: plan.TypeString, Required: true},
				{Name: "timeout", Type: plan.TypeNumber},
			},
		},
	}
	eng := newTestEngine(manifests)
	errs, _, _ := runPass(t, eng, []*plan.Step{{ID: "a", Action: "FETCH"}})
	missing := filterErrors(errs, KindMissingInput)
	if len(missing) != 1 || missing[0].Input != "url" {
		t.Errorf("expected exactly one MissingInput for url, got %v", errs)
	}
}

// TestValidateSoleInputRename: one declared input against one required input
// with a different name is a rename, not a missing input.
func TestValidateSoleInputRename(t *testing.T) {
	manifests := fakeManifests{
		"FETCH": {
			Action: "FETCH",
			Inputs: []registry.InputDecl{{Name: "url", Type: plan.TypeString, Required: true}},
		},
	}
	eng := newTestEngine(manifests)
	steps := []*plan.Step{{
		ID: "a", Action: "FETCH",
		Inputs: map[string]*plan.InputSpec{"link": plan.Literal("https://example.com", plan.TypeString)},
	}}
	errs, _, _ := runPass(t, eng, steps)

	renames := filterErrors(errs, KindInputNameMismatch)
	if len(renames) != 1 {
		t.Fatalf("expected one InputNameMismatch, got %v", errs)
	}
	if renames[0].Input != "link" || !strings.Contains(renames[0].Message, `"url"`) {
		t.Errorf("rename should point at the manifest name: %v", renames[0])
	}
	if len(filterErrors(errs, KindMissingInput)) != 0 {
		t.Errorf("rename must suppress the redundant MissingInput, got %v", errs)
	}
}

func TestValidateThinkPrompt(t *testing.T) {
	eng := newTestEngine(fakeManifests{})

	cases := []struct {
		name   string
		inputs map[string]*plan.InputSpec
		ok     bool
	}{
		{"absent", nil, false},
		{"blank literal", map[string]*plan.InputSpec{"prompt": plan.Literal("   ", plan.TypeString)}, false},
		{"literal", map[string]*plan.InputSpec{"prompt": plan.Literal("write it", plan.TypeString)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			steps := []*plan.Step{{ID: "a", Action: "THINK", Description: "draft", Inputs: tc.inputs}}
			errs, _, _ := runPass(t, eng, steps)
			got := len(filterErrors(errs, KindMissingInput)) == 0
			if got != tc.ok {
				t.Errorf("ok=%v, want %v (errs %v)", got, tc.ok, errs)
			}
		})
	}
}

func TestValidateUnknownReference(t *testing.T) {
	eng := newTestEngine(fakeManifests{})
	steps := []*plan.Step{{
		ID: "a", Action: "X", Description: "x",
		Inputs: map[string]*plan.InputSpec{"i": plan.Reference("ghost", "o")},
	}}
	errs, _, _ := runPass(t, eng, steps)
	if len(filterErrors(errs, KindInvalidReference)) != 1 {
		t.Errorf("expected InvalidReference for unknown step, got %v", errs)
	}
}

// TestValidateCrossScopeReference: a step nested inside a construct is not
// visible to top-level consumers.
func TestValidateCrossScopeReference(t *testing.T) {
	eng := newTestEngine(fakeManifests{})
	steps := []*plan.Step{
		{ID: "f", Action: plan.ActionForEach, Description: "loop", Steps: []*plan.Step{
			{ID: "inner", Action: "X", Description: "x",
				Outputs: map[string]*plan.OutputSpec{"o": {Type: "string"}}},
		}},
		{ID: "b", Action: "Y", Description: "y",
			Inputs: map[string]*plan.InputSpec{"i": plan.Reference("inner", "o")}},
	}
	errs, _, _ := runPass(t, eng, steps)
	if len(filterErrors(errs, KindInvalidReference)) == 0 {
		t.Errorf("expected InvalidReference for cross-scope reference, got %v", errs)
	}
}

func TestValidateCircularDependency(t *testing.T) {
	eng := newTestEngine(fakeManifests{})
	steps := []*plan.Step{
		{ID: "a", Action: "X", Description: "x",
			Inputs:  map[string]*plan.InputSpec{"i": plan.Reference("b", "o")},
			Outputs: map[string]*plan.OutputSpec{"o": {Type: "string"}}},
		{ID: "b", Action: "Y", Description: "y",
			Inputs:  map[string]*plan.InputSpec{"i": plan.Reference("a", "o")},
			Outputs: map[string]*plan.OutputSpec{"o": {Type: "string"}}},
	}
	errs, _, _ := runPass(t, eng, steps)
	if len(filterErrors(errs, KindCircularDependency)) == 0 {
		t.Errorf("expected CircularDependency, got %v", errs)
	}
}

func TestValidateParentMarkerAtTopLevel(t *testing.T) {
	eng := newTestEngine(fakeManifests{})
	steps := []*plan.Step{{
		ID: "a", Action: "X", Description: "x",
		Inputs: map[string]*plan.InputSpec{"i": plan.Reference(plan.ParentMarker, plan.ImplicitItem)},
	}}
	errs, _, _ := runPass(t, eng, steps)
	if len(filterErrors(errs, KindInvalidReference)) != 1 {
		t.Errorf("expected InvalidReference for top-level parent marker, got %v", errs)
	}
}

func TestValidateDuplicateIDs(t *testing.T) {
	eng := newTestEngine(fakeManifests{})
	steps := []*plan.Step{
		{ID: "a", Action: "X", Description: "x"},
		{ID: "a", Action: "Y", Description: "y"},
	}
	errs, _, _ := runPass(t, eng, steps)
	dups := filterErrors(errs, KindInvalidIdentifier)
	if len(dups) != 1 {
		t.Fatalf("expected one InvalidIdentifier, got %v", errs)
	}
	if !strings.Contains(dups[0].Message, "X") {
		t.Errorf("duplicate error should name the first claimant: %v", dups[0])
	}
}

func TestValidateTypeMismatch(t *testing.T) {
	manifests := fakeManifests{
		"COUNT": {
			Action: "COUNT",
			Inputs: []registry.InputDecl{{Name: "n", Type: plan.TypeNumber, Required: true}},
		},
	}
	eng := newTestEngine(manifests)
	steps := []*plan.Step{
		{ID: "a", Action: "X", Description: "x",
			Outputs: map[string]*plan.OutputSpec{"text": {Type: plan.TypeString}}},
		{ID: "b", Action: "COUNT",
			Inputs: map[string]*plan.InputSpec{"n": plan.Reference("a", "text")}},
	}
	errs, _, _ := runPass(t, eng, steps)
	mismatches := filterErrors(errs, KindTypeMismatch)
	if len(mismatches) != 1 {
		t.Fatalf("expected one TypeMismatch, got %v", errs)
	}
	if mismatches[0].ProducerType != plan.TypeString || mismatches[0].ConsumerType != plan.TypeNumber {
		t.Errorf("mismatch should carry the type pair: %+v", mismatches[0])
	}
}

// TestValidateWrappableDetection: a collection feeding a scalar string
// input is reported as a wrappable, not an error.
func TestValidateWrappableDetection(t *testing.T) {
	eng := newTestEngine(searchScrapeManifests())
	errs, _, wraps := runPass(t, eng, searchScrapePlan())
	if len(errs) != 0 {
		t.Fatalf("expected no hard errors, got %v", errs)
	}
	if len(wraps) != 1 {
		t.Fatalf("expected one wrappable, got %v", wraps)
	}
	w := wraps[0]
	if w.Input != "url" || w.Output != "urls" {
		t.Errorf("unexpected wrappable: %+v", w)
	}
}

// TestValidateParentCollectionMismatch: a nested step consuming a
// collection-typed parent output at a scalar input is a type mismatch, not
// an iteration candidate; there is no producer step to wrap.
func TestValidateParentCollectionMismatch(t *testing.T) {
	eng := newTestEngine(searchScrapeManifests())
	steps := []*plan.Step{{
		ID: "p", Action: "SEARCH", Description: "find pages",
		Inputs:  map[string]*plan.InputSpec{"query": plan.Literal("golang", plan.TypeString)},
		Outputs: map[string]*plan.OutputSpec{"urls": {Description: "matching urls", Type: "array[string]"}},
		Steps: []*plan.Step{{
			ID: "c", Action: "SCRAPE", Description: "fetch one page",
			Inputs: map[string]*plan.InputSpec{"url": plan.Reference(plan.ParentMarker, "urls")},
		}},
	}}
	errs, _, wraps := runPass(t, eng, steps)
	if len(wraps) != 0 {
		t.Fatalf("parent-scope values must not produce wrappables, got %v", wraps)
	}
	mismatches := filterErrors(errs, KindTypeMismatch)
	if len(mismatches) != 1 || mismatches[0].Source != plan.ParentMarker {
		t.Errorf("expected one TypeMismatch against the parent marker, got %v", errs)
	}
}

// TestValidateUntypedDeclarationUsesManifest: an output declared without a
// type defers to the manifest contract for compatibility checks.
func TestValidateUntypedDeclarationUsesManifest(t *testing.T) {
	eng := newTestEngine(searchScrapeManifests())
	steps := searchScrapePlan()
	steps[0].Outputs["urls"].Type = ""

	errs, _, wraps := runPass(t, eng, steps)
	if len(errs) != 0 {
		t.Fatalf("expected no hard errors, got %v", errs)
	}
	if len(wraps) != 1 {
		t.Fatalf("manifest type should drive wrappable detection, got %v", wraps)
	}
}

// TestValidateLiteralTypeDefault: a literal with no declared value type on
// a novel action defaults to string.
func TestValidateLiteralTypeDefault(t *testing.T) {
	eng := newTestEngine(fakeManifests{})
	in := &plan.InputSpec{Value: "hello"}
	steps := []*plan.Step{{ID: "a", Action: "NEW", Description: "x",
		Inputs: map[string]*plan.InputSpec{"i": in}}}
	if _, _, _ = runPass(t, eng, steps); in.ValueType != plan.TypeString {
		t.Errorf("expected defaulted valueType string, got %q", in.ValueType)
	}
}

func TestValidateMalformedInput(t *testing.T) {
	eng := newTestEngine(fakeManifests{})
	steps, err := plan.Decode([]byte(`[{"id": "a", "action": "NEW", "description": "x", "inputs": {"q": "bare"}}]`))
	if err != nil {
		t.Fatal(err)
	}
	errs, _, _ := runPass(t, eng, steps)
	if !containsMessage(errs, "neither a literal nor a reference") {
		t.Errorf("expected MissingField for malformed input, got %v", errs)
	}
}

func TestValidateOutputs(t *testing.T) {
	eng := newTestEngine(fakeManifests{})

	steps := []*plan.Step{{ID: "a", Action: "X", Description: "x",
		Outputs: map[string]*plan.OutputSpec{"o": {Type: "giraffe"}}}}
	errs, _, _ := runPass(t, eng, steps)
	if !containsMessage(errs, "unknown type") {
		t.Errorf("expected unknown output type error, got %v", errs)
	}

	// Deliverable without description is an error; without filename it gets
	// one synthesized and warned about.
	spec := &plan.OutputSpec{Deliverable: true, Type: plan.TypeObject}
	steps = []*plan.Step{{ID: "a", Action: "X", Description: "x",
		Outputs: map[string]*plan.OutputSpec{"report": spec}}}
	errs, warns, _ := runPass(t, eng, steps)
	if len(filterErrors(errs, KindMissingField)) == 0 {
		t.Errorf("expected MissingField for deliverable without description, got %v", errs)
	}
	if len(warns) != 1 || !strings.Contains(warns[0], "a_report.json") {
		t.Errorf("expected filename synthesis warning, got %v", warns)
	}
	if spec.Filename != "a_report.json" {
		t.Errorf("structured deliverable should get a .json filename, got %q", spec.Filename)
	}

	spec = &plan.OutputSpec{Deliverable: true, Description: "summary", Type: plan.TypeString}
	steps = []*plan.Step{{ID: "a", Action: "X", Description: "x",
		Outputs: map[string]*plan.OutputSpec{"summary": spec}}}
	_, warns, _ = runPass(t, eng, steps)
	if spec.Filename != "a_summary.txt" {
		t.Errorf("scalar deliverable should get a .txt filename, got %q", spec.Filename)
	}
	if len(warns) != 1 {
		t.Errorf("expected one warning, got %v", warns)
	}
}
