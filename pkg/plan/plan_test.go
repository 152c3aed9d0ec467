package plan

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestDecodeLiteralAndReference checks the two input spec variants decode
// into the right union arms.
func TestDecodeLiteralAndReference(t *testing.T) {
	data := []byte(`[
		{
			"id": "a",
			"action": "SEARCH",
			"description": "search the web",
			"inputs": {"query": {"value": "golang", "valueType": "string"}},
			"outputs": {"results": {"description": "hits", "type": "array"}}
		},
		{
			"id": "b",
			"action": "SUMMARIZE",
			"description": "summarize hits",
			"inputs": {"text": {"sourceStep": "a", "outputName": "results"}},
			"outputs": {"summary": {"description": "short form", "type": "string"}}
		}
	]`)
	steps, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}

	q := steps[0].Inputs["query"]
	if q.Kind() != InputLiteral {
		t.Errorf("query should be a literal, got kind %v", q.Kind())
	}
	if q.Value != "golang" || q.ValueType != TypeString {
		t.Errorf("unexpected literal: %+v", q)
	}

	ref := steps[1].Inputs["text"]
	if ref.Kind() != InputReference {
		t.Errorf("text should be a reference, got kind %v", ref.Kind())
	}
	if ref.SourceStep != "a" || ref.OutputName != "results" {
		t.Errorf("unexpected reference: %+v", ref)
	}
}

// TestDecodeScalarShorthand: a bare scalar where an input object belongs is
// tolerated at decode time but marked malformed.
func TestDecodeScalarShorthand(t *testing.T) {
	data := []byte(`[{"id": "a", "action": "X", "inputs": {"q": "just a string"}}]`)
	steps, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	in := steps[0].Inputs["q"]
	if !in.Malformed() {
		t.Error("bare scalar input should be marked malformed")
	}
	if in.Kind() != InputInvalid {
		t.Errorf("malformed input should be invalid, got kind %v", in.Kind())
	}
}

// TestDecodeCompositeSourceStep: a sourceStep carrying an object instead of
// an identifier is flattened to the id-like key inside it.
func TestDecodeCompositeSourceStep(t *testing.T) {
	data := []byte(`[{
		"id": "b",
		"action": "X",
		"inputs": {"q": {"sourceStep": {"id": "a", "outputName": "out"}, "outputName": "out"}}
	}]`)
	steps, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	in := steps[0].Inputs["q"]
	if in.SourceStep != "a" {
		t.Errorf("expected flattened sourceStep %q, got %q", "a", in.SourceStep)
	}
	if in.Kind() != InputReference {
		t.Errorf("expected reference after flattening, got kind %v", in.Kind())
	}
}

// TestDecodeBothVariantsInvalid: an entry setting both literal and reference
// fields satisfies neither contract.
func TestDecodeBothVariantsInvalid(t *testing.T) {
	data := []byte(`[{
		"id": "a",
		"action": "X",
		"inputs": {"q": {"value": "v", "sourceStep": "a", "outputName": "o"}}
	}]`)
	steps, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if steps[0].Inputs["q"].Kind() != InputInvalid {
		t.Error("both-variant input should be invalid")
	}
}

// TestDecodeExplicitNullLiteral: {"value": null, ...} is an absent value,
// not a literal null.
func TestDecodeNullValueNotLiteral(t *testing.T) {
	data := []byte(`[{"id": "a", "action": "X", "inputs": {"q": {"value": null}}}]`)
	steps, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if steps[0].Inputs["q"].Kind() != InputInvalid {
		t.Error("null-value input with no other fields should be invalid")
	}
}

// TestDecodeLegacyOutputsList: outputs declared as [{name, type, ...}] are
// normalized into the name→spec map.
func TestDecodeLegacyOutputsList(t *testing.T) {
	data := []byte(`[{
		"id": "a",
		"action": "X",
		"outputs": [
			{"name": "result", "type": "string", "description": "the answer"},
			{"name": "log", "type": "array"}
		]
	}]`)
	steps, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	outs := steps[0].Outputs
	if len(outs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outs))
	}
	if outs["result"] == nil || outs["result"].Type != TypeString {
		t.Errorf("unexpected result output: %+v", outs["result"])
	}
	if outs["log"] == nil || outs["log"].Type != TypeArray {
		t.Errorf("unexpected log output: %+v", outs["log"])
	}
}

// TestDecodeUnknownKeysCaptured: non-contractual keys survive decoding in
// the extra set so the sanitizer can strip them.
func TestDecodeUnknownKeysCaptured(t *testing.T) {
	data := []byte(`[{"id": "a", "action": "X", "status": "pending", "retries": 3}]`)
	steps, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	extra := steps[0].Extra()
	if len(extra) != 2 {
		t.Fatalf("expected 2 extra keys, got %d: %v", len(extra), extra)
	}
	if _, ok := extra["status"]; !ok {
		t.Error("expected 'status' in extra keys")
	}
}

func TestDecodeRejectsNonArray(t *testing.T) {
	if _, err := Decode([]byte(`{"id": "a"}`)); err == nil {
		t.Error("expected error for non-array document")
	}
	if _, err := Decode([]byte(`[]`)); err == nil {
		t.Error("expected error for empty plan")
	}
}

// TestLoadYAML: YAML plans decode through the same path as JSON.
func TestLoadYAML(t *testing.T) {
	doc := `
- id: a
  action: SEARCH
  description: search
  inputs:
    query:
      value: golang
      valueType: string
  outputs:
    results:
      description: hits
      type: array
`
	steps, err := LoadYAML(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(steps))
	}
	if steps[0].Inputs["query"].Kind() != InputLiteral {
		t.Error("expected literal input from YAML")
	}
	if steps[0].Outputs["results"].Type != TypeArray {
		t.Errorf("unexpected output type: %q", steps[0].Outputs["results"].Type)
	}
}

// TestReadDocument: a YAML file comes back as JSON bytes, so document-level
// validation sees one format, and LoadFile decodes the same bytes.
func TestReadDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	doc := []byte("- id: a\n  action: THINK\n  description: draft\n")
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		t.Fatal(err)
	}

	data, err := ReadDocument(path)
	if err != nil {
		t.Fatal(err)
	}
	if !json.Valid(data) {
		t.Fatalf("expected JSON bytes, got %s", data)
	}

	steps, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 1 || steps[0].Action != "THINK" {
		t.Errorf("unexpected steps from file: %+v", steps)
	}
}

// TestMarshalActiveVariantOnly: serializing a spec emits only the fields of
// its active variant.
func TestMarshalActiveVariantOnly(t *testing.T) {
	ref := Reference("a", "out")
	data, err := json.Marshal(ref)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "value") {
		t.Errorf("reference variant leaked literal fields: %s", data)
	}

	lit := Literal("hello", TypeString)
	data, err = json.Marshal(lit)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "sourceStep") {
		t.Errorf("literal variant leaked reference fields: %s", data)
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := &Step{
		ID:     "a",
		Action: ActionForEach,
		Inputs: map[string]*InputSpec{"array": Reference("p", "out")},
		Steps: []*Step{
			{ID: "b", Action: "X", Inputs: map[string]*InputSpec{"item": Reference(ParentMarker, ImplicitItem)}},
		},
	}
	c := s.Clone()
	c.Inputs["array"].SourceStep = "changed"
	c.Steps[0].ID = "changed"
	if s.Inputs["array"].SourceStep != "p" {
		t.Error("clone shares input specs with original")
	}
	if s.Steps[0].ID != "b" {
		t.Error("clone shares sub-plan with original")
	}
}

func TestCountSteps(t *testing.T) {
	steps := []*Step{
		{ID: "a", Steps: []*Step{{ID: "b"}, {ID: "c", Steps: []*Step{{ID: "d"}}}}},
		{ID: "e"},
	}
	if n := CountSteps(steps); n != 5 {
		t.Errorf("expected 5 steps, got %d", n)
	}
}
