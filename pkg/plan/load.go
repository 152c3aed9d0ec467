package plan

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Decode parses a plan document (a JSON array of step records) into the
// typed model. An empty or non-array document is a top-level error; every
// other defect is left for validation to report as data.
func Decode(data []byte) ([]*Step, error) {
	var steps []*Step
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("plan must be an array of step records: %w", err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("plan contains no steps")
	}
	return steps, nil
}

// ReadDocument reads a plan file and returns its contents as JSON. A
// .yaml/.yml file is decoded to the generic form and re-encoded, so callers
// can run document-level validation on the result regardless of format.
func ReadDocument(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open plan: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode plan yaml: %w", err)
		}
		out, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("normalize plan yaml: %w", err)
		}
		return out, nil
	default:
		return data, nil
	}
}

// LoadFile reads a plan from a .json or .yaml/.yml file.
func LoadFile(path string) ([]*Step, error) {
	data, err := ReadDocument(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Load parses a JSON plan document from a reader.
func Load(r io.Reader) ([]*Step, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	return Decode(data)
}

// LoadYAML parses a YAML plan document. The document is decoded to the
// generic form and re-encoded as JSON so both formats share one decode path
// (and one set of union/normalization rules).
func LoadYAML(r io.Reader) ([]*Step, error) {
	dec := yaml.NewDecoder(r)

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode plan yaml: %w", err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("normalize plan yaml: %w", err)
	}
	return Decode(data)
}
