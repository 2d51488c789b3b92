package util

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/google/jsonschema-go/jsonschema"
)

// ValidationError reports tool-call arguments that do not satisfy a tool's
// input schema.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid arguments: " + e.Message
	}
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Message)
}

// Unwrap returns the underlying schema error.
func (e *ValidationError) Unwrap() error { return e.Err }

// CompileSchema resolves an input schema given as decoded JSON, the form tool
// servers publish and model declarations carry. An empty schema resolves to
// nil, which accepts any arguments.
func CompileSchema(schema map[string]any) (*jsonschema.Resolved, error) {
	if len(schema) == 0 {
		return nil, nil
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	resolved, err := s.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}
	return resolved, nil
}

// ValidateArgs checks tool-call arguments against a resolved schema. A nil
// schema accepts everything. Missing arguments validate as an empty object.
func ValidateArgs(args map[string]any, schema *jsonschema.Resolved) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := schema.Validate(args); err != nil {
		return &ValidationError{Message: err.Error(), Err: err}
	}
	return nil
}

// SchemaOf infers an input schema from a Go struct and returns it in decoded
// JSON form. Field descriptions come from the `jsonschema` tag; fields tagged
// omitempty or omitzero are optional.
func SchemaOf(v any) (map[string]any, error) {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema source must be a struct, got %T", v)
	}

	s, err := jsonschema.ForType(t, &jsonschema.ForOptions{})
	if err != nil {
		return nil, fmt.Errorf("infer schema for %s: %w", t, err)
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	return out, nil
}
