package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MismatchError reports the first structural mismatch found in a payload,
// per spec.md §4.3: "returns the first mismatch path and the expected vs.
// actual kind. No coercion. No default filling."
type MismatchError struct {
	SchemaKey string
	Path      string
	Message   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("schema %q: mismatch at %s: %s", e.SchemaKey, e.Path, e.Message)
}

// Validator compiles the declarative Catalog into JSON Schema documents once
// and validates untyped JSON payloads against them.
type Validator struct {
	compiled map[string]*jsonschema.Schema
}

// NewValidator compiles every schema in the catalog. A malformed catalog
// entry is a programmer error and fails fast at construction.
func NewValidator(catalog Catalog) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	v := &Validator{compiled: make(map[string]*jsonschema.Schema, len(catalog))}

	for key, obj := range catalog {
		doc := toJSONSchema(obj)
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("marshal schema %q: %w", key, err)
		}
		resourceURL := "mem://" + key + ".json"
		if err := compiler.AddResource(resourceURL, strings.NewReader(string(raw))); err != nil {
			return nil, fmt.Errorf("register schema %q: %w", key, err)
		}
		compiled, err := compiler.Compile(resourceURL)
		if err != nil {
			return nil, fmt.Errorf("compile schema %q: %w", key, err)
		}
		v.compiled[key] = compiled
	}
	return v, nil
}

// Validate checks a JSON blob against the schema registered for schemaKey.
// On success it returns the decoded payload as a generic map. On mismatch,
// it returns a *MismatchError pointing at the first failing path — never a
// panic, per spec.md §4.1's "structured error, never a crash".
func (v *Validator) Validate(schemaKey string, payloadJSON []byte) (map[string]interface{}, error) {
	compiled, ok := v.compiled[schemaKey]
	if !ok {
		return nil, fmt.Errorf("unknown schema key %q", schemaKey)
	}

	var decoded interface{}
	if err := json.Unmarshal(payloadJSON, &decoded); err != nil {
		return nil, &MismatchError{SchemaKey: schemaKey, Path: "", Message: "payload is not valid JSON: " + err.Error()}
	}

	if err := compiled.Validate(decoded); err != nil {
		return nil, translateValidationError(schemaKey, err)
	}

	payload, ok := decoded.(map[string]interface{})
	if !ok {
		return nil, &MismatchError{SchemaKey: schemaKey, Path: "", Message: "payload must be an object"}
	}
	return payload, nil
}

// Has reports whether schemaKey exists in the compiled catalog.
func (v *Validator) Has(schemaKey string) bool {
	_, ok := v.compiled[schemaKey]
	return ok
}

func translateValidationError(schemaKey string, err error) error {
	valErr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return &MismatchError{SchemaKey: schemaKey, Message: err.Error()}
	}
	leaf := deepestCause(valErr)
	path := leaf.InstanceLocation
	if path == "" {
		path = "/"
	}
	return &MismatchError{SchemaKey: schemaKey, Path: path, Message: leaf.Message}
}

// deepestCause walks the validation error tree to the most specific
// (deepest instance-location) cause, which is almost always the one that
// pinpoints the actual field that failed rather than the outer "doesn't
// validate against schema" wrapper.
func deepestCause(err *jsonschema.ValidationError) *jsonschema.ValidationError {
	best := err
	for _, cause := range err.Causes {
		candidate := deepestCause(cause)
		if len(candidate.InstanceLocation) >= len(best.InstanceLocation) {
			best = candidate
		}
	}
	return best
}
