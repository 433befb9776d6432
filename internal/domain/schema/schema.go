// Package schema provides the structural validators used as action input and
// output schemas. A schema turns an untrusted raw value into a parsed value or
// reports per-field errors that a caller can use to correct its request.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// RootField is the field key used for failures that are not tied to a single field.
const RootField = "$"

// Schema validates raw input and returns the parsed value.
type Schema interface {
	// Validate parses raw and returns the value handed to the next pipeline step.
	// A failure is always reported as a *ValidationError.
	Validate(raw any) (any, error)
}

// FieldErrors maps a field path to the messages describing what is wrong with it.
type FieldErrors map[string][]string

// Add appends a message for field.
func (f FieldErrors) Add(field, msg string) {
	if field == "" {
		field = RootField
	}
	f[field] = append(f[field], msg)
}

// Fields returns the offending field names in sorted order.
func (f FieldErrors) Fields() []string {
	fields := make([]string, 0, len(f))
	for k := range f {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// ValidationError reports one or more field-level failures.
type ValidationError struct {
	Fields FieldErrors
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, field := range e.Fields.Fields() {
		parts = append(parts, fmt.Sprintf("%s: %s", field, strings.Join(e.Fields[field], ", ")))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NewValidationError creates a ValidationError holding a single field message.
func NewValidationError(field, msg string) *ValidationError {
	fe := FieldErrors{}
	fe.Add(field, msg)
	return &ValidationError{Fields: fe}
}

// Validate runs s against raw. A nil schema accepts raw unchanged.
func Validate(s Schema, raw any) (any, error) {
	if s == nil {
		return raw, nil
	}
	return s.Validate(raw)
}

type anySchema struct{}

// Any returns a schema that accepts every value unchanged.
func Any() Schema { return anySchema{} }

func (anySchema) Validate(raw any) (any, error) { return raw, nil }

// toJSON returns the JSON encoding of raw. Byte slices and json.RawMessage
// are assumed to already hold JSON.
func toJSON(raw any) ([]byte, error) {
	switch v := raw.(type) {
	case nil:
		return []byte("null"), nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// decodeGeneric converts raw into the generic JSON value model
// (map[string]any, []any, string, json.Number, bool, nil).
func decodeGeneric(raw any) (any, error) {
	data, err := toJSON(raw)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
