package schema

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaSeq makes every compiled document resolve under a distinct URL.
var schemaSeq atomic.Uint64

// JSONSchema validates generic JSON input against a compiled JSON Schema document.
type JSONSchema struct {
	compiled *jsonschema.Schema
	source   string
}

// JSON compiles a JSON Schema (draft 2020-12) document.
func JSON(document string) (*JSONSchema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://appshell.local/schemas/%d.schema.json", schemaSeq.Add(1))
	if err := c.AddResource(url, strings.NewReader(document)); err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &JSONSchema{compiled: compiled, source: document}, nil
}

// MustJSON is like JSON but panics on an invalid document. Intended for
// package-level action definitions.
func MustJSON(document string) *JSONSchema {
	s, err := JSON(document)
	if err != nil {
		panic(err)
	}
	return s
}

// Source returns the schema document.
func (s *JSONSchema) Source() string { return s.source }

// Validate implements Schema. The parsed value is the generic JSON form of raw.
func (s *JSONSchema) Validate(raw any) (any, error) {
	value, err := decodeGeneric(raw)
	if err != nil {
		return nil, NewValidationError(RootField, "malformed JSON")
	}
	if err := s.compiled.Validate(value); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return nil, NewValidationError(RootField, "input failed validation")
		}
		fe := FieldErrors{}
		collectCauses(ve, fe)
		if len(fe) == 0 {
			fe.Add(RootField, ve.Message)
		}
		return nil, &ValidationError{Fields: fe}
	}
	return value, nil
}

// collectCauses walks the validation error tree and records the leaf messages.
func collectCauses(ve *jsonschema.ValidationError, fe FieldErrors) {
	if len(ve.Causes) == 0 {
		field := instanceField(ve.InstanceLocation)
		if missing, ok := missingProperties(ve.Message); ok {
			for _, name := range missing {
				if field == RootField {
					fe.Add(name, "is required")
				} else {
					fe.Add(field+"."+name, "is required")
				}
			}
			return
		}
		fe.Add(field, ve.Message)
		return
	}
	for _, cause := range ve.Causes {
		collectCauses(cause, fe)
	}
}

// missingProperties extracts property names from a "missing properties: 'a', 'b'" message.
func missingProperties(msg string) ([]string, bool) {
	const prefix = "missing properties: "
	if !strings.HasPrefix(msg, prefix) {
		return nil, false
	}
	var names []string
	for _, part := range strings.Split(strings.TrimPrefix(msg, prefix), ",") {
		name := strings.Trim(strings.TrimSpace(part), "'\"")
		if name != "" {
			names = append(names, name)
		}
	}
	return names, len(names) > 0
}

// instanceField converts a JSON pointer ("/owner/email") into a dotted path.
func instanceField(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return RootField
	}
	parts := strings.Split(pointer, "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return strings.Join(parts, ".")
}
