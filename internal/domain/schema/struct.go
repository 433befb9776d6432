package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/jsonschema-go/jsonschema"
)

// StructSchema decodes input into T and checks its `validate` struct tags.
type StructSchema[T any] struct {
	validate *validator.Validate
	source   func() string
}

// Struct returns a schema producing values of type T. Field errors are keyed
// by the JSON field path (e.g. "title", "owner.email").
func Struct[T any]() *StructSchema[T] {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	return &StructSchema[T]{validate: v, source: sync.OnceValue(inferSource[T])}
}

// Source returns a JSON Schema document inferred from T, or "" when T cannot
// be described. Property names follow the json tags, fields without omitempty
// are required, and a `jsonschema` tag sets the property description.
func (s *StructSchema[T]) Source() string { return s.source() }

func inferSource[T any]() string {
	doc, err := jsonschema.For[T](nil)
	if err != nil {
		return ""
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return ""
	}
	return string(data)
}

// Validate implements Schema.
func (s *StructSchema[T]) Validate(raw any) (any, error) {
	var out T
	switch v := raw.(type) {
	case T:
		out = v
	case *T:
		if v != nil {
			out = *v
		}
	default:
		data, err := toJSON(raw)
		if err != nil {
			return nil, NewValidationError(RootField, "input is not JSON encodable")
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, decodeError(err)
		}
	}

	if reflect.TypeOf(out) == nil || reflect.TypeOf(out).Kind() != reflect.Struct {
		return out, nil
	}
	if err := s.validate.Struct(out); err != nil {
		return nil, fieldErrors(err)
	}
	return out, nil
}

// jsonFieldName reports the JSON name of a struct field for error keys.
func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}

// decodeError converts a JSON decoding failure into field errors.
func decodeError(err error) *ValidationError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return NewValidationError(typeErr.Field, fmt.Sprintf("expected %s, got %s", typeErr.Type.Kind(), typeErr.Value))
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return NewValidationError(RootField, "malformed JSON")
	}
	return NewValidationError(RootField, "input does not match the expected shape")
}

// fieldErrors converts validator errors into FieldErrors keyed by JSON path.
func fieldErrors(err error) *ValidationError {
	fe := FieldErrors{}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		fe.Add(RootField, "input failed validation")
		return &ValidationError{Fields: fe}
	}
	for _, e := range validationErrors {
		fe.Add(fieldPath(e.Namespace()), describe(e))
	}
	return &ValidationError{Fields: fe}
}

// fieldPath strips the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func describe(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "len":
		return fmt.Sprintf("must have length %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "uuid", "uuid4":
		return "must be a valid UUID"
	default:
		return fmt.Sprintf("failed validation: %s", e.Tag())
	}
}
