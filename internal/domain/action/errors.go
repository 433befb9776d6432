package action

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry operations.
var (
	// ErrDuplicateAction is returned when an action ID is already registered.
	ErrDuplicateAction = errors.New("action already registered")
	// ErrInvalidDefinition is returned for definitions missing an ID or handler.
	ErrInvalidDefinition = errors.New("invalid action definition")
)

// Error is a failure a hook or handler reports deliberately. Its Message is
// shown to the caller as-is, so it must never carry internal details.
type Error struct {
	// Type classifies the failure.
	Type ErrorType
	// Message is the caller-safe description.
	Message string
	// Details is optional structured context for the caller.
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NotFound reports that a looked-up record does not exist.
func NotFound(format string, args ...any) *Error {
	return &Error{Type: ErrorNotFound, Message: fmt.Sprintf(format, args...)}
}

// Workflow reports a domain transition rule violation.
func Workflow(msg string, details map[string]any) *Error {
	return &Error{Type: ErrorWorkflow, Message: msg, Details: details}
}

// Invalid reports field-level input problems detected by a hook or handler.
func Invalid(fieldErrors map[string][]string) *Error {
	return &Error{
		Type:    ErrorValidation,
		Message: "Invalid input",
		Details: map[string]any{"fieldErrors": fieldErrors},
	}
}
