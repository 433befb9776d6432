package action

import "encoding/json"

// ErrorType classifies a failed dispatch so adapters can map it to
// transport-specific status codes.
type ErrorType string

const (
	// ErrorNotFound covers unknown action IDs and lookups that found no record.
	ErrorNotFound ErrorType = "not_found"
	// ErrorValidation covers input that does not match the action's schema.
	ErrorValidation ErrorType = "validation"
	// ErrorPermission covers callers without a matching allow rule.
	ErrorPermission ErrorType = "permission"
	// ErrorWorkflow covers domain-level transition rule violations reported by handlers.
	ErrorWorkflow ErrorType = "workflow"
	// ErrorUnknown covers any unexpected failure in hooks or handlers.
	ErrorUnknown ErrorType = "unknown"
)

// String returns the string representation of the ErrorType.
func (t ErrorType) String() string {
	return string(t)
}

// Result is the outcome of a dispatch: either a success carrying Data, or a
// failure carrying a caller-safe Error message, its ErrorType and optional Details.
type Result struct {
	Success   bool
	Data      any
	Error     string
	ErrorType ErrorType
	Details   map[string]any
}

// Ok returns a success result.
func Ok(data any) Result {
	return Result{Success: true, Data: data}
}

// Fail returns a failure result.
func Fail(errType ErrorType, msg string, details map[string]any) Result {
	return Result{Error: msg, ErrorType: errType, Details: details}
}

// FieldErrors returns details["fieldErrors"] for validation failures.
func (r Result) FieldErrors() map[string][]string {
	fe, _ := r.Details["fieldErrors"].(map[string][]string)
	return fe
}

type successJSON struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type failureJSON struct {
	Success   bool           `json:"success"`
	Error     string         `json:"error"`
	ErrorType ErrorType      `json:"errorType"`
	Details   map[string]any `json:"details,omitempty"`
}

// MarshalJSON encodes exactly {success, data} or {success, error, errorType, details?}.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Success {
		return json.Marshal(successJSON{Success: true, Data: r.Data})
	}
	return json.Marshal(failureJSON{
		Success:   false,
		Error:     r.Error,
		ErrorType: r.ErrorType,
		Details:   r.Details,
	})
}

// UnmarshalJSON decodes either result shape.
func (r *Result) UnmarshalJSON(data []byte) error {
	var raw struct {
		Success   bool           `json:"success"`
		Data      any            `json:"data"`
		Error     string         `json:"error"`
		ErrorType ErrorType      `json:"errorType"`
		Details   map[string]any `json:"details"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Result{
		Success:   raw.Success,
		Data:      raw.Data,
		Error:     raw.Error,
		ErrorType: raw.ErrorType,
		Details:   raw.Details,
	}
	return nil
}
