// Package audit contains domain types for the dispatch audit trail.
package audit

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

// DefaultInputLimit is the number of bytes of serialized input kept on a record.
const DefaultInputLimit = 1000

// redactedValue replaces sensitive values in recorded input.
const redactedValue = "***REDACTED***"

// truncationMarker is appended to inputs cut at the byte limit.
const truncationMarker = "...(truncated)"

// sensitiveKeywords lists substrings that indicate a sensitive input key.
// Comparison is case-insensitive.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey",
}

// AuditRecord is one dispatch attempt as seen by the audit trail.
type AuditRecord struct {
	// Timestamp is when the dispatch started (UTC).
	Timestamp time.Time `json:"timestamp"`
	// RequestID correlates the record with logs and emitted events.
	RequestID string `json:"request_id"`
	// TraceID is the OpenTelemetry trace of the dispatch, when tracing is on.
	TraceID string `json:"trace_id,omitempty"`
	// TenantID of the caller.
	TenantID string `json:"tenant_id"`
	// UserID of the caller.
	UserID string `json:"user_id"`
	// CallerType is human, system or ai-agent.
	CallerType string `json:"caller_type"`
	// ActionID is the dispatched action.
	ActionID string `json:"action_id"`
	// Success reports the dispatch outcome.
	Success bool `json:"success"`
	// ErrorType classifies a failure (empty on success).
	ErrorType string `json:"error_type,omitempty"`
	// Error is the internal error description. It may contain details that
	// are never returned to the caller.
	Error string `json:"error,omitempty"`
	// DurationMicros is the pipeline duration in microseconds.
	DurationMicros int64 `json:"duration_us"`
	// Input is the redacted, truncated JSON of the raw input.
	Input string `json:"input,omitempty"`
	// InputHash is the xxhash64 of the full redacted input JSON.
	InputHash string `json:"input_hash,omitempty"`
}

// SummarizeInput serializes input for the audit trail: sensitive keys are
// redacted, the JSON is cut at limit bytes (backing off to a rune boundary), and the hash covers the full
// redacted JSON so identical inputs can be correlated even when truncated.
func SummarizeInput(input any, limit int) (summary string, hash string) {
	if input == nil {
		return "", ""
	}
	if limit <= 0 {
		limit = DefaultInputLimit
	}

	data, err := json.Marshal(redact(input))
	if err != nil {
		return "", ""
	}
	hash = strconv.FormatUint(xxhash.Sum64(data), 16)
	if len(data) > limit {
		// Never split a multi-byte rune.
		cut := limit
		for cut > 0 && !utf8.RuneStart(data[cut]) {
			cut--
		}
		return string(data[:cut]) + truncationMarker, hash
	}
	return string(data), hash
}

// redact returns a copy of v with sensitive values masked at any depth.
func redact(v any) any {
	switch val := v.(type) {
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(val, &decoded); err != nil {
			return string(val)
		}
		return redact(decoded)
	case []byte:
		return redact(json.RawMessage(val))
	case map[string]any:
		return RedactSensitiveArgs(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redact(item)
		}
		return out
	default:
		// Structs and typed maps go through their JSON form so tags are honored.
		data, err := json.Marshal(val)
		if err != nil || len(data) == 0 || (data[0] != '{' && data[0] != '[') {
			return val
		}
		var decoded any
		if err := json.Unmarshal(data, &decoded); err != nil {
			return val
		}
		switch decoded.(type) {
		case map[string]any, []any:
			return redact(decoded)
		}
		return val
	}
}

// RedactSensitiveArgs returns a copy of args with sensitive values masked.
// A key is considered sensitive if it contains any of the sensitiveKeywords
// (case-insensitive). Nested maps and lists are redacted too.
func RedactSensitiveArgs(args map[string]any) map[string]any {
	if len(args) == 0 {
		return args
	}
	redacted := make(map[string]any, len(args))
	for k, v := range args {
		if isSensitiveKey(k) {
			redacted[k] = redactedValue
		} else {
			redacted[k] = redact(v)
		}
	}
	return redacted
}

// isSensitiveKey checks if a key name indicates sensitive data.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
