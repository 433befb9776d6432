package audit

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestSummarizeInput_Redacts(t *testing.T) {
	input := map[string]any{
		"title":    "hello",
		"password": "hunter2",
		"nested":   map[string]any{"apiKey": "k", "ok": 1},
		"list":     []any{map[string]any{"token": "t"}},
	}

	summary, hash := SummarizeInput(input, 0)
	if hash == "" {
		t.Fatal("expected a hash")
	}
	for _, leaked := range []string{"hunter2", `"k"`, `"t"`} {
		if strings.Contains(summary, leaked) {
			t.Errorf("summary leaks %s: %s", leaked, summary)
		}
	}
	if !strings.Contains(summary, `"title":"hello"`) {
		t.Errorf("summary lost plain field: %s", summary)
	}
}

func TestSummarizeInput_Struct(t *testing.T) {
	type login struct {
		User   string `json:"user"`
		Secret string `json:"secret"`
	}
	summary, _ := SummarizeInput(login{User: "bob", Secret: "s3"}, 0)
	if strings.Contains(summary, "s3") {
		t.Errorf("struct secret leaked: %s", summary)
	}
}

func TestSummarizeInput_RawJSON(t *testing.T) {
	summary, _ := SummarizeInput(json.RawMessage(`{"token":"abc","n":1}`), 0)
	if strings.Contains(summary, "abc") {
		t.Errorf("raw JSON token leaked: %s", summary)
	}
}

func TestSummarizeInput_Truncates(t *testing.T) {
	long := map[string]any{"body": strings.Repeat("x", 200)}

	summary, hash := SummarizeInput(long, 50)
	if !strings.HasSuffix(summary, truncationMarker) {
		t.Errorf("summary not marked as truncated: %s", summary)
	}
	if len(summary) != 50+len(truncationMarker) {
		t.Errorf("len(summary) = %d, want %d", len(summary), 50+len(truncationMarker))
	}

	// The hash covers the full input, so it differs from a shorter input
	// that shares the same first 50 bytes.
	_, other := SummarizeInput(map[string]any{"body": strings.Repeat("x", 199)}, 50)
	if hash == other {
		t.Error("hash ignores the truncated tail")
	}
}

func TestSummarizeInput_TruncatesOnRuneBoundary(t *testing.T) {
	// {"title":" is 10 bytes; each é is 2, so byte 13 is mid-rune.
	summary, _ := SummarizeInput(map[string]any{"title": "ééé"}, 13)

	if !utf8.ValidString(summary) {
		t.Fatalf("summary is not valid UTF-8: %q", summary)
	}
	if want := `{"title":"é` + truncationMarker; summary != want {
		t.Errorf("summary = %q, want %q", summary, want)
	}
}

func TestSummarizeInput_Nil(t *testing.T) {
	summary, hash := SummarizeInput(nil, 10)
	if summary != "" || hash != "" {
		t.Errorf("SummarizeInput(nil) = %q, %q", summary, hash)
	}
}

func TestAuditFilter(t *testing.T) {
	now := time.Now().UTC()
	rec := AuditRecord{Timestamp: now, TenantID: "a", ActionID: "note.create", UserID: "u", Success: true}

	tests := []struct {
		name   string
		filter AuditFilter
		want   bool
	}{
		{"tenant match", AuditFilter{TenantID: "a"}, true},
		{"other tenant", AuditFilter{TenantID: "b"}, false},
		{"action match", AuditFilter{TenantID: "a", ActionID: "note.create"}, true},
		{"action mismatch", AuditFilter{TenantID: "a", ActionID: "note.get"}, false},
		{"user mismatch", AuditFilter{TenantID: "a", UserID: "v"}, false},
		{"since later", AuditFilter{TenantID: "a", Since: now.Add(time.Second)}, false},
		{"failures only", AuditFilter{TenantID: "a", OnlyFailures: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(rec); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}

	if got := (AuditFilter{}).Normalize().Limit; got != 50 {
		t.Errorf("default limit = %d, want 50", got)
	}
	if got := (AuditFilter{Limit: 9999}).Normalize().Limit; got != 500 {
		t.Errorf("max limit = %d, want 500", got)
	}
}
