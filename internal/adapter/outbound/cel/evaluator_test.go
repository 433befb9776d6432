package cel

import (
	"context"
	"strings"
	"testing"

	"github.com/appshell/appshell/internal/domain/action"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}
	return eval
}

func TestMatch(t *testing.T) {
	eval := newTestEvaluator(t)

	type note struct {
		Title    string `json:"title"`
		Priority int    `json:"priority"`
	}
	vars := Vars{
		ActionID: "note.create",
		Input:    map[string]any{"title": "hello", "tags": []any{"urgent"}},
		Output:   note{Title: "hello", Priority: 3},
		Caller:   action.Caller{UserID: "alice", TenantID: "acme", Roles: []string{"admin"}, Type: action.CallerHuman},
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"input field", `input.title == "hello"`, true},
		{"output struct uses json names", `output.priority > 2`, true},
		{"output comparison false", `output.priority > 5`, false},
		{"caller role", `"admin" in caller.roles`, true},
		{"caller type", `caller.type == "ai-agent"`, false},
		{"action glob", `glob("note.*", action)`, true},
		{"list membership", `"urgent" in input.tags`, true},
		{"has macro", `has(input.missing)`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eval.Match(context.Background(), tt.expr, vars)
			if err != nil {
				t.Fatalf("Match(%q) error: %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestMatch_NilOutput(t *testing.T) {
	eval := newTestEvaluator(t)
	got, err := eval.Match(context.Background(), `caller.tenant_id == "acme"`, Vars{Caller: action.Caller{TenantID: "acme"}})
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if !got {
		t.Error("expected true")
	}
}

func TestMatch_Errors(t *testing.T) {
	eval := newTestEvaluator(t)

	tests := []struct {
		name    string
		expr    string
		wantErr string
	}{
		{"empty", "", "empty"},
		{"syntax", `this is not valid CEL !!!`, "invalid CEL expression"},
		{"non boolean", `action + "x"`, "boolean"},
		{"too long", strings.Repeat("a", maxExpressionLength+1), "too long"},
		{"too deep", strings.Repeat("(", maxNestingDepth+1) + "true" + strings.Repeat(")", maxNestingDepth+1), "nesting"},
		{"missing key at runtime", `input.nope == 1`, "evaluation failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eval.Match(context.Background(), tt.expr, Vars{Input: map[string]any{}})
			if err == nil {
				t.Fatalf("Match(%q) expected error", tt.expr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestMatch_CachesPrograms(t *testing.T) {
	eval := newTestEvaluator(t)
	expr := `action == "x"`
	for i := 0; i < 3; i++ {
		if _, err := eval.Match(context.Background(), expr, Vars{ActionID: "x"}); err != nil {
			t.Fatal(err)
		}
	}
	n := 0
	eval.programs.Range(func(_, _ any) bool { n++; return true })
	if n != 1 {
		t.Errorf("cached %d programs, want 1", n)
	}
}
