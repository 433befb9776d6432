package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/appshell/appshell/internal/domain/audit"
)

func TestMemoryAuditStore_WritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	store := NewAuditStoreWithWriter(&buf)

	err := store.Append(context.Background(),
		audit.AuditRecord{ActionID: "note.create", TenantID: "acme", Success: true},
		audit.AuditRecord{ActionID: "note.get", TenantID: "acme", ErrorType: "not_found"},
	)
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("wrote %d lines, want 2", len(lines))
	}
	var first audit.AuditRecord
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if first.ActionID != "note.create" || !first.Success {
		t.Errorf("decoded %+v", first)
	}
}

func TestMemoryAuditStore_QueryNewestFirst(t *testing.T) {
	store := NewAuditStoreWithWriter(nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = store.Append(ctx, audit.AuditRecord{ActionID: fmt.Sprintf("a.%d", i), TenantID: "acme"})
	}
	_ = store.Append(ctx, audit.AuditRecord{ActionID: "other", TenantID: "globex"})

	got, err := store.Query(ctx, audit.AuditFilter{TenantID: "acme", Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("Query() returned %d, want 3", len(got))
	}
	if got[0].ActionID != "a.4" || got[2].ActionID != "a.2" {
		t.Errorf("order = %s..%s, want a.4..a.2", got[0].ActionID, got[2].ActionID)
	}
	for _, r := range got {
		if r.TenantID != "acme" {
			t.Errorf("leaked record from %s", r.TenantID)
		}
	}
}

func TestMemoryAuditStore_RingBufferEvictsOldest(t *testing.T) {
	store := NewAuditStoreWithWriter(nil, 2)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_ = store.Append(ctx, audit.AuditRecord{ActionID: fmt.Sprintf("a.%d", i), TenantID: "acme"})
	}

	got, _ := store.Query(ctx, audit.AuditFilter{TenantID: "acme"})
	if len(got) != 2 || got[0].ActionID != "a.3" || got[1].ActionID != "a.2" {
		t.Errorf("Query() = %+v", got)
	}
}
