package builtin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"go.uber.org/goleak"

	celeval "github.com/appshell/appshell/internal/adapter/outbound/cel"
	"github.com/appshell/appshell/internal/adapter/outbound/memory"
	"github.com/appshell/appshell/internal/domain/action"
	"github.com/appshell/appshell/internal/domain/audit"
	"github.com/appshell/appshell/internal/domain/event"
	"github.com/appshell/appshell/internal/service"
)

type fixture struct {
	bus    *service.ActionBus
	audits *memory.MemoryAuditStore

	mu     sync.Mutex
	events []event.DomainEvent
}

func (f *fixture) seen(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, evt := range f.events {
		if evt.Type == eventType {
			n++
		}
	}
	return n
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{audits: memory.NewAuditStore()}

	events := service.NewEventBus(logger)
	if err := events.Subscribe(event.Subscriber{
		Name:      "recorder",
		EventType: event.Wildcard,
		Handler: func(_ context.Context, evt event.DomainEvent) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.events = append(f.events, evt)
			return nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	conditions, err := celeval.NewEvaluator()
	if err != nil {
		t.Fatal(err)
	}
	registry := action.NewRegistry()
	f.bus = service.NewActionBus(registry, events, memory.NewRecordStore(), logger,
		service.WithConditionEvaluator(conditions),
	)
	if err := f.bus.RegisterActions(All(registry, f.audits)...); err != nil {
		t.Fatalf("RegisterActions() error: %v", err)
	}
	return f
}

var (
	admin  = action.Caller{UserID: "u-admin", TenantID: "acme", Roles: []string{"admin"}, Type: action.CallerHuman}
	member = action.Caller{UserID: "u-member", TenantID: "acme", Roles: []string{"member"}, Type: action.CallerHuman}
	agent  = action.Caller{UserID: "u-agent", TenantID: "acme", Roles: []string{"admin"}, Type: action.CallerAIAgent}
)

// decode round-trips result data through JSON into out.
func decode(t *testing.T, res action.Result, out any) {
	t.Helper()
	if !res.Success {
		t.Fatalf("dispatch failed: %s (%s) %v", res.Error, res.ErrorType, res.Details)
	}
	raw, err := json.Marshal(res.Data)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatal(err)
	}
}

func TestSystemPing(t *testing.T) {
	f := newFixture(t)
	for _, caller := range []action.Caller{admin, member, agent, {UserID: "svc", TenantID: "acme", Type: action.CallerSystem}} {
		var out PingOutput
		decode(t, f.bus.Dispatch(context.Background(), "system.ping", nil, caller), &out)
		if !out.Pong || out.TenantID != "acme" {
			t.Errorf("ping for %s = %+v", caller.Type, out)
		}
	}
}

func TestSystemActionsList(t *testing.T) {
	f := newFixture(t)

	var all []ActionSummary
	decode(t, f.bus.Dispatch(context.Background(), "system.actions.list", map[string]any{}, member), &all)
	if len(all) != 8 {
		t.Errorf("listed %d actions, want 8", len(all))
	}

	var notes []ActionSummary
	decode(t, f.bus.Dispatch(context.Background(), "system.actions.list", map[string]any{"entity": "NOTE"}, member), &notes)
	if len(notes) != 5 {
		t.Fatalf("listed %d note actions, want 5", len(notes))
	}
	if notes[0].ID != "note.archive" || notes[0].Entity != "note" {
		t.Errorf("first note action = %+v", notes[0])
	}
	for _, s := range notes {
		if s.ID == "note.create" && len(s.SideEffects) != 3 {
			t.Errorf("note.create side effects = %v", s.SideEffects)
		}
	}

	res := f.bus.Dispatch(context.Background(), "system.actions.list", nil, agent)
	if res.ErrorType != action.ErrorPermission {
		t.Errorf("agent listing = %+v, want permission failure", res)
	}
}

func TestSystemAuditList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.audits.Append(ctx,
		audit.AuditRecord{RequestID: "r1", TenantID: "acme", ActionID: "note.create", Success: true},
		audit.AuditRecord{RequestID: "r2", TenantID: "globex", ActionID: "note.create", Success: true},
		audit.AuditRecord{RequestID: "r3", TenantID: "acme", ActionID: "note.get", ErrorType: "not_found"},
	)

	var records []audit.AuditRecord
	decode(t, f.bus.Dispatch(ctx, "system.audit.list", map[string]any{}, admin), &records)
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2 (tenant scoped)", len(records))
	}
	for _, r := range records {
		if r.TenantID != "acme" {
			t.Errorf("leaked record from %s", r.TenantID)
		}
	}

	var failures []audit.AuditRecord
	decode(t, f.bus.Dispatch(ctx, "system.audit.list", map[string]any{"onlyFailures": true}, admin), &failures)
	if len(failures) != 1 || failures[0].RequestID != "r3" {
		t.Errorf("failures = %+v", failures)
	}

	if res := f.bus.Dispatch(ctx, "system.audit.list", nil, member); res.ErrorType != action.ErrorPermission {
		t.Errorf("member audit listing = %+v, want permission failure", res)
	}
	if res := f.bus.Dispatch(ctx, "system.audit.list", map[string]any{"limit": 0.5}, admin); res.ErrorType != action.ErrorValidation {
		t.Errorf("fractional limit = %+v, want validation failure", res)
	}
}

func TestSystem_WithoutAuditQuery(t *testing.T) {
	for _, def := range System(action.NewRegistry(), nil) {
		if def.ID == "system.audit.list" {
			t.Fatal("system.audit.list registered without an audit query store")
		}
	}
}

func TestNoteLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	ctx := context.Background()

	var created Note
	decode(t, f.bus.Dispatch(ctx, "note.create", map[string]any{"title": "  Groceries ", "tags": []string{" Home "}}, member), &created)
	if created.ID == "" || created.Title != "Groceries" {
		t.Errorf("created = %+v", created)
	}
	if len(created.Tags) != 1 || created.Tags[0] != "home" {
		t.Errorf("tags = %v, want [home]", created.Tags)
	}

	var got Note
	decode(t, f.bus.Dispatch(ctx, "note.get", map[string]any{"id": created.ID}, member), &got)
	if got.Title != "Groceries" || got.CreatedAt.IsZero() {
		t.Errorf("got = %+v", got)
	}

	var archived Note
	decode(t, f.bus.Dispatch(ctx, "note.archive", map[string]any{"id": created.ID}, member), &archived)
	if !archived.Archived {
		t.Error("note not archived")
	}

	again := f.bus.Dispatch(ctx, "note.archive", map[string]any{"id": created.ID}, member)
	if again.ErrorType != action.ErrorWorkflow || again.Error != "Note is already archived" {
		t.Errorf("second archive = %+v, want workflow failure", again)
	}
	if again.Details["noteId"] != created.ID {
		t.Errorf("workflow details = %v", again.Details)
	}

	var visible, everything []Note
	decode(t, f.bus.Dispatch(ctx, "note.list", nil, member), &visible)
	decode(t, f.bus.Dispatch(ctx, "note.list", map[string]any{"includeArchived": true}, member), &everything)
	if len(visible) != 0 || len(everything) != 1 {
		t.Errorf("list = %d visible, %d total; want 0, 1", len(visible), len(everything))
	}

	var deleted DeleteNoteOutput
	decode(t, f.bus.Dispatch(ctx, "note.delete", map[string]any{"id": created.ID}, admin), &deleted)
	if !deleted.Deleted {
		t.Errorf("deleted = %+v", deleted)
	}

	missing := f.bus.Dispatch(ctx, "note.get", map[string]any{"id": created.ID}, member)
	if missing.ErrorType != action.ErrorNotFound {
		t.Errorf("get after delete = %+v, want not_found", missing)
	}

	f.bus.Wait()
	if n := f.seen(EventNoteCreated); n != 1 {
		t.Errorf("note.created events = %d, want 1", n)
	}
	if n := f.seen(EventNoteArchived); n != 1 {
		t.Errorf("note.archived events = %d, want 1", n)
	}
	if n := f.seen(event.TypeWebhookTriggered); n != 1 {
		t.Errorf("webhook.triggered events = %d, want 1", n)
	}
	if n := f.seen(event.TypeNotificationRequested); n != 0 {
		t.Errorf("notification.requested events = %d, want 0 for a non-urgent note", n)
	}
}

func TestNoteCreate_UrgentNotifies(t *testing.T) {
	f := newFixture(t)
	res := f.bus.Dispatch(context.Background(), "note.create", map[string]any{"title": "Fire", "tags": []string{"urgent"}}, member)
	if !res.Success {
		t.Fatalf("create failed: %+v", res)
	}
	f.bus.Wait()
	if n := f.seen(event.TypeNotificationRequested); n != 1 {
		t.Errorf("notification.requested events = %d, want 1", n)
	}
}

func TestNoteCreate_Validation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name  string
		input map[string]any
		field string
	}{
		{"missing title", map[string]any{}, "title"},
		{"blank title", map[string]any{"title": "   "}, "title"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.bus.Dispatch(context.Background(), "note.create", tt.input, member)
			if res.ErrorType != action.ErrorValidation {
				t.Fatalf("result = %+v, want validation failure", res)
			}
			if _, ok := res.FieldErrors()[tt.field]; !ok {
				t.Errorf("field errors = %v, want %s", res.FieldErrors(), tt.field)
			}
		})
	}
	f.bus.Wait()
	if n := f.seen(EventNoteCreated); n != 0 {
		t.Errorf("failed creates emitted %d events", n)
	}
}

func TestNoteDelete_FirstMatchDeniesAgents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var created Note
	decode(t, f.bus.Dispatch(ctx, "note.create", map[string]any{"title": "keep"}, admin), &created)

	// The agent holds the admin role, but the deny rule comes first.
	if res := f.bus.Dispatch(ctx, "note.delete", map[string]any{"id": created.ID}, agent); res.ErrorType != action.ErrorPermission {
		t.Errorf("agent delete = %+v, want permission failure", res)
	}
	if res := f.bus.Dispatch(ctx, "note.delete", map[string]any{"id": created.ID}, member); res.ErrorType != action.ErrorPermission {
		t.Errorf("member delete = %+v, want permission failure", res)
	}
	if res := f.bus.Dispatch(ctx, "note.get", map[string]any{"id": created.ID}, member); !res.Success {
		t.Errorf("note gone after denied deletes: %+v", res)
	}
	f.bus.Wait()
}

func TestNotes_TenantIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var created Note
	decode(t, f.bus.Dispatch(ctx, "note.create", map[string]any{"title": "secret"}, member), &created)

	other := member
	other.TenantID = "globex"
	if res := f.bus.Dispatch(ctx, "note.get", map[string]any{"id": created.ID}, other); res.ErrorType != action.ErrorNotFound {
		t.Errorf("cross-tenant get = %+v, want not_found", res)
	}
	f.bus.Wait()
}
