package action

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func noop(ctx context.Context, input any, actx *Context) (any, error) { return input, nil }

func def(id string) Definition {
	return Definition{ID: id, Name: id, Handler: noop, Permissions: AllowAll()}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(def("task.create")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, ok := r.Get("task.create")
	if !ok {
		t.Fatal("Get() did not find registered action")
	}
	if got.ID != "task.create" {
		t.Errorf("Get().ID = %q, want %q", got.ID, "task.create")
	}

	if _, ok := r.Get("task.delete"); ok {
		t.Error("Get() found an action that was never registered")
	}
}

func TestRegistry_RegisterDuplicateFails(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(def("task.create")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	err := r.Register(def("task.create"))
	if !errors.Is(err, ErrDuplicateAction) {
		t.Fatalf("Register() duplicate error = %v, want ErrDuplicateAction", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		def  Definition
	}{
		{"empty id", Definition{ID: " ", Handler: noop}},
		{"nil handler", Definition{ID: "task.create"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Register(tt.def); !errors.Is(err, ErrInvalidDefinition) {
				t.Errorf("Register() error = %v, want ErrInvalidDefinition", err)
			}
		})
	}
}

func TestRegistry_RegisterManyIsAllOrNothing(t *testing.T) {
	t.Run("conflict with existing", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(def("task.delete")); err != nil {
			t.Fatal(err)
		}

		err := r.RegisterMany([]Definition{def("task.create"), def("task.delete"), def("task.update")})
		if !errors.Is(err, ErrDuplicateAction) {
			t.Fatalf("RegisterMany() error = %v, want ErrDuplicateAction", err)
		}
		if _, ok := r.Get("task.create"); ok {
			t.Error("RegisterMany() inserted part of a failed batch")
		}
		if r.Len() != 1 {
			t.Errorf("Len() = %d, want 1", r.Len())
		}
	})

	t.Run("duplicate inside batch", func(t *testing.T) {
		r := NewRegistry()
		err := r.RegisterMany([]Definition{def("a.x"), def("a.x")})
		if !errors.Is(err, ErrDuplicateAction) {
			t.Fatalf("RegisterMany() error = %v, want ErrDuplicateAction", err)
		}
		if r.Len() != 0 {
			t.Errorf("Len() = %d, want 0", r.Len())
		}
	})

	t.Run("invalid member", func(t *testing.T) {
		r := NewRegistry()
		err := r.RegisterMany([]Definition{def("a.x"), {ID: "a.y"}})
		if !errors.Is(err, ErrInvalidDefinition) {
			t.Fatalf("RegisterMany() error = %v, want ErrInvalidDefinition", err)
		}
		if r.Len() != 0 {
			t.Errorf("Len() = %d, want 0", r.Len())
		}
	})

	t.Run("success", func(t *testing.T) {
		r := NewRegistry()
		if err := r.RegisterMany([]Definition{def("a.x"), def("a.y")}); err != nil {
			t.Fatalf("RegisterMany() error = %v", err)
		}
		if r.Len() != 2 {
			t.Errorf("Len() = %d, want 2", r.Len())
		}
	})
}

func TestRegistry_InstallSkipsExisting(t *testing.T) {
	r := NewRegistry()
	original := def("plugin.run")
	original.Description = "original"
	if err := r.Register(original); err != nil {
		t.Fatal(err)
	}

	replacement := def("plugin.run")
	replacement.Description = "replacement"
	installed, err := r.Install(replacement)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if installed {
		t.Error("Install() reported installing over an existing action")
	}
	got, _ := r.Get("plugin.run")
	if got.Description != "original" {
		t.Errorf("Install() replaced the existing definition: %q", got.Description)
	}

	installed, err = r.Install(def("plugin.stop"))
	if err != nil || !installed {
		t.Errorf("Install() new action = %v, %v; want true, nil", installed, err)
	}
}

func TestRegistry_RegisteredDefinitionIsIsolated(t *testing.T) {
	tests := []struct {
		name     string
		register func(*Registry, Definition) error
	}{
		{"Register", func(r *Registry, d Definition) error { return r.Register(d) }},
		{"RegisterMany", func(r *Registry, d Definition) error { return r.RegisterMany([]Definition{d}) }},
		{"Install", func(r *Registry, d Definition) error { _, err := r.Install(d); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			d := def("task.create")
			d.Permissions = []PermissionRule{{Roles: []string{"admin"}, Effect: EffectAllow}}
			d.Before = []BeforeFunc{noop}
			d.SideEffects = []SideEffect{{Type: SideEffectEmitEvent, Config: map[string]any{"eventType": "task.created"}}}
			if err := tt.register(r, d); err != nil {
				t.Fatalf("%s() error = %v", tt.name, err)
			}

			d.Permissions[0].Effect = EffectDeny
			d.Permissions[0].Roles[0] = "guest"
			d.Before[0] = nil
			d.SideEffects[0].Config["eventType"] = "task.hijacked"

			got, _ := r.Get("task.create")
			if rule := got.Permissions[0]; rule.Effect != EffectAllow || rule.Roles[0] != "admin" {
				t.Errorf("registered rule = %+v, want allow for admin", rule)
			}
			if got.Before[0] == nil {
				t.Error("registered before hook was cleared by the caller")
			}
			if et := got.SideEffects[0].Config["eventType"]; et != "task.created" {
				t.Errorf("registered eventType = %v, want task.created", et)
			}

			// Readers get copies too.
			got.Permissions[0].Effect = EffectDeny
			again, _ := r.Get("task.create")
			if again.Permissions[0].Effect != EffectAllow {
				t.Error("mutating a Get() result changed the registry")
			}
		})
	}
}

func TestRegistry_AllAndForEntity(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"task.update", "Task.archive", "contact.create", "task.create", "taskboard.view"} {
		if err := r.Register(def(id)); err != nil {
			t.Fatal(err)
		}
	}

	all := r.All()
	wantAll := []string{"Task.archive", "contact.create", "task.create", "task.update", "taskboard.view"}
	if len(all) != len(wantAll) {
		t.Fatalf("All() returned %d, want %d", len(all), len(wantAll))
	}
	for i, id := range wantAll {
		if all[i].ID != id {
			t.Errorf("All()[%d] = %q, want %q", i, all[i].ID, id)
		}
	}

	tasks := r.ForEntity("TASK")
	wantTasks := []string{"Task.archive", "task.create", "task.update"}
	if len(tasks) != len(wantTasks) {
		t.Fatalf("ForEntity() returned %d, want %d", len(tasks), len(wantTasks))
	}
	for i, id := range wantTasks {
		if tasks[i].ID != id {
			t.Errorf("ForEntity()[%d] = %q, want %q", i, tasks[i].ID, id)
		}
	}

	if got := r.ForEntity("invoice"); len(got) != 0 {
		t.Errorf("ForEntity(invoice) = %d actions, want 0", len(got))
	}
}

func TestRegistry_Clear(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(def("a.b"))
	r.Clear()
	if r.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", r.Len())
	}
	if err := r.Register(def("a.b")); err != nil {
		t.Errorf("Register() after Clear error = %v", err)
	}
}

func TestRegistry_ConcurrentReads(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(def("a.b"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Get("a.b"); !ok {
				t.Error("Get() missed registered action")
			}
			_ = r.All()
		}()
	}
	wg.Wait()
}
