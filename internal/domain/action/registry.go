package action

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Registry is the catalog of action definitions keyed by ID. It is written at
// bootstrap (and during explicit hot installs) and read on every dispatch.
// Create one per process, or one per test for isolation.
//
// Definitions are copied on the way in and out, so neither the registering
// code nor a reader can change a registered definition.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds def. Registering an ID that already exists is an error:
// a second registration must never silently shadow the first handler.
func (r *Registry) Register(def Definition) error {
	if err := checkDefinition(def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAction, def.ID)
	}
	r.defs[def.ID] = cloneDefinition(def)
	return nil
}

// RegisterMany adds every definition or none of them. The batch is checked as
// a whole (including duplicates within the batch) before anything is inserted,
// and the first failure is returned.
func (r *Registry) RegisterMany(defs []Definition) error {
	seen := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		if err := checkDefinition(def); err != nil {
			return err
		}
		if _, dup := seen[def.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateAction, def.ID)
		}
		seen[def.ID] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, def := range defs {
		if _, exists := r.defs[def.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateAction, def.ID)
		}
	}
	for _, def := range defs {
		r.defs[def.ID] = cloneDefinition(def)
	}
	return nil
}

// Install adds def as part of a hot install. Unlike Register, an existing ID
// is skipped rather than rejected so installs can be re-run; installed reports
// whether def was added.
func (r *Registry) Install(def Definition) (installed bool, err error) {
	if err := checkDefinition(def); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.ID]; exists {
		return false, nil
	}
	r.defs[def.ID] = cloneDefinition(def)
	return true, nil
}

// Get returns the definition registered under id.
func (r *Registry) Get(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	if !ok {
		return Definition{}, false
	}
	return cloneDefinition(def), true
}

// All returns every definition sorted by ID.
func (r *Registry) All() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, cloneDefinition(def))
	}
	sortByID(out)
	return out
}

// ForEntity returns the definitions whose entity segment (before the first
// dot) equals entity, compared case-insensitively, sorted by ID.
func (r *Registry) ForEntity(entity string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Definition
	for id, def := range r.defs {
		if strings.EqualFold(EntityOf(id), entity) {
			out = append(out, cloneDefinition(def))
		}
	}
	sortByID(out)
	return out
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// Clear removes every definition.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs = make(map[string]Definition)
}

func checkDefinition(def Definition) error {
	if strings.TrimSpace(def.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDefinition)
	}
	if def.Handler == nil {
		return fmt.Errorf("%w: %s has no handler", ErrInvalidDefinition, def.ID)
	}
	return nil
}

func cloneDefinition(def Definition) Definition {
	if def.Permissions != nil {
		rules := make([]PermissionRule, len(def.Permissions))
		for i, rule := range def.Permissions {
			rule.CallerTypes = slices.Clone(rule.CallerTypes)
			rule.Roles = slices.Clone(rule.Roles)
			rules[i] = rule
		}
		def.Permissions = rules
	}
	def.Before = slices.Clone(def.Before)
	def.After = slices.Clone(def.After)
	if def.SideEffects != nil {
		effects := make([]SideEffect, len(def.SideEffects))
		for i, se := range def.SideEffects {
			se.Config = maps.Clone(se.Config)
			effects[i] = se
		}
		def.SideEffects = effects
	}
	return def
}

func sortByID(defs []Definition) {
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
}
