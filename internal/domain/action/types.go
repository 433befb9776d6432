// Package action defines the action model: a named, schema-validated,
// permissioned unit of business logic addressed by a dot-namespaced
// identifier (e.g. "task.create"). Every operation, regardless of what
// triggered it (CLI, AI agent, another action's side effect), is described
// by a Definition and executed through the dispatch pipeline.
package action

import (
	"context"
	"strings"

	"github.com/appshell/appshell/internal/domain/schema"
)

// CallerType categorizes who is invoking an action.
type CallerType string

const (
	// CallerHuman is an interactive user.
	CallerHuman CallerType = "human"
	// CallerSystem is an internal process (scheduler, bootstrap, another action).
	CallerSystem CallerType = "system"
	// CallerAIAgent is an AI agent acting on behalf of a user.
	CallerAIAgent CallerType = "ai-agent"
)

// IsValid returns true if the caller type is a known value.
func (t CallerType) IsValid() bool {
	switch t {
	case CallerHuman, CallerSystem, CallerAIAgent:
		return true
	default:
		return false
	}
}

// String returns the string representation of the CallerType.
func (t CallerType) String() string {
	return string(t)
}

// Caller is the identity invoking an action, already resolved by an
// authentication collaborator. The pipeline only authorizes it.
type Caller struct {
	// UserID identifies the user (or service account) behind the call.
	UserID string `json:"userId"`
	// TenantID is the isolation boundary every data access is scoped to.
	TenantID string `json:"tenantId"`
	// Roles are the roles held by the caller within the tenant.
	Roles []string `json:"roles"`
	// Type categorizes the caller.
	Type CallerType `json:"type"`
}

// HasAnyRole returns true if the caller holds at least one of roles.
func (c Caller) HasAnyRole(roles []string) bool {
	for _, want := range roles {
		for _, have := range c.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// SideEffectType names the kind of post-success processing a side effect performs.
type SideEffectType string

const (
	// SideEffectEmitEvent publishes a domain event (Config["eventType"]).
	SideEffectEmitEvent SideEffectType = "emit_event"
	// SideEffectNotify requests a notification for the caller.
	SideEffectNotify SideEffectType = "notify"
	// SideEffectWebhook triggers webhook delivery to subscribed endpoints.
	SideEffectWebhook SideEffectType = "webhook"
)

// SideEffect is declarative best-effort work attached to a Definition.
// It is processed only after the action succeeded and can never change
// the action's result.
type SideEffect struct {
	// Type selects the processor.
	Type SideEffectType
	// Config holds type-specific settings (e.g. "eventType" for emit_event).
	Config map[string]any
	// When is an optional CEL expression over input, output and caller.
	// The side effect is skipped unless it evaluates to true.
	When string
}

// Handler executes an action with its validated (and possibly transformed) input.
type Handler func(ctx context.Context, input any, actx *Context) (any, error)

// BeforeFunc runs before the handler. It may transform the input or return
// an error to abort the dispatch before the handler runs.
type BeforeFunc func(ctx context.Context, input any, actx *Context) (any, error)

// AfterFunc runs after the handler and may transform its output.
type AfterFunc func(ctx context.Context, output any, actx *Context) (any, error)

// Definition describes a registered action. It is immutable once registered.
type Definition struct {
	// ID is the globally unique, dot-namespaced identifier (e.g. "task.create").
	ID string
	// Name is a short human-readable name.
	Name string
	// Description explains what the action does.
	Description string
	// InputSchema validates and parses raw input. Nil accepts anything.
	InputSchema schema.Schema
	// OutputSchema documents the handler output. It is not enforced.
	OutputSchema schema.Schema
	// Permissions are evaluated first-match-wins; no match denies.
	Permissions []PermissionRule
	// Idempotent marks actions that are safe to retry.
	Idempotent bool
	// Before is an ordered chain of input transforms run before the handler.
	Before []BeforeFunc
	// After is an ordered chain of output transforms run after the handler.
	After []AfterFunc
	// SideEffects are processed after a successful execution.
	SideEffects []SideEffect
	// Handler executes the action.
	Handler Handler
}

// Entity returns the entity segment of the action ID (the part before the first dot).
func (d *Definition) Entity() string {
	return EntityOf(d.ID)
}

// EntityOf returns the segment of id before the first dot.
func EntityOf(id string) string {
	if i := strings.IndexByte(id, '.'); i >= 0 {
		return id[:i]
	}
	return id
}
