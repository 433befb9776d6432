// Package builtin provides the actions every appshell process registers at
// bootstrap: system introspection and a sample note entity on the record store.
package builtin

import (
	"context"
	"fmt"

	"github.com/appshell/appshell/internal/domain/action"
	"github.com/appshell/appshell/internal/domain/audit"
	"github.com/appshell/appshell/internal/domain/auth"
	"github.com/appshell/appshell/internal/domain/schema"
)

// PingOutput is returned by system.ping.
type PingOutput struct {
	Pong     bool   `json:"pong"`
	TenantID string `json:"tenantId"`
}

// ListActionsInput filters system.actions.list.
type ListActionsInput struct {
	Entity string `json:"entity,omitempty" validate:"omitempty,max=64" jsonschema:"only list actions of this entity"`
}

// ActionSummary describes a registered action.
type ActionSummary struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name,omitempty" yaml:"name,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Entity      string   `json:"entity" yaml:"entity"`
	Idempotent  bool     `json:"idempotent" yaml:"idempotent"`
	SideEffects []string `json:"sideEffects,omitempty" yaml:"sideEffects,omitempty"`
}

// ListAuditInput filters system.audit.list. The tenant is always the caller's.
type ListAuditInput struct {
	ActionID     string `json:"actionId,omitempty"`
	UserID       string `json:"userId,omitempty"`
	OnlyFailures bool   `json:"onlyFailures,omitempty"`
	Limit        int    `json:"limit,omitempty" validate:"omitempty,min=1,max=500" jsonschema:"maximum records to return"`
}

// Summarize describes defs in registry order.
func Summarize(defs []action.Definition) []ActionSummary {
	out := make([]ActionSummary, 0, len(defs))
	for _, def := range defs {
		s := ActionSummary{
			ID:          def.ID,
			Name:        def.Name,
			Description: def.Description,
			Entity:      def.Entity(),
			Idempotent:  def.Idempotent,
		}
		for _, se := range def.SideEffects {
			s.SideEffects = append(s.SideEffects, string(se.Type))
		}
		out = append(out, s)
	}
	return out
}

// System returns the system.* actions. system.audit.list is only included
// when auditQuery is non-nil.
func System(registry *action.Registry, auditQuery audit.AuditQueryStore) []action.Definition {
	defs := []action.Definition{
		{
			ID:          "system.ping",
			Name:        "Ping",
			Description: "Checks that the dispatch pipeline is reachable.",
			Permissions: []action.PermissionRule{{Effect: action.EffectAllow}},
			Idempotent:  true,
			Handler: func(_ context.Context, _ any, actx *action.Context) (any, error) {
				return PingOutput{Pong: true, TenantID: actx.Caller.TenantID}, nil
			},
		},
		{
			ID:          "system.actions.list",
			Name:        "List actions",
			Description: "Lists registered actions, optionally for one entity.",
			InputSchema: schema.Struct[ListActionsInput](),
			Permissions: []action.PermissionRule{{
				CallerTypes: []action.CallerType{action.CallerHuman, action.CallerSystem},
				Effect:      action.EffectAllow,
			}},
			Idempotent: true,
			Handler: action.Typed(func(_ context.Context, in ListActionsInput, _ *action.Context) ([]ActionSummary, error) {
				if in.Entity != "" {
					return Summarize(registry.ForEntity(in.Entity)), nil
				}
				return Summarize(registry.All()), nil
			}),
		},
	}

	if auditQuery != nil {
		defs = append(defs, action.Definition{
			ID:          "system.audit.list",
			Name:        "List audit records",
			Description: "Returns recent dispatch audit records for the caller's tenant.",
			InputSchema: schema.Struct[ListAuditInput](),
			Permissions: []action.PermissionRule{{Roles: []string{auth.RoleAdmin}, Effect: action.EffectAllow}},
			Idempotent:  true,
			Handler: action.Typed(func(ctx context.Context, in ListAuditInput, actx *action.Context) ([]audit.AuditRecord, error) {
				records, err := auditQuery.Query(ctx, audit.AuditFilter{
					TenantID:     actx.Caller.TenantID,
					ActionID:     in.ActionID,
					UserID:       in.UserID,
					OnlyFailures: in.OnlyFailures,
					Limit:        in.Limit,
				})
				if err != nil {
					return nil, fmt.Errorf("query audit: %w", err)
				}
				return records, nil
			}),
		})
	}
	return defs
}

// All returns every builtin action.
func All(registry *action.Registry, auditQuery audit.AuditQueryStore) []action.Definition {
	return append(System(registry, auditQuery), Notes()...)
}
