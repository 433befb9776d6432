package action

// Effect is the outcome a permission rule produces when it matches.
type Effect string

const (
	// EffectAllow permits the action.
	EffectAllow Effect = "allow"
	// EffectDeny blocks the action.
	EffectDeny Effect = "deny"
)

// PermissionRule is an ordered allow/deny clause matched against the caller.
// An empty CallerTypes or Roles list matches any caller type or role set.
type PermissionRule struct {
	// CallerTypes restricts the rule to these caller types.
	CallerTypes []CallerType `json:"callerTypes,omitempty" yaml:"callerTypes,omitempty"`
	// Roles restricts the rule to callers holding at least one of these roles.
	Roles []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	// Effect is returned when the rule matches.
	Effect Effect `json:"effect" yaml:"effect"`
}

// Matches returns true if both the caller type and role constraints accept caller.
func (r PermissionRule) Matches(caller Caller) bool {
	if len(r.CallerTypes) > 0 {
		found := false
		for _, t := range r.CallerTypes {
			if t == caller.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(r.Roles) > 0 && !caller.HasAnyRole(r.Roles) {
		return false
	}
	return true
}

// Decision is the result of evaluating permission rules for a caller.
type Decision struct {
	// Effect is the decided outcome.
	Effect Effect
	// Rule is the index of the rule that decided, or -1 for the default deny.
	Rule int
}

// Allowed returns true if the decision permits the action.
func (d Decision) Allowed() bool {
	return d.Effect == EffectAllow
}

// Authorize evaluates rules in declaration order. The first rule that matches
// the caller decides; later rules are never consulted. Rule order is part of
// the contract: a deny placed before a broader allow blocks everyone it matches.
// With no matching rule the caller is denied.
func Authorize(caller Caller, rules []PermissionRule) Decision {
	for i, rule := range rules {
		if rule.Matches(caller) {
			return Decision{Effect: rule.Effect, Rule: i}
		}
	}
	return Decision{Effect: EffectDeny, Rule: -1}
}

// AllowAll is a rule list that permits every caller.
func AllowAll() []PermissionRule {
	return []PermissionRule{{Effect: EffectAllow}}
}

// AllowRoles is a rule list that permits callers holding any of roles.
func AllowRoles(roles ...string) []PermissionRule {
	return []PermissionRule{{Roles: roles, Effect: EffectAllow}}
}
