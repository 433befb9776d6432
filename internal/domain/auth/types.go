// Package auth resolves API keys into the callers the dispatch pipeline
// authorizes. Authentication happens here; authorization is the action
// package's job.
package auth

import (
	"time"

	"github.com/appshell/appshell/internal/domain/action"
)

// Well-known roles used by the builtin actions.
const (
	// RoleAdmin may read the audit trail and delete any record.
	RoleAdmin = "admin"
	// RoleMember is the default role for tenant users.
	RoleMember = "member"
)

// Identity is an authenticated principal within one tenant.
type Identity struct {
	// ID is the unique identifier for this identity.
	ID string
	// Name is the display name for this identity.
	Name string
	// TenantID is the tenant this identity belongs to.
	TenantID string
	// Type categorizes the principal. Empty is treated as human.
	Type action.CallerType
	// Roles are the roles held within the tenant.
	Roles []string
}

// Caller converts the identity into the caller the pipeline authorizes.
func (i *Identity) Caller() action.Caller {
	t := i.Type
	if t == "" {
		t = action.CallerHuman
	}
	roles := make([]string, len(i.Roles))
	copy(roles, i.Roles)
	return action.Caller{
		UserID:   i.ID,
		TenantID: i.TenantID,
		Roles:    roles,
		Type:     t,
	}
}

// APIKey represents an API key for authentication.
type APIKey struct {
	// Key is the hashed key value (SHA-256 hex or Argon2id PHC format).
	Key string
	// IdentityID maps this key to an Identity.
	IdentityID string
	// Name is a human-readable label for this key.
	Name string
	// CreatedAt is when the key was created (UTC).
	CreatedAt time.Time
	// ExpiresAt is when the key expires (nil = never expires).
	ExpiresAt *time.Time
	// Revoked indicates if the key has been revoked.
	Revoked bool
}

// IsExpired returns true if the API key has expired.
// A key with nil ExpiresAt never expires.
func (k *APIKey) IsExpired() bool {
	if k.ExpiresAt == nil {
		return false
	}
	return time.Now().UTC().After(*k.ExpiresAt)
}
