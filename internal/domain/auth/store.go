package auth

import (
	"context"
	"errors"
)

// Sentinel errors for auth store lookups.
var (
	// ErrKeyNotFound is returned when no key has the given hash.
	ErrKeyNotFound = errors.New("api key not found")
	// ErrIdentityNotFound is returned when a key points at a missing identity.
	ErrIdentityNotFound = errors.New("identity not found")
)

// AuthStore provides credential lookup for authentication.
// Implementations: in-memory (config-seeded).
type AuthStore interface {
	// GetAPIKey retrieves an API key by its SHA-256 hash.
	// Returns ErrKeyNotFound if the key doesn't exist.
	GetAPIKey(ctx context.Context, keyHash string) (*APIKey, error)

	// GetIdentity retrieves an identity by ID.
	// Returns ErrIdentityNotFound if the identity doesn't exist.
	GetIdentity(ctx context.Context, id string) (*Identity, error)

	// ListAPIKeys returns all stored API keys for iteration-based verification.
	ListAPIKeys(ctx context.Context) ([]*APIKey, error)
}
