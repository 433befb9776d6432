// Package record defines the tenant-scoped data handle handed to action code.
// Storage itself is a collaborator; this package only fixes the contract.
package record

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for record stores.
var (
	// ErrNotFound is returned when a record does not exist in the tenant.
	ErrNotFound = errors.New("record not found")
	// ErrTenantRequired is returned when a scoped store is requested without a tenant.
	ErrTenantRequired = errors.New("tenant id is required")
)

// Record is a schemaless document stored in a collection.
type Record struct {
	// Collection groups records of one entity (e.g. "notes").
	Collection string `json:"collection"`
	// ID identifies the record within its collection.
	ID string `json:"id"`
	// Data is the record body.
	Data map[string]any `json:"data"`
	// CreatedAt is when the record was first stored (UTC).
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is when the record was last stored (UTC).
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is a data handle bound to exactly one tenant. Every read and write
// is confined to that tenant.
type Store interface {
	// TenantID returns the tenant this handle is bound to.
	TenantID() string
	// Get returns a record or ErrNotFound.
	Get(ctx context.Context, collection, id string) (*Record, error)
	// List returns every record in collection ordered by creation time.
	List(ctx context.Context, collection string) ([]Record, error)
	// Put creates or replaces a record. CreatedAt is preserved on replace.
	Put(ctx context.Context, r *Record) error
	// Delete removes a record or returns ErrNotFound.
	Delete(ctx context.Context, collection, id string) error
}

// Provider hands out tenant-scoped stores. Callers must request a new store
// for every dispatch and never reuse one across tenants.
type Provider interface {
	ForTenant(tenantID string) (Store, error)
}
