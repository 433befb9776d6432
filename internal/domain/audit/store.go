package audit

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for audit store operations.
var (
	// ErrStoreClosed is returned when appending to a closed store.
	ErrStoreClosed = errors.New("audit store closed")
)

// AuditStore persists audit records.
// Interface owned by domain per hexagonal architecture.
type AuditStore interface {
	// Append stores audit records.
	Append(ctx context.Context, records ...AuditRecord) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// AuditFilter specifies query parameters for audit queries.
type AuditFilter struct {
	// TenantID restricts results to one tenant (required).
	TenantID string
	// ActionID filters by action (optional).
	ActionID string
	// UserID filters by caller (optional).
	UserID string
	// Since excludes records older than this time (optional).
	Since time.Time
	// OnlyFailures keeps failed dispatches only.
	OnlyFailures bool
	// Limit is the maximum number of records to return (default 50, max 500).
	Limit int
}

// Normalize applies the default and maximum limit.
func (f AuditFilter) Normalize() AuditFilter {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	return f
}

// Matches reports whether r satisfies the filter.
func (f AuditFilter) Matches(r AuditRecord) bool {
	if r.TenantID != f.TenantID {
		return false
	}
	if f.ActionID != "" && r.ActionID != f.ActionID {
		return false
	}
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if f.OnlyFailures && r.Success {
		return false
	}
	return true
}

// AuditQueryStore provides read access to the audit trail, newest first.
type AuditQueryStore interface {
	Query(ctx context.Context, filter AuditFilter) ([]AuditRecord, error)
}
