package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/appshell/appshell/internal/domain/audit"
)

// Append inserts records in a single transaction.
func (s *Store) Append(ctx context.Context, records ...audit.AuditRecord) error {
	if s == nil || s.db == nil {
		return errNotConfigured
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO audit_log (
	ts, request_id, trace_id, tenant_id, user_id, caller_type, action_id,
	success, error_type, error, duration_us, input, input_hash
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		success := 0
		if r.Success {
			success = 1
		}
		if _, err := stmt.ExecContext(ctx,
			r.Timestamp.UTC().UnixNano(), r.RequestID, r.TraceID, r.TenantID, r.UserID,
			r.CallerType, r.ActionID, success, r.ErrorType, r.Error, r.DurationMicros,
			r.Input, r.InputHash,
		); err != nil {
			return fmt.Errorf("record audit: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit tx: %w", err)
	}
	return nil
}

// Flush is a no-op; Append commits synchronously.
func (s *Store) Flush(ctx context.Context) error {
	return nil
}

// Query returns records matching filter, newest first.
func (s *Store) Query(ctx context.Context, filter audit.AuditFilter) ([]audit.AuditRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNotConfigured
	}
	filter = filter.Normalize()

	where := []string{"tenant_id = ?"}
	args := []any{filter.TenantID}
	if filter.ActionID != "" {
		where = append(where, "action_id = ?")
		args = append(args, filter.ActionID)
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if !filter.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, filter.Since.UTC().UnixNano())
	}
	if filter.OnlyFailures {
		where = append(where, "success = 0")
	}
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, `
SELECT ts, request_id, trace_id, tenant_id, user_id, caller_type, action_id,
	success, error_type, error, duration_us, input, input_hash
FROM audit_log
WHERE `+strings.Join(where, " AND ")+`
ORDER BY ts DESC, seq DESC
LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	out := make([]audit.AuditRecord, 0)
	for rows.Next() {
		var (
			r       audit.AuditRecord
			ts      int64
			success int
		)
		if err := rows.Scan(&ts, &r.RequestID, &r.TraceID, &r.TenantID, &r.UserID, &r.CallerType,
			&r.ActionID, &success, &r.ErrorType, &r.Error, &r.DurationMicros, &r.Input, &r.InputHash); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		r.Success = success == 1
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return out, nil
}

var (
	_ audit.AuditStore      = (*Store)(nil)
	_ audit.AuditQueryStore = (*Store)(nil)
)
