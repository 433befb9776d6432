package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/appshell/appshell/internal/domain/record"
)

// ForTenant returns a record handle whose every query is constrained to tenantID.
func (s *Store) ForTenant(tenantID string) (record.Store, error) {
	if s == nil || s.db == nil {
		return nil, errNotConfigured
	}
	if tenantID == "" {
		return nil, record.ErrTenantRequired
	}
	return &tenantRecords{db: s.db, tenant: tenantID, now: s.now}, nil
}

type tenantRecords struct {
	db     *sql.DB
	tenant string
	now    func() time.Time
}

func (t *tenantRecords) TenantID() string { return t.tenant }

func (t *tenantRecords) Get(ctx context.Context, collection, id string) (*record.Record, error) {
	row := t.db.QueryRowContext(ctx, `
SELECT collection, id, data, created_at, updated_at
FROM records
WHERE tenant_id = ? AND collection = ? AND id = ?`,
		t.tenant, collection, id,
	)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, record.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return r, nil
}

func (t *tenantRecords) List(ctx context.Context, collection string) ([]record.Record, error) {
	rows, err := t.db.QueryContext(ctx, `
SELECT collection, id, data, created_at, updated_at
FROM records
WHERE tenant_id = ? AND collection = ?
ORDER BY created_at, id`,
		t.tenant, collection,
	)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	out := make([]record.Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func (t *tenantRecords) Put(ctx context.Context, r *record.Record) error {
	data, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Errorf("encode record data: %w", err)
	}
	now := t.now()
	created := r.CreatedAt
	if created.IsZero() {
		created = now
	}

	// On conflict only data and updated_at change, so created_at is preserved.
	_, err = t.db.ExecContext(ctx, `
INSERT INTO records (tenant_id, collection, id, data, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (tenant_id, collection, id)
DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		t.tenant, r.Collection, r.ID, string(data), created.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("put record: %w", err)
	}

	var createdNanos int64
	if err := t.db.QueryRowContext(ctx,
		`SELECT created_at FROM records WHERE tenant_id = ? AND collection = ? AND id = ?`,
		t.tenant, r.Collection, r.ID,
	).Scan(&createdNanos); err != nil {
		return fmt.Errorf("read back record: %w", err)
	}
	r.CreatedAt = time.Unix(0, createdNanos).UTC()
	r.UpdatedAt = now
	return nil
}

func (t *tenantRecords) Delete(ctx context.Context, collection, id string) error {
	res, err := t.db.ExecContext(ctx,
		`DELETE FROM records WHERE tenant_id = ? AND collection = ? AND id = ?`,
		t.tenant, collection, id,
	)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if n == 0 {
		return record.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*record.Record, error) {
	var (
		r                record.Record
		data             string
		created, updated int64
	)
	if err := row.Scan(&r.Collection, &r.ID, &data, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &r.Data); err != nil {
		return nil, fmt.Errorf("decode record data: %w", err)
	}
	r.CreatedAt = time.Unix(0, created).UTC()
	r.UpdatedAt = time.Unix(0, updated).UTC()
	return &r, nil
}

var _ record.Provider = (*Store)(nil)
