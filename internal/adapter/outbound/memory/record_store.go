package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/appshell/appshell/internal/domain/record"
)

// RecordStore keeps records in memory, partitioned by tenant.
// It implements record.Provider; the handles it returns only see one tenant.
type RecordStore struct {
	mu   sync.RWMutex
	data map[string]map[string]map[string]record.Record // tenant -> collection -> id
	now  func() time.Time
}

// NewRecordStore creates an empty in-memory record store.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		data: make(map[string]map[string]map[string]record.Record),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// ForTenant returns a handle confined to tenantID.
func (s *RecordStore) ForTenant(tenantID string) (record.Store, error) {
	if tenantID == "" {
		return nil, record.ErrTenantRequired
	}
	return &tenantRecords{parent: s, tenant: tenantID}, nil
}

type tenantRecords struct {
	parent *RecordStore
	tenant string
}

func (t *tenantRecords) TenantID() string { return t.tenant }

func (t *tenantRecords) Get(ctx context.Context, collection, id string) (*record.Record, error) {
	s := t.parent
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.data[t.tenant][collection][id]
	if !ok {
		return nil, record.ErrNotFound
	}
	r = cloneRecord(r)
	return &r, nil
}

func (t *tenantRecords) List(ctx context.Context, collection string) ([]record.Record, error) {
	s := t.parent
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll := s.data[t.tenant][collection]
	out := make([]record.Record, 0, len(coll))
	for _, r := range coll {
		out = append(out, cloneRecord(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *tenantRecords) Put(ctx context.Context, r *record.Record) error {
	s := t.parent
	s.mu.Lock()
	defer s.mu.Unlock()

	colls, ok := s.data[t.tenant]
	if !ok {
		colls = make(map[string]map[string]record.Record)
		s.data[t.tenant] = colls
	}
	coll, ok := colls[r.Collection]
	if !ok {
		coll = make(map[string]record.Record)
		colls[r.Collection] = coll
	}

	now := s.now()
	if existing, ok := coll[r.ID]; ok {
		r.CreatedAt = existing.CreatedAt
	} else if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	coll[r.ID] = cloneRecord(*r)
	return nil
}

func (t *tenantRecords) Delete(ctx context.Context, collection, id string) error {
	s := t.parent
	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.data[t.tenant][collection]
	if _, ok := coll[id]; !ok {
		return record.ErrNotFound
	}
	delete(coll, id)
	return nil
}

func cloneRecord(r record.Record) record.Record {
	r.Data = maps.Clone(r.Data)
	return r
}

var _ record.Provider = (*RecordStore)(nil)
