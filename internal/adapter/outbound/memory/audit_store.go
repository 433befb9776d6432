package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/appshell/appshell/internal/domain/audit"
)

const defaultRecentCap = 1000

// MemoryAuditStore implements audit.AuditStore by writing JSON lines to a
// writer (stdout by default). It also keeps a bounded ring buffer of recent
// records so the audit trail can be queried without a database.
type MemoryAuditStore struct {
	encoder *json.Encoder
	writer  io.Writer
	mu      sync.Mutex
	recent  []audit.AuditRecord
	cap     int
}

func resolveCapacity(capacity ...int) int {
	if len(capacity) > 0 && capacity[0] > 0 {
		return capacity[0]
	}
	return defaultRecentCap
}

// NewAuditStore creates a new audit store writing to stdout.
// An optional capacity parameter sets the ring buffer size (default 1000).
func NewAuditStore(capacity ...int) *MemoryAuditStore {
	return NewAuditStoreWithWriter(os.Stdout, capacity...)
}

// NewAuditStoreWithWriter creates an audit store writing to w. A nil w keeps
// records in the ring buffer only.
func NewAuditStoreWithWriter(w io.Writer, capacity ...int) *MemoryAuditStore {
	if w == nil {
		w = io.Discard
	}
	c := resolveCapacity(capacity...)
	return &MemoryAuditStore{
		encoder: json.NewEncoder(w),
		writer:  w,
		recent:  make([]audit.AuditRecord, 0, c),
		cap:     c,
	}
}

// Append writes records as JSON lines and keeps them in the ring buffer.
func (s *MemoryAuditStore) Append(ctx context.Context, records ...audit.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if err := s.encoder.Encode(r); err != nil {
			return err
		}
		if len(s.recent) >= s.cap {
			copy(s.recent, s.recent[1:])
			s.recent[len(s.recent)-1] = r
		} else {
			s.recent = append(s.recent, r)
		}
	}
	return nil
}

// Flush is a no-op; records are written synchronously.
func (s *MemoryAuditStore) Flush(ctx context.Context) error {
	return nil
}

// Close closes the writer if it is a file other than stdout/stderr.
func (s *MemoryAuditStore) Close() error {
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}

// Query returns records matching filter from the ring buffer, newest first.
func (s *MemoryAuditStore) Query(ctx context.Context, filter audit.AuditFilter) ([]audit.AuditRecord, error) {
	filter = filter.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	var result []audit.AuditRecord
	for i := len(s.recent) - 1; i >= 0 && len(result) < filter.Limit; i-- {
		if filter.Matches(s.recent[i]) {
			result = append(result, s.recent[i])
		}
	}
	return result, nil
}

// Compile-time interface verification.
var (
	_ audit.AuditStore      = (*MemoryAuditStore)(nil)
	_ audit.AuditQueryStore = (*MemoryAuditStore)(nil)
)
