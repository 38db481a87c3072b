// Package calllog persists the audit trail: one terminal entry per
// logical request, regardless of how many failover attempts it took.
package calllog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/000haoji/deep-student-sub000/pkg/types"
)

// ErrNotFound is returned when an entry id does not exist.
var ErrNotFound = errors.New("calllog: entry not found")

// Query filters List results. Zero values mean "no filter".
type Query struct {
	ModelID  string
	TaskType types.TaskType
	Status   types.CallStatus
	Since    time.Time
	Limit    int
}

// Store is the call log persistence surface.
type Store interface {
	// Append writes one terminal entry. Entries are immutable once written.
	Append(ctx context.Context, entry *types.CallLogEntry) error
	// List returns entries matching the query, newest first.
	List(ctx context.Context, q Query) ([]types.CallLogEntry, error)
}

// MemoryStore keeps entries in memory. Used in tests and in deployments
// that run without a database.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []types.CallLogEntry
	// cap bounds memory; oldest entries are dropped past it.
	cap int
}

// NewMemoryStore creates an in-memory call log bounded to maxEntries
// (0 means unbounded).
func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{cap: maxEntries}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, entry *types.CallLogEntry) error {
	if entry == nil {
		return errors.New("calllog: nil entry")
	}
	e := *entry
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	if s.cap > 0 && len(s.entries) > s.cap {
		s.entries = s.entries[len(s.entries)-s.cap:]
	}
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, q Query) ([]types.CallLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.CallLogEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if q.ModelID != "" && e.ModelID != q.ModelID {
			continue
		}
		if q.TaskType != "" && e.TaskType != q.TaskType {
			continue
		}
		if q.Status != "" && e.Status != q.Status {
			continue
		}
		if !q.Since.IsZero() && e.CreatedAt.Before(q.Since) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}
