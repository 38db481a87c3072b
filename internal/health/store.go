// Package health tracks per-model availability. Probes run in the
// background; the request path only ever reads cached status.
package health

import (
	"context"
	"sync"
	"time"
)

// Status is the cached probe outcome for one model key.
type Status struct {
	Healthy     bool      `json:"healthy"`
	Message     string    `json:"message,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// Fresh reports whether the entry is still inside the TTL window.
func (s Status) Fresh(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.LastChecked) < ttl
}

// Store holds probe outcomes. Implementations must be safe for concurrent
// use; Snapshot returns a point-in-time copy so selection never holds a
// lock while iterating.
type Store interface {
	Get(ctx context.Context, key string) (Status, bool, error)
	Set(ctx context.Context, key string, status Status) error
	Snapshot(ctx context.Context) (map[string]Status, error)
}

// MemoryStore is the default single-process status store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Status
}

// NewMemoryStore creates an empty status store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Status)}
}

// Get returns the cached status for a key.
func (s *MemoryStore) Get(_ context.Context, key string) (Status, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.entries[key]
	return status, ok, nil
}

// Set records a probe outcome.
func (s *MemoryStore) Set(_ context.Context, key string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = status
	return nil
}

// Snapshot copies the full map.
func (s *MemoryStore) Snapshot(_ context.Context) (map[string]Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Status, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out, nil
}
