package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/000haoji/deep-student-sub000/pkg/types"
)

// MemoryStore is an in-memory registry store. It backs tests and
// single-process deployments that configure models statically.
type MemoryStore struct {
	mu     sync.RWMutex
	models map[string]*types.ModelConfig
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{models: make(map[string]*types.ModelConfig)}
}

// Put inserts or replaces a model configuration, enforcing the
// (provider, model name) uniqueness invariant among active configs.
func (s *MemoryStore) Put(cfg types.ModelConfig) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.IsActive {
		for _, existing := range s.models {
			if existing.ID != cfg.ID && existing.IsActive &&
				existing.Provider == cfg.Provider && existing.ModelName == cfg.ModelName {
				return "", ErrDuplicateModel
			}
		}
	}

	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	clone := cfg
	s.models[cfg.ID] = &clone
	return cfg.ID, nil
}

// Deactivate soft-disables a model. Configs are never hard-deleted while
// statistics exist.
func (s *MemoryStore) Deactivate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.models[id]
	if !ok {
		return ErrNotFound
	}
	cfg.IsActive = false
	cfg.UpdatedAt = time.Now().UTC()
	return nil
}

// ListActiveModels returns copies of every active configuration, ordered
// by priority then name for determinism.
func (s *MemoryStore) ListActiveModels(_ context.Context) ([]types.ModelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.ModelConfig, 0, len(s.models))
	for _, cfg := range s.models {
		if cfg.IsActive {
			out = append(out, *cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ModelName < out[j].ModelName
	})
	return out, nil
}

// GetModel returns a copy of one configuration by id.
func (s *MemoryStore) GetModel(_ context.Context, id string) (*types.ModelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.models[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *cfg
	return &clone, nil
}

// UpdateStatistics applies the delta under the store lock, which
// serializes per-model read-modify-write.
func (s *MemoryStore) UpdateStatistics(_ context.Context, id string, delta types.StatsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.models[id]
	if !ok {
		return ErrNotFound
	}
	applyDelta(&cfg.Stats, delta)
	return nil
}
