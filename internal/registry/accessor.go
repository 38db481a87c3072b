package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/000haoji/deep-student-sub000/pkg/types"
)

const (
	activeModelsKey = "active_models"

	// DefaultCacheTTL bounds how stale the gateway's read-mostly snapshot
	// of the registry may get.
	DefaultCacheTTL = 30 * time.Second
)

// Accessor is the gateway's read path into the registry: a short-TTL
// cached snapshot of the active model list. Statistics writes pass through
// uncached.
type Accessor struct {
	store Store
	cache *cache.Cache
	ttl   time.Duration
}

// NewAccessor wraps a store with snapshot caching. A non-positive ttl
// falls back to DefaultCacheTTL.
func NewAccessor(store Store, ttl time.Duration) *Accessor {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Accessor{
		store: store,
		cache: cache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

// ListActiveModels returns the cached snapshot, refreshing it from the
// store when expired.
func (a *Accessor) ListActiveModels(ctx context.Context) ([]types.ModelConfig, error) {
	if cached, found := a.cache.Get(activeModelsKey); found {
		if models, ok := cached.([]types.ModelConfig); ok {
			return models, nil
		}
	}

	models, err := a.store.ListActiveModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh model snapshot: %w", err)
	}
	a.cache.Set(activeModelsKey, models, cache.DefaultExpiration)
	return models, nil
}

// GetModel bypasses the snapshot and reads one config from the store.
func (a *Accessor) GetModel(ctx context.Context, id string) (*types.ModelConfig, error) {
	return a.store.GetModel(ctx, id)
}

// UpdateStatistics passes the delta straight through to the store. The
// cached snapshot is deliberately left alone: statistics staleness within
// one TTL does not affect routing decisions.
func (a *Accessor) UpdateStatistics(ctx context.Context, id string, delta types.StatsDelta) error {
	return a.store.UpdateStatistics(ctx, id, delta)
}

// Invalidate drops the snapshot so the next read refetches. Called after
// out-of-band registry changes.
func (a *Accessor) Invalidate() {
	a.cache.Delete(activeModelsKey)
}
