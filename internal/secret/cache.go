package secret

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// CachedSource decorates a Source with in-memory TTL caching so repeated
// adapter rebuilds do not hammer the backing store.
type CachedSource struct {
	inner Source
	cache *cache.Cache
}

// NewCachedSource wraps inner with the given TTL.
func NewCachedSource(inner Source, ttl time.Duration) *CachedSource {
	return &CachedSource{
		inner: inner,
		cache: cache.New(ttl, 2*ttl),
	}
}

// Get returns a cached value when fresh, otherwise delegates to inner.
func (s *CachedSource) Get(ctx context.Context, path string) (string, error) {
	if val, found := s.cache.Get(path); found {
		if str, ok := val.(string); ok {
			return str, nil
		}
	}

	val, err := s.inner.Get(ctx, path)
	if err != nil {
		return "", err
	}
	s.cache.Set(path, val, cache.DefaultExpiration)
	return val, nil
}

// Close closes the inner source.
func (s *CachedSource) Close() error { return s.inner.Close() }
