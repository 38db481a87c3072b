// Package secret resolves credential references found in model
// configurations. A reference is a URI-style string such as
// "env://OPENAI_API_KEY" or "vault://secret/data/openai#api_key"; anything
// without a scheme is treated as the literal secret value.
//
// Resolution happens at adapter construction time, never per call, and
// resolved values are never logged.
package secret

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Source retrieves a secret value for a scheme-local path.
type Source interface {
	Get(ctx context.Context, path string) (string, error)
	Close() error
}

// Resolver routes secret references to registered sources by scheme.
type Resolver struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewResolver creates a resolver with the env source pre-registered.
func NewResolver() *Resolver {
	r := &Resolver{sources: make(map[string]Source)}
	r.Register("env", EnvSource{})
	return r
}

// Register installs a source for a scheme, replacing any previous one.
func (r *Resolver) Register(scheme string, src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[scheme] = src
}

// Resolve dereferences a credential reference. References without a
// scheme are returned as-is (static secrets).
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	scheme, path, ok := strings.Cut(ref, "://")
	if !ok {
		return ref, nil
	}

	r.mu.RLock()
	src, found := r.sources[scheme]
	r.mu.RUnlock()
	if !found {
		return "", fmt.Errorf("no secret source registered for scheme %q", scheme)
	}
	return src.Get(ctx, path)
}

// Close closes every registered source.
func (r *Resolver) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []string
	for scheme, src := range r.sources {
		if err := src.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", scheme, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close secret sources: %s", strings.Join(errs, "; "))
	}
	return nil
}
