// Package providers is the closed registry of adapter factories. Dispatch
// over provider kinds happens here once, at adapter construction time, not
// per call.
package providers

import (
	"fmt"
	"sync"

	"github.com/000haoji/deep-student-sub000/pkg/provider"
	"github.com/000haoji/deep-student-sub000/pkg/types"
	"github.com/000haoji/deep-student-sub000/providers/deepseek"
	"github.com/000haoji/deep-student-sub000/providers/gemini"
	"github.com/000haoji/deep-student-sub000/providers/openai"
)

var (
	registryMu sync.RWMutex
	registry   = map[types.ProviderKind]provider.Factory{
		types.ProviderOpenAI:   openai.NewFromConfig,
		types.ProviderGemini:   gemini.NewFromConfig,
		types.ProviderDeepSeek: deepseek.NewFromConfig,
	}
)

// Register installs a factory for a provider kind, replacing any existing
// one. Intended for tests and for OpenAI-compatible backends that only
// need a different base URL.
func Register(kind types.ProviderKind, factory provider.Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = factory
}

// Create builds an adapter for the given resolved configuration.
func Create(cfg provider.Config) (provider.Adapter, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Provider]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider kind: %s (available: %v)", cfg.Provider, List())
	}
	return factory(cfg)
}

// List returns the registered provider kinds.
func List() []types.ProviderKind {
	registryMu.RLock()
	defer registryMu.RUnlock()

	kinds := make([]types.ProviderKind, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	return kinds
}
