package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderFactory builds a provider bound to one model id.
type ProviderFactory func(ctx context.Context, model string) (Provider, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func (r *Registry) Register(name string, f ProviderFactory) {
	name = normalize(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(ctx context.Context, name string, model string) (Provider, error) {
	name = normalize(name)
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s", name)
	}
	return f(ctx, model)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Endpoints configures the built-in providers.
type Endpoints struct {
	RedPillEndpoint string
	RedPillAPIKey   string
	OllamaBaseURL   string
}

// DefaultRegistry registers "redpill" and "ollama". Both processes that run
// completions build their registry here so they route the same way.
func DefaultRegistry(e Endpoints) *Registry {
	reg := NewRegistry()
	reg.Register("redpill", func(_ context.Context, model string) (Provider, error) {
		return NewRedPillProvider(e.RedPillEndpoint, e.RedPillAPIKey, model), nil
	})
	reg.Register("ollama", func(_ context.Context, model string) (Provider, error) {
		return NewOllamaProvider(e.OllamaBaseURL, model), nil
	})
	return reg
}
