// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tomtom215/crmsync/internal/models"
)

// Factory builds the Provider for one provider type.
type Factory func() Provider

// Decorator wraps a Provider, for example with a circuit breaker.
type Decorator func(Provider) Provider

// Registry is the capability table mapping provider types to their
// implementation. Providers are built lazily on first Resolve and reused,
// so decorator state such as breakers survives across runs.
type Registry struct {
	mu         sync.RWMutex
	factories  map[models.ProviderType]Factory
	instances  map[models.ProviderType]Provider
	decorators []Decorator
}

// NewRegistry returns an empty registry. Decorators are applied to every
// provider it resolves, innermost first.
func NewRegistry(decorators ...Decorator) *Registry {
	return &Registry{
		factories:  make(map[models.ProviderType]Factory),
		instances:  make(map[models.ProviderType]Provider),
		decorators: decorators,
	}
}

// Register adds or replaces the factory for a provider type. Empty types
// and nil factories are ignored.
func (r *Registry) Register(t models.ProviderType, factory Factory) {
	t = normalizeType(t)
	if t == "" || factory == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[t] = factory
	delete(r.instances, t)
}

// IsSupported reports whether t has a registered implementation.
func (r *Registry) IsSupported(t models.ProviderType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[normalizeType(t)]
	return ok
}

// Resolve returns the provider for t, or ErrProviderNotSupported.
func (r *Registry) Resolve(t models.ProviderType) (Provider, error) {
	t = normalizeType(t)

	r.mu.RLock()
	p, ok := r.instances[t]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.instances[t]; ok {
		return p, nil
	}
	factory, ok := r.factories[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotSupported, t)
	}
	p = factory()
	for _, d := range r.decorators {
		p = d(p)
	}
	r.instances[t] = p
	return p, nil
}

// Types lists the registered provider types in sorted order.
func (r *Registry) Types() []models.ProviderType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ProviderType, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func normalizeType(t models.ProviderType) models.ProviderType {
	return models.ProviderType(strings.ToLower(strings.TrimSpace(string(t))))
}
