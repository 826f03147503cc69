// Package registry maps provider identifiers to constructors so strategy
// implementations can be selected from configuration.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var ErrUnknownProvider = errors.New("unknown provider")

type Factory[C any, T any] func(C) (T, error)

type Registry[C any, T any] struct {
	mu        sync.RWMutex
	factories map[string]Factory[C, T]
}

func New[C any, T any]() *Registry[C, T] {
	return &Registry[C, T]{factories: make(map[string]Factory[C, T])}
}

// Register adds a constructor for name. Registering the same name twice
// replaces the earlier constructor.
func (r *Registry[C, T]) Register(name string, factory Factory[C, T]) {
	if factory == nil {
		panic("registry: nil factory for " + name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

func (r *Registry[C, T]) New(name string, config C) (T, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		var zero T
		return zero, fmt.Errorf("%w %q, available: %v", ErrUnknownProvider, name, r.Names())
	}

	instance, err := factory(config)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed to create provider %q: %w", name, err)
	}
	return instance, nil
}

func (r *Registry[C, T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
