package registry

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Registry maps keys to producers. Keys may only be registered once
type Registry[K ~string, V any] struct {
	entries map[K]V
	mu      sync.RWMutex
}

var (
	ErrDuplicateRegistry = errors.New("key already registered")
	ErrUnregisteredKey   = errors.New("key not registered")
)

// New creates an empty registry
func New[K ~string, V any]() *Registry[K, V] {
	return &Registry[K, V]{
		entries: map[K]V{},
	}
}

// Register binds a key to a value, failing if the key is already bound
func (r *Registry[K, V]) Register(key K, value V) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRegistry, key)
	}
	r.entries[key] = value
	return nil
}

// MustRegister binds a key to a value, panicking if the key is bound
func (r *Registry[K, V]) MustRegister(key K, value V) {
	if err := r.Register(key, value); err != nil {
		panic(err)
	}
}

// Obtain returns the value bound to the key
func (r *Registry[K, V]) Obtain(key K) (V, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[key]
	if !ok {
		var zero V
		return zero, fmt.Errorf("%w: %s", ErrUnregisteredKey, key)
	}
	return v, nil
}

// Keys returns every registered key in sorted order
func (r *Registry[K, V]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.entries))
}
