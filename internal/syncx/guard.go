// Package syncx provides extended synchronization primitives
package syncx

import "sync"

// RWGuard wraps an RWMutex around a value with scoped lock helpers.
type RWGuard[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewGuard creates a guarded value.
func NewGuard[T any](initial T) *RWGuard[T] {
	return &RWGuard[T]{value: initial}
}

// Get returns a copy of the value (T should be a value type or immutable).
func (g *RWGuard[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Set atomically replaces the value.
func (g *RWGuard[T]) Set(v T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = v
}

// Swap atomically replaces and returns the old value.
func (g *RWGuard[T]) Swap(v T) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.value
	g.value = v
	return old
}

// Update executes fn while holding the write lock, fn receives a pointer
// for mutation and returns whether it changed the value.
func (g *RWGuard[T]) Update(fn func(*T) bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(&g.value)
}
