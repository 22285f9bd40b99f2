// Package syncx provides extended synchronization primitives
package syncx

import "sync"

// Guard wraps a mutex-protected value with scoped helpers. Both capture
// engines use it to hold their state-machine value.
type Guard[T comparable] struct {
	mu    sync.RWMutex
	value T
}

// NewGuard creates a guarded value.
func NewGuard[T comparable](initial T) *Guard[T] {
	return &Guard[T]{value: initial}
}

// Get returns a copy of the value.
func (g *Guard[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Set atomically replaces the value.
func (g *Guard[T]) Set(v T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = v
}

// Swap atomically replaces and returns the old value.
func (g *Guard[T]) Swap(v T) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.value
	g.value = v
	return old
}

// TransitionFrom replaces the value only when it currently equals from,
// reporting whether the transition happened. State machines use it to reject
// concurrent start/stop races without a separate lock.
func (g *Guard[T]) TransitionFrom(from, to T) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.value != from {
		return false
	}
	g.value = to
	return true
}
