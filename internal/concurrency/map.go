package concurrency

import "sync"

// Map is a goroutine-safe map guarded by a RWMutex.
type Map[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// NewMap creates an empty map.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{m: make(map[K]V)}
}

// Get returns the value for k.
func (m *Map[K, V]) Get(k K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.m[k]
	return v, ok
}

// Set stores v under k.
func (m *Map[K, V]) Set(k K, v V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[k] = v
}

// Delete removes k.
func (m *Map[K, V]) Delete(k K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, k)
}

// Update replaces the value for k with fn(old, ok) atomically.
func (m *Map[K, V]) Update(k K, fn func(old V, ok bool) V) V {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.m[k]
	v := fn(old, ok)
	m.m[k] = v
	return v
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.m)
}

// Snapshot returns a copy of the map.
func (m *Map[K, V]) Snapshot() map[K]V {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[K]V, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

// Replace swaps the contents for a copy of src.
func (m *Map[K, V]) Replace(src map[K]V) {
	next := make(map[K]V, len(src))
	for k, v := range src {
		next[k] = v
	}
	m.mu.Lock()
	m.m = next
	m.mu.Unlock()
}
