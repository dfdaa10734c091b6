// Package utils holds small generic helpers shared across relaymesh,
// adapted from Xray-core's common/utils package.
package utils

import "sync"

// TypedSyncMap is a type-safe wrapper around sync.Map. It backs every
// concurrent registry in this repo: the metrics maps, the UDP socket map,
// and the rule registry.
type TypedSyncMap[K comparable, V any] struct {
	m sync.Map
}

// NewTypedSyncMap constructs an empty map.
func NewTypedSyncMap[K comparable, V any]() *TypedSyncMap[K, V] {
	return &TypedSyncMap[K, V]{}
}

// Load returns the value stored for key, if any.
func (m *TypedSyncMap[K, V]) Load(key K) (value V, ok bool) {
	v, ok := m.m.Load(key)
	if !ok {
		return value, false
	}
	return v.(V), true
}

// Store sets the value for a key.
func (m *TypedSyncMap[K, V]) Store(key K, value V) {
	m.m.Store(key, value)
}

// LoadOrStore returns the existing value for key if present, otherwise it
// stores and returns the given value. loaded is true iff an existing
// value was returned. This is the primitive behind "find or create at
// most once" used by the UDP socket map and the rule registry.
func (m *TypedSyncMap[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	a, loaded := m.m.LoadOrStore(key, value)
	return a.(V), loaded
}

// LoadAndDelete removes key, returning the value that was present if any.
func (m *TypedSyncMap[K, V]) LoadAndDelete(key K) (value V, loaded bool) {
	v, loaded := m.m.LoadAndDelete(key)
	if !loaded {
		return value, false
	}
	return v.(V), true
}

// Delete removes key unconditionally.
func (m *TypedSyncMap[K, V]) Delete(key K) {
	m.m.Delete(key)
}

// Range calls f for every key/value pair until f returns false.
func (m *TypedSyncMap[K, V]) Range(f func(key K, value V) bool) {
	m.m.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}
