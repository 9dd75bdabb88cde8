// Package entity provides a generic identity registry: reconstructing an
// entity with the same constructor key returns the existing instance, and
// deleting it removes it from every future lookup. The supervisor's
// AppManager keeps its AppInstances in one; no other entity kind uses it.
//
// This generalizes the teacher's one-registry-per-concern style
// (infra/registry.Manager, infra/engine.Pool) into a single generic,
// mutex-guarded map keyed by a comparable constructor-argument tuple.
package entity

import "sync"

// Registry is a mutex-guarded identity map from key K to entity V.
// Zero value is not usable; use NewRegistry.
type Registry[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

// NewRegistry creates an empty registry.
func NewRegistry[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{items: make(map[K]V)}
}

// Get returns the entity for key, if any.
func (r *Registry[K, V]) Get(key K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[key]
	return v, ok
}

// GetOrCreate returns the existing entity for key, or builds and stores a
// new one via construct. construct is only called while holding the write
// lock, so a given key is only ever constructed once — this is what gives
// DroneD's entities their "reconstructing with the same arguments returns
// the existing instance" identity property.
func (r *Registry[K, V]) GetOrCreate(key K, construct func() V) V {
	r.mu.RLock()
	if v, ok := r.items[key]; ok {
		r.mu.RUnlock()
		return v
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.items[key]; ok {
		return v
	}
	v := construct()
	r.items[key] = v
	return v
}

// Put stores v under key unconditionally, overwriting any prior entry.
func (r *Registry[K, V]) Put(key K, v V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[key] = v
}

// Delete removes key. Safe to call on a key that isn't present.
func (r *Registry[K, V]) Delete(key K) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, key)
}

// Len returns the number of live entities.
func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Range calls fn for every entity currently in the registry, in no
// particular order. It snapshots the key set under the read lock so a
// concurrent Delete during iteration is simply absent from (or present in)
// the snapshot — never a partial or torn entry — satisfying the invariant
// that iteration only yields entities valid at the moment of yield. fn may
// itself call into the registry (Get/Delete) without deadlocking, since the
// lock is released before fn runs.
func (r *Registry[K, V]) Range(fn func(K, V) bool) {
	r.mu.RLock()
	snapshot := make(map[K]V, len(r.items))
	for k, v := range r.items {
		snapshot[k] = v
	}
	r.mu.RUnlock()

	for k, v := range snapshot {
		if _, stillPresent := r.Get(k); !stillPresent {
			continue
		}
		if !fn(k, v) {
			return
		}
	}
}

// Keys returns a snapshot of all current keys.
func (r *Registry[K, V]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]K, 0, len(r.items))
	for k := range r.items {
		keys = append(keys, k)
	}
	return keys
}
