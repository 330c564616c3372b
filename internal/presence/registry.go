// Package presence tracks which users currently hold a live connection.
package presence

import (
	"bytes"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Registry maps a user identity to its single active connection handle.
// A newer handle for the same identity replaces the older one.
type Registry[H comparable] struct {
	mu      sync.RWMutex
	handles map[uuid.UUID]H
}

// NewRegistry returns an empty Registry.
func NewRegistry[H comparable]() *Registry[H] {
	return &Registry[H]{handles: make(map[uuid.UUID]H)}
}

// Register binds id to h. It returns the handle it replaced, if any.
func (r *Registry[H]) Register(id uuid.UUID, h H) (prev H, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, replaced = r.handles[id]
	r.handles[id] = h
	return prev, replaced && prev != h
}

// Unregister removes id. It is a no-op if id is not registered.
func (r *Registry[H]) Unregister(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handles, id)
}

// Release removes id only while it is still bound to h, so a superseded
// connection closing never evicts the one that replaced it.
func (r *Registry[H]) Release(id uuid.UUID, h H) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.handles[id]
	if !ok || cur != h {
		return false
	}
	delete(r.handles, id)
	return true
}

// Lookup returns the handle bound to id.
func (r *Registry[H]) Lookup(id uuid.UUID) (H, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handles[id]
	return h, ok
}

// ListOnline returns a sorted snapshot of the registered identities.
func (r *Registry[H]) ListOnline() []uuid.UUID {
	r.mu.RLock()
	online := lo.Keys(r.handles)
	r.mu.RUnlock()

	slices.SortFunc(online, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})
	return online
}

// Len returns the number of online identities.
func (r *Registry[H]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.handles)
}
