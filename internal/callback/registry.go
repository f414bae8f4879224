package callback

import (
	"sort"
	"sync"
)

// SingleID is the subscription id used in single-subscriber mode.
const SingleID = 0

// Registry maps a key to an ordered table of subscription id → handler.
type Registry[K comparable, H any] struct {
	mu     sync.RWMutex
	tables map[K]*table[H]
}

type table[H any] struct {
	nextID   int   // last id handed out in multi mode
	order    []int // registration order
	handlers map[int]H
}

// NewRegistry creates an empty registry.
func NewRegistry[K comparable, H any]() *Registry[K, H] {
	return &Registry[K, H]{
		tables: make(map[K]*table[H]),
	}
}

// Add registers a handler under key.
//
// In single mode the handler is stored under SingleID and any handler already
// there is returned as replaced. In multi mode the handler gets the next id of
// the key's monotonically increasing counter (starting at 1).
func (r *Registry[K, H]) Add(key K, h H, multi bool) (id int, replaced H, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, exists := r.tables[key]
	if !exists {
		t = &table[H]{handlers: make(map[int]H)}
		r.tables[key] = t
	}

	if !multi {
		id = SingleID
		if prev, had := t.handlers[id]; had {
			t.handlers[id] = h
			return id, prev, true
		}
	} else {
		t.nextID++
		id = t.nextID
	}

	t.handlers[id] = h
	t.order = append(t.order, id)
	return id, replaced, false
}

// Remove deletes the handler with the given id. Returns false if not present.
func (r *Registry[K, H]) Remove(key K, id int) (H, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero H
	t, exists := r.tables[key]
	if !exists {
		return zero, false
	}
	h, ok := t.handlers[id]
	if !ok {
		return zero, false
	}

	delete(t.handlers, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}

	// Keep the table (and its id counter) so ids are never reused.
	return h, true
}

// RemoveAll deletes every handler under key and returns them in order.
func (r *Registry[K, H]) RemoveAll(key K) []H {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, exists := r.tables[key]
	if !exists {
		return nil
	}

	out := make([]H, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.handlers[id])
	}
	t.order = nil
	t.handlers = make(map[int]H)
	return out
}

// Len returns the number of handlers under key.
func (r *Registry[K, H]) Len(key K) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t, ok := r.tables[key]; ok {
		return len(t.handlers)
	}
	return 0
}

// Snapshot returns a copy of the handlers under key in registration order.
// Callers iterate the copy, so handlers may be removed during dispatch.
func (r *Registry[K, H]) Snapshot(key K) []H {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tables[key]
	if !ok || len(t.order) == 0 {
		return nil
	}

	out := make([]H, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.handlers[id])
	}
	return out
}

// IDs returns the subscription ids under key, sorted ascending.
func (r *Registry[K, H]) IDs(key K) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tables[key]
	if !ok {
		return nil
	}
	ids := make([]int, 0, len(t.handlers))
	for id := range t.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Keys returns every key that currently has at least one handler.
func (r *Registry[K, H]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]K, 0, len(r.tables))
	for k, t := range r.tables {
		if len(t.handlers) > 0 {
			keys = append(keys, k)
		}
	}
	return keys
}
