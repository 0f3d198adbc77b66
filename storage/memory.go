package storage

import (
	"context"
	"sync"
)

// MemoryHub is an in-process origin. Every view returned by Open shares the
// same data; a mutation through one view is delivered synchronously to the
// subscribers of all other views.
type MemoryHub struct {
	mu     sync.Mutex
	data   map[string]string
	subs   map[uint64]memorySub
	nextID uint64
}

type memorySub struct {
	origin string
	fn     func(ChangeEvent)
}

// NewMemoryHub returns an empty in-process origin.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		data: make(map[string]string),
		subs: make(map[uint64]memorySub),
	}
}

// Open returns the persistent view used by the context identified by origin.
func (h *MemoryHub) Open(origin string) *MemoryPersistent {
	return &MemoryPersistent{hub: h, origin: origin}
}

func (h *MemoryHub) mutate(origin, key string, value *string) {
	h.mu.Lock()
	var old *string
	if v, ok := h.data[key]; ok {
		old = strPtr(v)
	}
	if value == nil {
		delete(h.data, key)
	} else {
		h.data[key] = *value
	}
	targets := h.targets(origin)
	h.mu.Unlock()

	if old == nil && value == nil {
		return
	}
	ev := ChangeEvent{Origin: origin, Key: key, OldValue: old, NewValue: value}
	for _, fn := range targets {
		fn(ev)
	}
}

// targets must be called with h.mu held.
func (h *MemoryHub) targets(origin string) []func(ChangeEvent) {
	out := make([]func(ChangeEvent), 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.origin == origin {
			continue
		}
		out = append(out, sub.fn)
	}
	return out
}

// MemoryPersistent is one context's view of a MemoryHub.
type MemoryPersistent struct {
	hub    *MemoryHub
	origin string
}

func (m *MemoryPersistent) Get(_ context.Context, key string) (string, error) {
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()

	v, ok := m.hub.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryPersistent) Set(_ context.Context, key, value string) error {
	m.hub.mutate(m.origin, key, strPtr(value))
	return nil
}

func (m *MemoryPersistent) Delete(_ context.Context, key string) error {
	m.hub.mutate(m.origin, key, nil)
	return nil
}

func (m *MemoryPersistent) Keys(_ context.Context) ([]string, error) {
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()
	return sortedKeys(m.hub.data), nil
}

func (m *MemoryPersistent) Len(_ context.Context) (int, error) {
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()
	return len(m.hub.data), nil
}

// Clear removes every key, notifying other contexts once per removed key.
func (m *MemoryPersistent) Clear(ctx context.Context) error {
	keys, _ := m.Keys(ctx)
	for _, key := range keys {
		m.hub.mutate(m.origin, key, nil)
	}
	return nil
}

func (m *MemoryPersistent) Subscribe(_ context.Context, fn func(ChangeEvent)) (func(), error) {
	h := m.hub
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = memorySub{origin: m.origin, fn: fn}
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}, nil
}
