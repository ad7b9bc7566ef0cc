package registry

import "sync"

// WeakValueMap maps keys to weakly held values. An entry disappears once the
// handle holding its value dies.
type WeakValueMap[K comparable] struct {
	reg *Registry

	mu      sync.Mutex
	entries map[K]*Handle
}

// NewWeakValueMap creates an empty map whose handles live in reg.
func NewWeakValueMap[K comparable](reg *Registry) *WeakValueMap[K] {
	return &WeakValueMap[K]{
		reg:     reg,
		entries: make(map[K]*Handle),
	}
}

// Set stores a weak reference to value under key. A previous value of key is
// released.
func (m *WeakValueMap[K]) Set(key K, value any) error {
	h, err := m.reg.Register(value, func(dying *Handle) {
		m.forget(key, dying)
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	old := m.entries[key]
	m.entries[key] = h
	m.mu.Unlock()

	if old != nil {
		old.Release()
	}

	return nil
}

func (m *WeakValueMap[K]) forget(key K, h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.entries[key] == h {
		delete(m.entries, key)
	}
}

// Get returns the value stored under key if it is still alive.
func (m *WeakValueMap[K]) Get(key K) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if RemoveIfDead(m.entries, key) {
		return nil, false
	}

	h, ok := m.entries[key]
	if !ok {
		return nil, false
	}

	value, err := h.Get()
	if err != nil {
		return nil, false
	}

	return value, true
}

// Delete removes key and releases its handle.
func (m *WeakValueMap[K]) Delete(key K) {
	m.mu.Lock()
	h, ok := m.entries[key]
	delete(m.entries, key)
	m.mu.Unlock()

	if ok {
		h.Release()
	}
}

// Len returns the number of live entries.
func (m *WeakValueMap[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked()

	return len(m.entries)
}

// Keys returns the keys of the live entries, in no particular order.
func (m *WeakValueMap[K]) Keys() []K {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked()

	keys := make([]K, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}

	return keys
}

func (m *WeakValueMap[K]) pruneLocked() {
	for k := range m.entries {
		RemoveIfDead(m.entries, k)
	}
}
