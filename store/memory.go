package store

import (
	"context"
	"sync"
)

// MemoryStore keeps slots in process memory. It does not survive restarts
// and is meant for tests and ephemeral sessions.
type MemoryStore struct {
	mu        sync.RWMutex
	namespace string
	entries   map[string][]byte
	closed    bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(namespace string) *MemoryStore {
	return &MemoryStore{
		namespace: namespace,
		entries:   make(map[string][]byte),
	}
}

func (m *MemoryStore) Get(_ context.Context, slot Slot) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	v, ok := m.entries[Key(m.namespace, slot)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) Set(ctx context.Context, slot Slot, value []byte) error {
	if len(value) == 0 {
		return m.Delete(ctx, slot)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.entries[Key(m.namespace, slot)] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, slot Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.entries, Key(m.namespace, slot))
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
