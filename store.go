package biosecure

import (
	"context"
	"sort"
	"sync"
)

// BytesStore is a key/value byte store. Get and Delete return ErrNotFound
// for a missing id; backend failures are returned as *IOError.
type BytesStore interface {
	Get(ctx context.Context, id string) ([]byte, error)
	Put(ctx context.Context, id string, data []byte) error
	Delete(ctx context.Context, id string) error
}

// Lister is implemented by stores that can enumerate their ids
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// MemoryStore is a BytesStore held in memory
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

// Get returns a copy of the stored value
func (m *MemoryStore) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Put stores a copy of data under id
func (m *MemoryStore) Put(ctx context.Context, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[id] = append([]byte(nil), data...)
	return nil
}

// Delete removes id
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[id]; !ok {
		return ErrNotFound
	}
	delete(m.entries, id)
	return nil
}

// List returns the stored ids in sorted order
func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// deleteIfPresent deletes id, treating a missing entry as success
func deleteIfPresent(ctx context.Context, s BytesStore, id string) error {
	if err := s.Delete(ctx, id); err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}
