package merchant

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory acquirer store for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	acquirers map[string]*Acquirer
}

// NewMemoryStore creates a new in-memory acquirer store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{acquirers: make(map[string]*Acquirer)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Acquirer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.acquirers[id]
	if !ok {
		return nil, ErrAcquirerNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Acquirer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Acquirer, 0, len(m.acquirers))
	for _, a := range m.acquirers {
		cp := *a
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) Upsert(_ context.Context, a *Acquirer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.acquirers[a.ID] = &cp
	return nil
}

var _ Store = (*MemoryStore)(nil)
