package store

import (
	"context"
	"sync"
)

type memCollection struct {
	order []string
	docs  map[string][]byte
}

// MemoryStore is a thread-safe, in-memory DocumentStore for testing/dev.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]*memCollection
}

// NewMemoryStore returns a ready-to-use MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]*memCollection)}
}

func (s *MemoryStore) Get(_ context.Context, center, collection, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col := s.data[center][collection]
	if col == nil {
		return nil, ErrNotFound
	}
	doc, ok := col.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), doc...), nil
}

func (s *MemoryStore) Put(_ context.Context, center, collection, id string, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cols, ok := s.data[center]
	if !ok {
		cols = make(map[string]*memCollection)
		s.data[center] = cols
	}
	col, ok := cols[collection]
	if !ok {
		col = &memCollection{docs: make(map[string][]byte)}
		cols[collection] = col
	}
	if _, exists := col.docs[id]; !exists {
		col.order = append(col.order, id)
	}
	col.docs[id] = append([]byte(nil), doc...)
	return nil
}

func (s *MemoryStore) List(_ context.Context, center, collection string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col := s.data[center][collection]
	if col == nil {
		return nil, nil
	}
	out := make([][]byte, 0, len(col.order))
	for _, id := range col.order {
		out = append(out, append([]byte(nil), col.docs[id]...))
	}
	return out, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }
