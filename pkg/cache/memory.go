package cache

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	details map[string]Record
	list    []Record
	hasList bool
}

// NewMemoryStore creates an empty store with no list cached.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{details: make(map[string]Record)}
}

// Detail implements Store.
func (s *MemoryStore) Detail(_ context.Context, id string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.details[id]
	return r.Clone(), ok, nil
}

// UpdateDetail implements Store.
func (s *MemoryStore) UpdateDetail(_ context.Context, id string, fn DetailUpdater) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.details[id]
	s.details[id] = fn(current.Clone(), ok)
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasList {
		return nil, false, nil
	}
	return cloneList(s.list), true, nil
}

// UpdateList implements Store.
func (s *MemoryStore) UpdateList(_ context.Context, fn ListUpdater) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasList {
		return nil
	}
	s.list = fn(cloneList(s.list))
	return nil
}

// SetList implements Store.
func (s *MemoryStore) SetList(_ context.Context, list []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = cloneList(list)
	s.hasList = true
	return nil
}

func cloneList(list []Record) []Record {
	out := make([]Record, len(list))
	for i, r := range list {
		out[i] = r.Clone()
	}
	return out
}
