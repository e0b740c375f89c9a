// Package memory keeps datasets in process memory.
package memory

import (
	"context"
	"sort"
	"sync"

	"microsim/pkg/dataset"
)

// Store is an in-memory dataset.Store. Saved and loaded datasets are deep
// copies, so callers never share arrays with the store.
type Store struct {
	mu   sync.RWMutex
	sets map[string]*dataset.Data
}

// New returns an empty store.
func New() *Store { return &Store{sets: make(map[string]*dataset.Data)} }

func (s *Store) Driver() dataset.Driver { return dataset.DriverMemory }

func (s *Store) Save(_ context.Context, name string, data *dataset.Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[name] = data.Clone()
	return nil
}

func (s *Store) Load(_ context.Context, name string) (*dataset.Data, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.sets[name]
	if !ok {
		return nil, dataset.NotFoundError{Name: name}
	}
	return d.Clone(), nil
}

func (s *Store) List(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.sets))
	for name := range s.sets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sets[name]; !ok {
		return dataset.NotFoundError{Name: name}
	}
	delete(s.sets, name)
	return nil
}

var _ dataset.Store = (*Store)(nil)
