// Package memory stores run artifacts in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Store keeps artifact content in a map and returns memory:// URIs.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New creates an in-memory artifact store.
func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

// PutObject retains a copy of data and returns a memory:// URI for it.
func (s *Store) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", path), nil
}

// Object returns the stored content for path, if any.
func (s *Store) Object(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Len reports how many objects have been stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
