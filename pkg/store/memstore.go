package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Compile-time assertion that MemStore satisfies the SourceStore interface.
var _ SourceStore = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [SourceStore].
// It is suitable for single-session use and testing.
type MemStore struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		sources: make(map[string]Source),
	}
}

// Put implements [SourceStore.Put].
func (s *MemStore) Put(ctx context.Context, source Source) (Source, error) {
	if source.ID == "" {
		id, err := generateID()
		if err != nil {
			return Source{}, fmt.Errorf("store: generate id: %w", err)
		}
		source.ID = id
	}
	if source.CreatedAt.IsZero() {
		source.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sources == nil {
		s.sources = make(map[string]Source)
	}
	s.sources[source.ID] = source
	return source, nil
}

// Get implements [SourceStore.Get].
func (s *MemStore) Get(ctx context.Context, id string) (Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src, ok := s.sources[id]
	if !ok {
		return Source{}, ErrNotFound
	}
	return src, nil
}

// List implements [SourceStore.List].
func (s *MemStore) List(ctx context.Context) ([]Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Source, 0, len(s.sources))
	for _, src := range s.sources {
		result = append(result, src)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Delete implements [SourceStore.Delete].
func (s *MemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sources[id]; !ok {
		return ErrNotFound
	}
	delete(s.sources, id)
	return nil
}

// generateID produces a random 16-byte hex string using crypto/rand.
func generateID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
