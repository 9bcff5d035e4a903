package memory

import (
	"context"
	"sync"

	"greenrag/internal/domain"
	"greenrag/internal/vectorstore"
)

var _ vectorstore.Store = (*Store)(nil)

// Store keeps the last built index in process memory. Nothing survives a restart.
type Store struct {
	mu      sync.Mutex
	current *Storage
}

func NewStore() *Store { return &Store{} }

func (s *Store) Name() string { return "memory" }

func (s *Store) Exists(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

func (s *Store) Build(_ context.Context, chunks []domain.Chunk, vectors [][]float32, manifest domain.Manifest) (vectorstore.Index, error) {
	st, err := NewStorage(chunks, vectors, manifest)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.current = st
	s.mu.Unlock()
	return st, nil
}

func (s *Store) Open(context.Context) (vectorstore.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, domain.ErrNotFound
	}
	return s.current, nil
}
