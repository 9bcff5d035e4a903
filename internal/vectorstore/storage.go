package vectorstore

import (
	"context"

	"greenrag/internal/domain"
)

// Index is a read-only set of chunk vectors supporting similarity search.
type Index interface {
	// Search returns up to topK chunks ranked best first. topK must be positive.
	Search(ctx context.Context, vector []float32, topK int) ([]domain.SearchResult, error)
	Len() int
	Manifest() domain.Manifest
	Close() error
}

// Store persists an index at one location. Build replaces whatever was
// there as a whole; Open loads it back without any embedding calls.
type Store interface {
	Name() string
	Exists(ctx context.Context) bool
	Build(ctx context.Context, chunks []domain.Chunk, vectors [][]float32, manifest domain.Manifest) (Index, error)
	// Open returns an error matching domain.ErrNotFound when nothing valid is stored.
	Open(ctx context.Context) (Index, error)
}
