package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"greenrag/internal/domain"
	"greenrag/internal/vectorstore"
)

var _ vectorstore.Index = (*Storage)(nil)

// Storage is an in-memory vector index using brute-force cosine similarity.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	vectors   [][]float32
	norms     []float64
	chunks    []domain.Chunk
	manifest  domain.Manifest
}

// NewStorage indexes chunks and their vectors. Both slices are paired by position.
func NewStorage(chunks []domain.Chunk, vectors [][]float32, manifest domain.Manifest) (*Storage, error) {
	if len(chunks) != len(vectors) {
		return nil, errors.New("chunks and vectors length mismatch")
	}
	s := &Storage{manifest: manifest}
	if len(vectors) > 0 {
		s.dimension = len(vectors[0])
	}
	if manifest.Dimension != 0 && s.dimension != 0 && manifest.Dimension != s.dimension {
		return nil, fmt.Errorf("manifest dimension %d does not match vectors (%d)", manifest.Dimension, s.dimension)
	}
	s.norms = make([]float64, len(vectors))
	for i, v := range vectors {
		if len(v) != s.dimension {
			return nil, errors.New("vector dimension mismatch")
		}
		s.norms[i] = norm(v)
	}
	s.chunks = slices.Clone(chunks)
	s.vectors = slices.Clone(vectors)
	s.manifest.ChunkCount = len(chunks)
	if s.manifest.Dimension == 0 {
		s.manifest.Dimension = s.dimension
	}
	return s, nil
}

func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

func (s *Storage) Manifest() domain.Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manifest
}

// Chunks returns the indexed chunks in position order.
func (s *Storage) Chunks() []domain.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.chunks)
}

// Vectors returns the indexed vectors in position order.
func (s *Storage) Vectors() [][]float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.vectors)
}

func (s *Storage) Search(ctx context.Context, vector []float32, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		return nil, domain.ErrInvalidK
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.vectors) > 0 && len(vector) != s.dimension {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(vector), s.dimension)
	}
	qn := norm(vector)
	scores := make([]float64, len(s.vectors))
	for i := range s.vectors {
		scores[i] = cosine(s.vectors[i], s.norms[i], vector, qn)
	}
	idxs := argsortDesc(scores)
	if topK > len(idxs) {
		topK = len(idxs)
	}
	results := make([]domain.SearchResult, 0, topK)
	for i := 0; i < topK; i++ {
		j := idxs[i]
		results = append(results, domain.SearchResult{Chunk: s.chunks[j], Rank: i + 1, Score: scores[j]})
	}
	return results, nil
}

func (s *Storage) Close() error { return nil }

func norm(v []float32) float64 {
	sum := 0.0
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	sum := 0.0
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum / (an * bn)
}

// argsortDesc orders positions by score, highest first; equal scores keep position order.
func argsortDesc(vals []float64) []int {
	idxs := make([]int, len(vals))
	for i := range vals {
		idxs[i] = i
	}
	slices.SortStableFunc(idxs, func(a, b int) int {
		switch {
		case vals[a] > vals[b]:
			return -1
		case vals[a] < vals[b]:
			return 1
		}
		return 0
	})
	return idxs
}
