package chunker

import (
	"context"
	"errors"
	"fmt"

	"greenrag/internal/domain"
	"greenrag/internal/logger"
)

// DefaultMinChunks is the article count at or below which the document is
// treated as having no usable article structure.
const DefaultMinChunks = 10

// Segmenter runs article segmentation and falls back to a window strategy
// when it faults or finds too little structure.
type Segmenter struct {
	primary   domain.Chunker
	fallback  domain.Chunker
	minChunks int
}

// NewSegmenter wires a primary and a fallback strategy.
// A negative minChunks is replaced by DefaultMinChunks.
func NewSegmenter(primary, fallback domain.Chunker, minChunks int) *Segmenter {
	if minChunks < 0 {
		minChunks = DefaultMinChunks
	}
	return &Segmenter{primary: primary, fallback: fallback, minChunks: minChunks}
}

// Segment returns the chunks of all pages in page order.
func (s *Segmenter) Segment(ctx context.Context, docs []domain.SourceDocument) ([]domain.Chunk, error) {
	logger.Section("Segmentation")

	chunks, err := s.segmentPrimary(ctx, docs)
	switch {
	case err == nil:
		logger.Info("Using %s segmentation: %d chunks, %d distinct articles", s.primary.Name(), len(chunks), countArticles(chunks))
		return chunks, nil
	case errors.Is(err, domain.ErrSegmentationFault), errors.Is(err, domain.ErrInsufficientStructure):
		logger.Info("Falling back to %s segmentation: %v", s.fallback.Name(), err)
	default:
		return nil, err
	}

	out, err := runChunker(ctx, s.fallback, docs)
	if err != nil {
		return nil, fmt.Errorf("%s segmentation: %w", s.fallback.Name(), err)
	}
	logger.Info("Created %d %s chunks", len(out), s.fallback.Name())
	return out, nil
}

// segmentPrimary reports a fault or insufficient structure as an error
// instead of returning unusable chunks.
func (s *Segmenter) segmentPrimary(ctx context.Context, docs []domain.SourceDocument) ([]domain.Chunk, error) {
	chunks, err := runChunker(ctx, s.primary, docs)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if !errors.Is(err, domain.ErrSegmentationFault) {
			err = fmt.Errorf("%w: %v", domain.ErrSegmentationFault, err)
		}
		return nil, err
	}
	if len(chunks) <= s.minChunks {
		return nil, fmt.Errorf("%w: %d chunks, need more than %d", domain.ErrInsufficientStructure, len(chunks), s.minChunks)
	}
	return chunks, nil
}

func runChunker(ctx context.Context, c domain.Chunker, docs []domain.SourceDocument) ([]domain.Chunk, error) {
	var out []domain.Chunk
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunks, err := c.Chunk(d)
		if err != nil {
			return nil, err
		}
		out = append(out, chunks...)
	}
	return out, nil
}

func countArticles(chunks []domain.Chunk) int {
	seen := make(map[string]struct{})
	for _, c := range chunks {
		if c.Metadata.Article != nil {
			seen[*c.Metadata.Article] = struct{}{}
		}
	}
	return len(seen)
}
