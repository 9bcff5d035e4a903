package chunker

import (
	"strings"

	"greenrag/internal/domain"
)

// DefaultChunkSize is the default number of characters per window.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = 200

// WindowChunker splits page text into fixed-size overlapping windows.
// Sizes are counted in runes. Windows carry no article.
type WindowChunker struct {
	chunkSize int
	overlap   int
}

// Option configures the window chunker.
type Option func(*WindowChunker)

// WithChunkSize sets the window size in characters.
func WithChunkSize(size int) Option {
	return func(c *WindowChunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between windows in characters.
func WithOverlap(overlap int) Option {
	return func(c *WindowChunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

func NewWindowChunker(opts ...Option) *WindowChunker {
	c := &WindowChunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	// Overlap must leave room to advance.
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	return c
}

func (c *WindowChunker) Name() string { return "window" }

func (c *WindowChunker) Chunk(doc domain.SourceDocument) ([]domain.Chunk, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return nil, nil
	}
	runes := []rune(doc.Text)
	step := c.chunkSize - c.overlap
	chunks := make([]domain.Chunk, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		if content := strings.TrimSpace(string(runes[start:end])); content != "" {
			chunks = append(chunks, domain.NewChunk(content, doc.Page, ""))
		}
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}
