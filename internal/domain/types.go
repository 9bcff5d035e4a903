package domain

import (
	"context"
	"strconv"
	"time"
)

// SourceName identifies the regulatory text every chunk is drawn from.
const SourceName = "EU_Green_Claims_Directive"

// SourceDocument is one page of the loaded regulatory text.
type SourceDocument struct {
	Text string
	Page int
}

// ChunkMetadata describes where a chunk came from.
// A nil Page or Article means the value is unknown.
type ChunkMetadata struct {
	Page    *int
	Article *string
	Source  string
}

// PageLabel renders the page number or "Unknown".
func (m ChunkMetadata) PageLabel() string {
	if m.Page == nil {
		return "Unknown"
	}
	return strconv.Itoa(*m.Page)
}

// ArticleLabel renders the article marker or "Unknown Article".
func (m ChunkMetadata) ArticleLabel() string {
	if m.Article == nil {
		return "Unknown Article"
	}
	return *m.Article
}

// Chunk is a unit of retrievable text. Chunks are never mutated after creation.
type Chunk struct {
	Content  string
	Metadata ChunkMetadata
}

// NewChunk builds a chunk for the given page. An empty article leaves it unknown.
func NewChunk(content string, page int, article string) Chunk {
	p := page
	md := ChunkMetadata{Page: &p, Source: SourceName}
	if article != "" {
		a := article
		md.Article = &a
	}
	return Chunk{Content: content, Metadata: md}
}

// SearchResult is a ranked chunk. Rank starts at 1.
type SearchResult struct {
	Chunk Chunk
	Rank  int
	Score float64
}

// QueryResult is the ordered output of a search, best match first.
type QueryResult []SearchResult

// Manifest records how a persisted index was built.
type Manifest struct {
	BuildID    string
	Model      string
	Dimension  int
	ChunkCount int
	CreatedAt  time.Time
}

// Segmenter splits loaded pages into retrievable chunks.
type Segmenter interface {
	Segment(ctx context.Context, docs []SourceDocument) ([]Chunk, error)
}

// Chunker is a single segmentation strategy.
type Chunker interface {
	Name() string
	Chunk(doc SourceDocument) ([]Chunk, error)
}

// Loader reads the regulatory source into pages.
type Loader interface {
	Load(ctx context.Context, path string) ([]SourceDocument, error)
}
