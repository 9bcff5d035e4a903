package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"greenrag/internal/domain"
	"greenrag/internal/index"
	"greenrag/internal/logger"
)

// DefaultK is the number of passages returned by Directive.
const DefaultK = 3

// NoResultsMessage is what Format renders for an empty result set.
const NoResultsMessage = "No relevant passages found in the EU Green Claims Directive."

// Delimiter separates formatted results.
const Delimiter = "\n==================================================\n"

// Index is a searchable, opened index.
type Index interface {
	Search(ctx context.Context, query string, k int) (domain.QueryResult, error)
	Len() int
	Manifest() domain.Manifest
	Close() error
}

// Indexer opens or builds the index.
type Indexer interface {
	Exists(ctx context.Context) bool
	Open(ctx context.Context) (Index, error)
	Build(ctx context.Context, chunks []domain.Chunk) (Index, error)
}

// NewIndexer adapts an index.Manager to Indexer.
func NewIndexer(m *index.Manager) Indexer { return managerIndexer{m} }

type managerIndexer struct{ m *index.Manager }

func (a managerIndexer) Exists(ctx context.Context) bool { return a.m.Exists(ctx) }

func (a managerIndexer) Open(ctx context.Context) (Index, error) {
	idx, err := a.m.Open(ctx)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func (a managerIndexer) Build(ctx context.Context, chunks []domain.Chunk) (Index, error) {
	idx, err := a.m.Build(ctx, chunks)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

type Config struct {
	SourcePath string
	DefaultK   int
}

// Status describes the service's index.
type Status struct {
	Initialized bool
	Source      string
	Chunks      int
	Manifest    domain.Manifest
}

// RetrievalService answers directive queries. The index is opened or built
// on first use and then reused for the life of the process.
type RetrievalService struct {
	loader    domain.Loader
	segmenter domain.Segmenter
	indexer   Indexer
	cfg       Config

	mu  sync.Mutex
	idx Index
}

func NewRetrievalService(loader domain.Loader, segmenter domain.Segmenter, indexer Indexer, cfg Config) *RetrievalService {
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = DefaultK
	}
	return &RetrievalService{loader: loader, segmenter: segmenter, indexer: indexer, cfg: cfg}
}

// SearchDirective returns up to k ranked chunks for query.
func (s *RetrievalService) SearchDirective(ctx context.Context, query string, k int) (domain.QueryResult, error) {
	if k <= 0 {
		return nil, domain.ErrInvalidK
	}
	idx, err := s.ensureIndex(ctx)
	if err != nil {
		return nil, err
	}
	return idx.Search(ctx, query, k)
}

// Directive searches with the default k and returns the formatted block.
func (s *RetrievalService) Directive(ctx context.Context, query string) (string, error) {
	results, err := s.SearchDirective(ctx, query, s.cfg.DefaultK)
	if err != nil {
		return "", err
	}
	return Format(results), nil
}

// DefaultK returns the configured number of passages for Directive.
func (s *RetrievalService) DefaultK() int { return s.cfg.DefaultK }

// Rebuild re-ingests the source and replaces the current index.
func (s *RetrievalService) Rebuild(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.ingest(ctx)
	if err != nil {
		return s.statusLocked(), err
	}
	if s.idx != nil {
		_ = s.idx.Close()
	}
	s.idx = idx
	return s.statusLocked(), nil
}

// Init opens or builds the index without running a query.
func (s *RetrievalService) Init(ctx context.Context) (Status, error) {
	if _, err := s.ensureIndex(ctx); err != nil {
		return s.Status(), err
	}
	return s.Status(), nil
}

func (s *RetrievalService) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// Close releases the index. The service initializes again on next use.
func (s *RetrievalService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx == nil {
		return nil
	}
	err := s.idx.Close()
	s.idx = nil
	return err
}

func (s *RetrievalService) statusLocked() Status {
	st := Status{Source: s.cfg.SourcePath}
	if s.idx != nil {
		st.Initialized = true
		st.Chunks = s.idx.Len()
		st.Manifest = s.idx.Manifest()
	}
	return st
}

// ensureIndex runs at most one open or build at a time. A failure leaves the
// service uninitialized so the next call retries.
func (s *RetrievalService) ensureIndex(ctx context.Context) (Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx != nil {
		return s.idx, nil
	}
	if s.indexer.Exists(ctx) {
		idx, err := s.indexer.Open(ctx)
		if err == nil {
			logger.Debug("Using persisted index (%d chunks)", idx.Len())
			s.idx = idx
			return idx, nil
		}
		logger.Warn("Could not open persisted index, rebuilding from source: %v", err)
	}
	idx, err := s.ingest(ctx)
	if err != nil {
		return nil, err
	}
	s.idx = idx
	return idx, nil
}

func (s *RetrievalService) ingest(ctx context.Context) (Index, error) {
	logger.Section("Ingesting " + s.cfg.SourcePath)
	docs, err := s.loader.Load(ctx, s.cfg.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("loading source: %w", err)
	}
	chunks, err := s.segmenter.Segment(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("segmenting source: %w", err)
	}
	idx, err := s.indexer.Build(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("building index: %w", err)
	}
	return idx, nil
}

// Format renders results in rank order with their article and page.
func Format(results domain.QueryResult) string {
	if len(results) == 0 {
		return NoResultsMessage
	}
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("[Result %d - %s - Page %s]\n%s\n",
			i+1, r.Chunk.Metadata.ArticleLabel(), r.Chunk.Metadata.PageLabel(), r.Chunk.Content)
	}
	return strings.Join(parts, Delimiter)
}
