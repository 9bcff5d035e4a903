// Package index builds, opens and queries the directive's vector index.
// It pairs an embedding provider with a vectorstore backend and keeps the
// two consistent: an index is only reopened by the model that built it.
package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"greenrag/internal/domain"
	"greenrag/internal/embedding"
	"greenrag/internal/logger"
	"greenrag/internal/vectorstore"
)

const (
	DefaultBatchSize = 64
	DefaultTimeout   = 30 * time.Second
)

// Manager owns the embedder and the backing store.
type Manager struct {
	embedder  embedding.Embedder
	store     vectorstore.Store
	batchSize int
	timeout   time.Duration
	now       func() time.Time
}

type Option func(*Manager)

// WithBatchSize sets how many chunks go into one embedding request.
func WithBatchSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithTimeout bounds every embedding call.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func NewManager(embedder embedding.Embedder, store vectorstore.Store, opts ...Option) *Manager {
	m := &Manager{
		embedder:  embedder,
		store:     store,
		batchSize: DefaultBatchSize,
		timeout:   DefaultTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Exists reports whether the store holds something to open.
func (m *Manager) Exists(ctx context.Context) bool { return m.store.Exists(ctx) }

// Build embeds every chunk and persists the result. Nothing is committed
// unless all embeddings succeed.
func (m *Manager) Build(ctx context.Context, chunks []domain.Chunk) (*Index, error) {
	if len(chunks) == 0 {
		return nil, domain.ErrEmptyCorpus
	}
	logger.Section("Building index")
	logger.Info("Embedding %d chunks with %s (batch %d)", len(chunks), m.embedder.Name(), m.batchSize)

	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += m.batchSize {
		end := min(start+m.batchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}
		batch, err := m.embedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
		logger.Debug("Embedded %d/%d chunks", end, len(chunks))
	}

	manifest := domain.Manifest{
		BuildID:   uuid.NewString(),
		Model:     m.embedder.Name(),
		CreatedAt: m.now().UTC(),
	}
	stored, err := m.store.Build(ctx, chunks, vectors, manifest)
	if err != nil {
		return nil, fmt.Errorf("persisting index to %s store: %w", m.store.Name(), err)
	}
	logger.Info("Index %s built: %d chunks, dimension %d", stored.Manifest().BuildID, stored.Len(), stored.Manifest().Dimension)
	return m.wrap(stored), nil
}

// Open loads a persisted index without calling the embedder. An index built
// by a different model is reported as not found.
func (m *Manager) Open(ctx context.Context) (*Index, error) {
	stored, err := m.store.Open(ctx)
	if err != nil {
		return nil, err
	}
	manifest := stored.Manifest()
	if manifest.Model != m.embedder.Name() {
		_ = stored.Close()
		return nil, fmt.Errorf("%w: index built with %q, embedder is %q", domain.ErrNotFound, manifest.Model, m.embedder.Name())
	}
	if dim := m.embedder.Dimension(); dim > 0 && manifest.Dimension != dim {
		_ = stored.Close()
		return nil, fmt.Errorf("%w: index dimension %d, embedder dimension %d", domain.ErrNotFound, manifest.Dimension, dim)
	}
	logger.Debug("Opened index %s (%d chunks)", manifest.BuildID, stored.Len())
	return m.wrap(stored), nil
}

func (m *Manager) wrap(stored vectorstore.Index) *Index {
	return &Index{stored: stored, embedder: m.embedder, timeout: m.timeout}
}

func (m *Manager) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ectx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	vecs, err := m.embedder.EmbedBatch(ectx, texts)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, err
		}
		return nil, domain.NewProviderError(m.embedder.Name(), "embed batch", err)
	}
	if len(vecs) != len(texts) {
		return nil, domain.NewProviderError(m.embedder.Name(), "embed batch",
			fmt.Errorf("got %d vectors for %d inputs", len(vecs), len(texts)))
	}
	return vecs, nil
}

// Index answers natural-language queries against a stored index.
type Index struct {
	stored   vectorstore.Index
	embedder embedding.Embedder
	timeout  time.Duration
}

func (x *Index) Len() int                  { return x.stored.Len() }
func (x *Index) Manifest() domain.Manifest { return x.stored.Manifest() }
func (x *Index) Close() error              { return x.stored.Close() }

// Search embeds query once and returns at most k chunks, best first.
func (x *Index) Search(ctx context.Context, query string, k int) (domain.QueryResult, error) {
	if k <= 0 {
		return nil, domain.ErrInvalidK
	}
	ectx, cancel := context.WithTimeout(ctx, x.timeout)
	vec, err := x.embedder.Embed(ectx, query)
	cancel()
	if err != nil {
		return nil, domain.NewProviderError(x.embedder.Name(), "embed query", err)
	}
	results, err := x.stored.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	return domain.QueryResult(results), nil
}
