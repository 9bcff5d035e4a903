package main

import (
	"fmt"
	"io"
	"time"

	"greenrag/internal/chunker"
	"greenrag/internal/config"
	"greenrag/internal/domain"
	"greenrag/internal/embedding"
	"greenrag/internal/embedding/hashing"
	"greenrag/internal/embedding/openai"
	"greenrag/internal/index"
	"greenrag/internal/loader"
	"greenrag/internal/service"
	"greenrag/internal/summarizer"
	"greenrag/internal/vectorstore"
	"greenrag/internal/vectorstore/memory"
	"greenrag/internal/vectorstore/qdrant"
	"greenrag/internal/vectorstore/sqlite"
)

// app is the assembled object graph.
type app struct {
	cfg        *config.AppConfig
	manager    *index.Manager
	service    *service.RetrievalService
	summarizer *summarizer.FrequencySummarizer
	store      vectorstore.Store
}

// close releases stores that hold a connection.
func (a *app) close() {
	if c, ok := a.store.(io.Closer); ok {
		_ = c.Close()
	}
}

func newApp(cfg *config.AppConfig) (*app, error) {
	emb, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}
	mgr := index.NewManager(emb, store,
		index.WithBatchSize(cfg.Embedder.BatchSize),
		index.WithTimeout(time.Duration(cfg.Embedder.TimeoutSecs)*time.Second),
	)
	svc := service.NewRetrievalService(loader.New(), newSegmenter(cfg), service.NewIndexer(mgr), service.Config{
		SourcePath: cfg.Source.Path,
		DefaultK:   cfg.Retrieval.DefaultK,
	})
	return &app{
		cfg:        cfg,
		manager:    mgr,
		service:    svc,
		summarizer: summarizer.NewFrequencySummarizer(),
		store:      store,
	}, nil
}

func newEmbedder(cfg *config.AppConfig) (embedding.Embedder, error) {
	switch cfg.Embedder.Type {
	case "hashing":
		dim := 0
		if cfg.Embedder.Hashing != nil {
			dim = cfg.Embedder.Hashing.Dimension
		}
		return hashing.NewEmbedder(dim), nil
	case "openai":
		if cfg.Embedder.OpenAI == nil {
			return nil, fmt.Errorf("%w: openai embedder config missing", domain.ErrConfiguration)
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:           cfg.Embedder.OpenAI.BaseURL,
			APIKeyEnv:         cfg.Embedder.OpenAI.APIKeyEnv,
			Model:             cfg.Embedder.OpenAI.Model,
			Timeout:           time.Duration(cfg.Embedder.TimeoutSecs) * time.Second,
			RequestsPerSecond: cfg.Embedder.RequestsPerSecond,
			MaxRetries:        intValue(cfg.Embedder.MaxRetries),
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: unknown embedder: %s", domain.ErrConfiguration, cfg.Embedder.Type)
	}
}

func newStore(cfg *config.AppConfig) (vectorstore.Store, error) {
	switch cfg.Index.Backend {
	case "sqlite":
		return sqlite.NewStore(cfg.Index.Path), nil
	case "memory":
		return memory.NewStore(), nil
	case "qdrant":
		q := cfg.Index.Qdrant
		if q == nil {
			return nil, fmt.Errorf("%w: qdrant config missing", domain.ErrConfiguration)
		}
		return qdrant.NewStore(qdrant.Config{
			Addr:       q.Addr,
			APIKey:     q.APIKey,
			Collection: q.Collection,
			Timeout:    time.Duration(q.TimeoutSecs) * time.Second,
		})
	default:
		return nil, fmt.Errorf("%w: unknown index backend: %s", domain.ErrConfiguration, cfg.Index.Backend)
	}
}

func newSegmenter(cfg *config.AppConfig) *chunker.Segmenter {
	var fallback domain.Chunker
	switch cfg.Chunker.Fallback {
	case "sentence":
		fallback = chunker.NewSentenceChunker(cfg.Chunker.SentencesPerChunk, intValue(cfg.Chunker.OverlapSentences))
	default:
		fallback = chunker.NewWindowChunker(
			chunker.WithChunkSize(cfg.Chunker.ChunkSize),
			chunker.WithOverlap(intValue(cfg.Chunker.ChunkOverlap)),
		)
	}
	return chunker.NewSegmenter(chunker.NewArticleChunker(), fallback, intValue(cfg.Chunker.MinChunks))
}

// intValue reads an optional config value; a nil pointer reads as 0, which
// every finalized config has already replaced with its default.
func intValue(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
