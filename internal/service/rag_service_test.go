package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greenrag/internal/chunker"
	"greenrag/internal/domain"
	"greenrag/internal/embedding/hashing"
	"greenrag/internal/index"
	"greenrag/internal/loader"
	"greenrag/internal/vectorstore/sqlite"
)

type fakeLoader struct {
	docs  []domain.SourceDocument
	err   error
	calls atomic.Int32
}

func (f *fakeLoader) Load(context.Context, string) ([]domain.SourceDocument, error) {
	f.calls.Add(1)
	return f.docs, f.err
}

type fakeSegmenter struct{}

func (fakeSegmenter) Segment(_ context.Context, docs []domain.SourceDocument) ([]domain.Chunk, error) {
	out := make([]domain.Chunk, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.NewChunk(d.Text, d.Page, ""))
	}
	return out, nil
}

type fakeIndex struct {
	results domain.QueryResult
	err     error
	n       int
}

func (f *fakeIndex) Search(_ context.Context, _ string, k int) (domain.QueryResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if k < len(f.results) {
		return f.results[:k], nil
	}
	return f.results, nil
}
func (f *fakeIndex) Len() int                  { return f.n }
func (f *fakeIndex) Manifest() domain.Manifest { return domain.Manifest{Model: "fake", ChunkCount: f.n} }
func (f *fakeIndex) Close() error              { return nil }

type fakeIndexer struct {
	exists   bool
	openErr  error
	buildErr error
	index    *fakeIndex
	delay    time.Duration

	opens  atomic.Int32
	builds atomic.Int32
}

func (f *fakeIndexer) Exists(context.Context) bool { return f.exists }

func (f *fakeIndexer) Open(context.Context) (Index, error) {
	f.opens.Add(1)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.index, nil
}

func (f *fakeIndexer) Build(_ context.Context, chunks []domain.Chunk) (Index, error) {
	f.builds.Add(1)
	time.Sleep(f.delay)
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	f.index.n = len(chunks)
	return f.index, nil
}

func pages() []domain.SourceDocument {
	return []domain.SourceDocument{{Text: "Article 1 one", Page: 1}, {Text: "Article 2 two", Page: 2}}
}

func newFakeService(ix *fakeIndexer, ld *fakeLoader) *RetrievalService {
	return NewRetrievalService(ld, fakeSegmenter{}, ix, Config{SourcePath: "EU_2023_Dir.pdf"})
}

func TestSearchDirective_BuildsOnceThenReuses(t *testing.T) {
	ix := &fakeIndexer{index: &fakeIndex{}}
	ld := &fakeLoader{docs: pages()}
	svc := newFakeService(ix, ld)

	for i := 0; i < 3; i++ {
		_, err := svc.SearchDirective(context.Background(), "claims", 2)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), ix.builds.Load())
	assert.Equal(t, int32(1), ld.calls.Load())
	assert.Equal(t, int32(0), ix.opens.Load())

	st := svc.Status()
	assert.True(t, st.Initialized)
	assert.Equal(t, 2, st.Chunks)
}

func TestSearchDirective_OpensExistingIndex(t *testing.T) {
	ix := &fakeIndexer{exists: true, index: &fakeIndex{n: 5}}
	ld := &fakeLoader{}
	svc := newFakeService(ix, ld)

	_, err := svc.SearchDirective(context.Background(), "claims", 1)
	require.NoError(t, err)
	_, err = svc.SearchDirective(context.Background(), "labels", 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), ix.opens.Load())
	assert.Equal(t, int32(0), ix.builds.Load())
	assert.Equal(t, int32(0), ld.calls.Load())
}

func TestSearchDirective_OpenFailureRebuilds(t *testing.T) {
	ix := &fakeIndexer{exists: true, openErr: errors.New("corrupt"), index: &fakeIndex{}}
	svc := newFakeService(ix, &fakeLoader{docs: pages()})

	_, err := svc.SearchDirective(context.Background(), "claims", 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), ix.opens.Load())
	assert.Equal(t, int32(1), ix.builds.Load())
}

func TestSearchDirective_ConcurrentFirstCallsBuildOnce(t *testing.T) {
	ix := &fakeIndexer{index: &fakeIndex{}, delay: 20 * time.Millisecond}
	svc := newFakeService(ix, &fakeLoader{docs: pages()})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SearchDirective(context.Background(), "claims", 3)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), ix.builds.Load())
}

func TestSearchDirective_FailedInitRetries(t *testing.T) {
	ix := &fakeIndexer{index: &fakeIndex{}, buildErr: domain.NewProviderError("openai", "embeddings", errors.New("503"))}
	svc := newFakeService(ix, &fakeLoader{docs: pages()})

	_, err := svc.SearchDirective(context.Background(), "claims", 3)
	assert.ErrorIs(t, err, domain.ErrProvider)
	assert.False(t, svc.Status().Initialized)

	ix.buildErr = nil
	_, err = svc.SearchDirective(context.Background(), "claims", 3)
	require.NoError(t, err)
	assert.Equal(t, int32(2), ix.builds.Load())
}

func TestSearchDirective_MissingSource(t *testing.T) {
	svc := NewRetrievalService(loader.New(), fakeSegmenter{}, &fakeIndexer{index: &fakeIndex{}},
		Config{SourcePath: filepath.Join(t.TempDir(), "EU_2023_Dir.pdf")})

	_, err := svc.SearchDirective(context.Background(), "claims", 3)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestSearchDirective_InvalidKSkipsInit(t *testing.T) {
	ix := &fakeIndexer{index: &fakeIndex{}}
	svc := newFakeService(ix, &fakeLoader{docs: pages()})

	_, err := svc.SearchDirective(context.Background(), "claims", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidK)
	assert.Equal(t, int32(0), ix.builds.Load())
}

func TestDirective_EmptyAndErrorAreDistinct(t *testing.T) {
	ix := &fakeIndexer{exists: true, index: &fakeIndex{}}
	svc := newFakeService(ix, &fakeLoader{})

	out, err := svc.Directive(context.Background(), "claims")
	require.NoError(t, err)
	assert.Equal(t, NoResultsMessage, out)

	ix.index.err = errors.New("search failed")
	out, err = svc.Directive(context.Background(), "claims")
	assert.Error(t, err)
	assert.Empty(t, out)
}

func TestRebuild_ReplacesIndex(t *testing.T) {
	ix := &fakeIndexer{exists: true, index: &fakeIndex{n: 1}}
	svc := newFakeService(ix, &fakeLoader{docs: pages()})

	_, err := svc.SearchDirective(context.Background(), "claims", 1)
	require.NoError(t, err)

	st, err := svc.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), ix.builds.Load())
	assert.Equal(t, 2, st.Chunks)
}

func TestFormat(t *testing.T) {
	unknown := domain.Chunk{Content: "window text", Metadata: domain.ChunkMetadata{Source: domain.SourceName}}
	results := domain.QueryResult{
		{Chunk: domain.NewChunk("Article 7 Future performance", 12, "Article 7"), Rank: 1},
		{Chunk: unknown, Rank: 2},
	}

	want := "[Result 1 - Article 7 - Page 12]\nArticle 7 Future performance\n" +
		"\n" + strings.Repeat("=", 50) + "\n" +
		"[Result 2 - Unknown Article - Page Unknown]\nwindow text\n"
	assert.Equal(t, want, Format(results))
	assert.Equal(t, NoResultsMessage, Format(nil))
	assert.Equal(t, "\n"+strings.Repeat("=", 50)+"\n", Delimiter)
}

func TestRetrievalService_EndToEnd(t *testing.T) {
	ctx := context.Background()
	var text strings.Builder
	for _, body := range []string{
		"Article 1 Subject matter and scope of the directive",
		"Article 2 Definitions of environmental claim and label",
		"Article 3 Substantiation of explicit environmental claims",
		"Article 4 Substantiation of comparative claims",
		"Article 5 Communication of explicit claims",
		"Article 6 Communication of comparative claims",
		"Article 7 Claims on future environmental performance need an implementation plan",
		"Article 8 Requirements for environmental labelling schemes",
		"Article 9 Review of substantiation",
		"Article 10 Verification and certification",
		"Article 11 Establishment of verification procedures",
	} {
		text.WriteString(body + "\f")
	}
	src := filepath.Join(t.TempDir(), "directive.txt")
	require.NoError(t, os.WriteFile(src, []byte(text.String()), 0o644))

	dir := filepath.Join(t.TempDir(), "index_db")
	build := func() *RetrievalService {
		seg := chunker.NewSegmenter(chunker.NewArticleChunker(), chunker.NewWindowChunker(), chunker.DefaultMinChunks)
		mgr := index.NewManager(hashing.NewEmbedder(hashing.DefaultDimension), sqlite.NewStore(dir))
		return NewRetrievalService(loader.New(), seg, NewIndexer(mgr), Config{SourcePath: src})
	}

	first := build()
	res, err := first.SearchDirective(ctx, "future environmental performance implementation plan", 3)
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, "Article 7", res[0].Chunk.Metadata.ArticleLabel())
	assert.Equal(t, "7", res[0].Chunk.Metadata.PageLabel())
	assert.Equal(t, 11, first.Status().Chunks)

	second := build()
	reopened, err := second.SearchDirective(ctx, "future environmental performance implementation plan", 3)
	require.NoError(t, err)
	assert.Equal(t, res, reopened)
	assert.Equal(t, first.Status().Manifest.BuildID, second.Status().Manifest.BuildID)

	out, err := second.Directive(ctx, "future environmental performance implementation plan")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "[Result 1 - Article 7 - Page 7]\n"))
	assert.Equal(t, 2, strings.Count(out, strings.Repeat("=", 50)))
}
