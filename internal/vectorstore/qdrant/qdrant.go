package qdrant

import (
	"context"
	"errors"
	"fmt"
	"time"

	qdrantclient "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"greenrag/internal/domain"
	"greenrag/internal/logger"
	"greenrag/internal/vectorstore"
)

const upsertBatch = 256

// Payload keys stored with every point.
const (
	keyPosition   = "position"
	keyContent    = "content"
	keyPage       = "page"
	keyArticle    = "article"
	keySource     = "source"
	keyBuildID    = "build_id"
	keyModel      = "model"
	keyChunkCount = "chunk_count"
	keyCreatedAt  = "created_at"
)

var (
	_ vectorstore.Store = (*Store)(nil)
	_ vectorstore.Index = (*Index)(nil)
)

// Store keeps an index in a Qdrant collection over gRPC.
// It assumes cosine distance and owns the whole collection.
type Store struct {
	conn        *grpc.ClientConn
	collections qdrantclient.CollectionsClient
	points      qdrantclient.PointsClient
	collection  string
	timeout     time.Duration
}

type Config struct {
	// Addr is the gRPC host:port, usually localhost:6334.
	Addr       string
	APIKey     string
	Collection string
	Timeout    time.Duration
	// DialOptions are appended to the defaults (plaintext, api-key header).
	DialOptions []grpc.DialOption
}

// NewStore creates the client connection. Nothing is dialled until the first call.
func NewStore(cfg Config) (*Store, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
	}
	opts = append(opts, cfg.DialOptions...)
	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant address %q: %v", domain.ErrConfiguration, cfg.Addr, err)
	}
	return &Store{
		conn:        conn,
		collections: qdrantclient.NewCollectionsClient(conn),
		points:      qdrantclient.NewPointsClient(conn),
		collection:  cfg.Collection,
		timeout:     timeout,
	}, nil
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(metadata.AppendToOutgoingContext(ctx, "api-key", key), method, req, reply, cc, opts...)
	}
}

func (s *Store) Name() string { return "qdrant" }

// Close releases the gRPC connection.
func (s *Store) Close() error { return s.conn.Close() }

func (s *Store) Exists(ctx context.Context) bool {
	_, err := s.info(ctx)
	return err == nil
}

// Build drops and recreates the collection, then upserts every chunk with its payload.
func (s *Store) Build(ctx context.Context, chunks []domain.Chunk, vectors [][]float32, manifest domain.Manifest) (vectorstore.Index, error) {
	if len(chunks) != len(vectors) {
		return nil, errors.New("chunks and vectors length mismatch")
	}
	if len(vectors) == 0 {
		return nil, domain.ErrEmptyCorpus
	}
	dimension := len(vectors[0])
	for _, v := range vectors {
		if len(v) != dimension {
			return nil, errors.New("vector dimension mismatch")
		}
	}
	manifest.Dimension = dimension
	manifest.ChunkCount = len(chunks)

	if err := s.call(ctx, func(ctx context.Context) error {
		_, err := s.collections.Delete(ctx, &qdrantclient.DeleteCollection{CollectionName: s.collection})
		return err
	}); err != nil && status.Code(err) != codes.NotFound {
		return nil, fmt.Errorf("dropping collection: %w", err)
	}
	if err := s.call(ctx, func(ctx context.Context) error {
		_, err := s.collections.Create(ctx, &qdrantclient.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: &qdrantclient.VectorsConfig{
				Config: &qdrantclient.VectorsConfig_Params{
					Params: &qdrantclient.VectorParams{
						Size:     uint64(dimension),
						Distance: qdrantclient.Distance_Cosine,
					},
				},
			},
		})
		return err
	}); err != nil {
		return nil, fmt.Errorf("creating collection: %w", err)
	}

	wait := true
	for start := 0; start < len(chunks); start += upsertBatch {
		end := min(start+upsertBatch, len(chunks))
		points := make([]*qdrantclient.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			points = append(points, &qdrantclient.PointStruct{
				Id: &qdrantclient.PointId{
					PointIdOptions: &qdrantclient.PointId_Num{Num: uint64(i)},
				},
				Vectors: &qdrantclient.Vectors{
					VectorsOptions: &qdrantclient.Vectors_Vector{
						Vector: &qdrantclient.Vector{Data: vectors[i]},
					},
				},
				Payload: newPayload(i, chunks[i], manifest),
			})
		}
		if err := s.call(ctx, func(ctx context.Context) error {
			_, err := s.points.Upsert(ctx, &qdrantclient.UpsertPoints{
				CollectionName: s.collection,
				Wait:           &wait,
				Points:         points,
			})
			return err
		}); err != nil {
			return nil, fmt.Errorf("upserting points %d-%d: %w", start, end-1, err)
		}
	}
	logger.Info("Upserted %d points into qdrant collection %s", len(chunks), s.collection)
	return &Index{store: s, manifest: manifest}, nil
}

// Open checks the collection holds a complete build and reads the manifest
// from the first stored point.
func (s *Store) Open(ctx context.Context) (vectorstore.Index, error) {
	info, err := s.info(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: qdrant collection %s", domain.ErrNotFound, s.collection)
		}
		return nil, fmt.Errorf("reading collection info: %w", err)
	}
	count := int(info.GetPointsCount())
	if count == 0 {
		return nil, fmt.Errorf("%w: qdrant collection %s is empty", domain.ErrNotFound, s.collection)
	}

	var first []*qdrantclient.RetrievedPoint
	limit := uint32(1)
	if err := s.call(ctx, func(ctx context.Context) error {
		resp, err := s.points.Scroll(ctx, &qdrantclient.ScrollPoints{
			CollectionName: s.collection,
			Limit:          &limit,
			WithPayload:    withPayload(),
		})
		first = resp.GetResult()
		return err
	}); err != nil {
		return nil, fmt.Errorf("reading manifest point: %w", err)
	}
	if len(first) == 0 {
		return nil, fmt.Errorf("%w: qdrant collection %s has no readable points", domain.ErrNotFound, s.collection)
	}
	p := first[0].GetPayload()
	// An interrupted build leaves fewer points than the manifest recorded.
	if want := int(p[keyChunkCount].GetIntegerValue()); want != count {
		return nil, fmt.Errorf("%w: qdrant collection %s holds %d of %d points", domain.ErrNotFound, s.collection, count, want)
	}
	manifest := domain.Manifest{
		BuildID:    p[keyBuildID].GetStringValue(),
		Model:      p[keyModel].GetStringValue(),
		Dimension:  int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()),
		ChunkCount: count,
	}
	if created := p[keyCreatedAt].GetStringValue(); created != "" {
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			manifest.CreatedAt = ts
		}
	}
	return &Index{store: s, manifest: manifest}, nil
}

func (s *Store) info(ctx context.Context) (*qdrantclient.CollectionInfo, error) {
	var info *qdrantclient.CollectionInfo
	err := s.call(ctx, func(ctx context.Context) error {
		resp, err := s.collections.Get(ctx, &qdrantclient.GetCollectionInfoRequest{CollectionName: s.collection})
		info = resp.GetResult()
		return err
	})
	return info, err
}

// call runs fn under the store timeout.
func (s *Store) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return fn(ctx)
}

// Index searches a Qdrant collection.
type Index struct {
	store    *Store
	manifest domain.Manifest
}

func (x *Index) Len() int                  { return x.manifest.ChunkCount }
func (x *Index) Manifest() domain.Manifest { return x.manifest }
func (x *Index) Close() error              { return nil }

func (x *Index) Search(ctx context.Context, vector []float32, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		return nil, domain.ErrInvalidK
	}
	var hits []*qdrantclient.ScoredPoint
	if err := x.store.call(ctx, func(ctx context.Context) error {
		resp, err := x.store.points.Search(ctx, &qdrantclient.SearchPoints{
			CollectionName: x.store.collection,
			Vector:         vector,
			Limit:          uint64(topK),
			WithPayload:    withPayload(),
		})
		hits = resp.GetResult()
		return err
	}); err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}
	results := make([]domain.SearchResult, 0, len(hits))
	for i, h := range hits {
		results = append(results, domain.SearchResult{
			Chunk: chunkFromPayload(h.GetPayload()),
			Rank:  i + 1,
			Score: float64(h.GetScore()),
		})
	}
	return results, nil
}

func withPayload() *qdrantclient.WithPayloadSelector {
	return &qdrantclient.WithPayloadSelector{
		SelectorOptions: &qdrantclient.WithPayloadSelector_Enable{Enable: true},
	}
}

func newPayload(position int, c domain.Chunk, m domain.Manifest) map[string]*qdrantclient.Value {
	p := map[string]*qdrantclient.Value{
		keyPosition:   intValue(int64(position)),
		keyContent:    stringValue(c.Content),
		keySource:     stringValue(c.Metadata.Source),
		keyBuildID:    stringValue(m.BuildID),
		keyModel:      stringValue(m.Model),
		keyChunkCount: intValue(int64(m.ChunkCount)),
	}
	if c.Metadata.Page != nil {
		p[keyPage] = intValue(int64(*c.Metadata.Page))
	}
	if c.Metadata.Article != nil {
		p[keyArticle] = stringValue(*c.Metadata.Article)
	}
	if !m.CreatedAt.IsZero() {
		p[keyCreatedAt] = stringValue(m.CreatedAt.UTC().Format(time.RFC3339Nano))
	}
	return p
}

// chunkFromPayload rebuilds a chunk; absent page or article keys stay nil.
func chunkFromPayload(p map[string]*qdrantclient.Value) domain.Chunk {
	md := domain.ChunkMetadata{Source: p[keySource].GetStringValue()}
	if v, ok := p[keyPage].GetKind().(*qdrantclient.Value_IntegerValue); ok {
		page := int(v.IntegerValue)
		md.Page = &page
	}
	if v, ok := p[keyArticle].GetKind().(*qdrantclient.Value_StringValue); ok {
		article := v.StringValue
		md.Article = &article
	}
	return domain.Chunk{Content: p[keyContent].GetStringValue(), Metadata: md}
}

func stringValue(s string) *qdrantclient.Value {
	return &qdrantclient.Value{Kind: &qdrantclient.Value_StringValue{StringValue: s}}
}

func intValue(n int64) *qdrantclient.Value {
	return &qdrantclient.Value{Kind: &qdrantclient.Value_IntegerValue{IntegerValue: n}}
}
