package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greenrag/internal/domain"
	"greenrag/internal/service"
)

func TestServer_handleSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("returns formatted block and structured results", func(t *testing.T) {
		retriever := &mockRetriever{
			results: domain.QueryResult{
				{Chunk: domain.NewChunk("Article 7 Future performance claims", 14, "Article 7"), Rank: 1, Score: 0.91},
			},
		}
		server, err := NewServer(retriever)
		require.NoError(t, err)

		result, output, err := server.handleSearch(ctx, nil, SearchInput{Query: "net zero by 2050", K: 5})
		require.NoError(t, err)
		assert.Equal(t, 5, retriever.gotK)
		assert.Equal(t, "net zero by 2050", retriever.gotQuery)

		assert.Equal(t, 1, output.Count)
		assert.Equal(t, "Article 7", output.Results[0].Article)
		assert.Equal(t, "14", output.Results[0].Page)
		assert.Equal(t, 0.91, output.Results[0].Score)

		require.NotNil(t, result)
		require.Len(t, result.Content, 1)
		text, ok := result.Content[0].(*mcp.TextContent)
		require.True(t, ok)
		assert.Equal(t, service.Format(retriever.results), text.Text)
	})

	t.Run("default k comes from the retriever", func(t *testing.T) {
		retriever := &mockRetriever{}
		server, err := NewServer(retriever)
		require.NoError(t, err)

		result, output, err := server.handleSearch(ctx, nil, SearchInput{Query: "recyclable"})
		require.NoError(t, err)
		assert.Equal(t, service.DefaultK, retriever.gotK)
		assert.Equal(t, 0, output.Count)
		assert.Equal(t, service.NoResultsMessage, result.Content[0].(*mcp.TextContent).Text)
	})

	t.Run("returns error on search failure", func(t *testing.T) {
		server, err := NewServer(&mockRetriever{err: errors.New("provider unavailable")})
		require.NoError(t, err)

		_, _, err = server.handleSearch(ctx, nil, SearchInput{Query: "carbon neutral"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "provider unavailable")
	})

	t.Run("blank query is rejected", func(t *testing.T) {
		retriever := &mockRetriever{}
		server, err := NewServer(retriever)
		require.NoError(t, err)

		_, _, err = server.handleSearch(ctx, nil, SearchInput{Query: "  "})
		require.Error(t, err)
		assert.Zero(t, retriever.gotK)
	})
}

func TestServer_handleStatusResource(t *testing.T) {
	retriever := &mockRetriever{status: service.Status{
		Initialized: true,
		Source:      "EU_2023_Dir.pdf",
		Chunks:      42,
		Manifest: domain.Manifest{
			BuildID:   "b-1",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			CreatedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		},
	}}
	server, err := NewServer(retriever)
	require.NoError(t, err)

	req := &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: statusURI}}
	result, err := server.handleStatusResource(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)
	assert.JSONEq(t, `{
		"initialized": true,
		"source": "EU_2023_Dir.pdf",
		"chunks": 42,
		"build_id": "b-1",
		"model": "text-embedding-3-small",
		"dimension": 1536,
		"created_at": "2026-05-01T00:00:00Z"
	}`, result.Contents[0].Text)
}
