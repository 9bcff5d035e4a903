package mcp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"greenrag/internal/domain"
	"greenrag/internal/logger"
	"greenrag/internal/service"
)

// Version is the MCP server version.
const Version = "0.1.0"

// Retriever is the part of the retrieval service the server needs.
type Retriever interface {
	SearchDirective(ctx context.Context, query string, k int) (domain.QueryResult, error)
	DefaultK() int
	Status() service.Status
}

// Server is the MCP server for directive retrieval.
type Server struct {
	retriever Retriever
	server    *mcp.Server
}

// NewServer creates a new MCP server backed by retriever.
func NewServer(retriever Retriever) (*Server, error) {
	if retriever == nil {
		return nil, ErrMissingRetriever
	}

	impl := &mcp.Implementation{
		Name:    "greenrag",
		Version: Version,
	}

	s := &Server{
		retriever: retriever,
		server:    mcp.NewServer(impl, nil),
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Run serves over stdio until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	logger.Info("Serving MCP over stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves streamable HTTP on addr until the context is cancelled.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background()) //nolint:errcheck
	}()

	logger.Info("Serving MCP over HTTP on %s", addr)
	err := httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mcp http server: %w", err)
	}
	return nil
}
