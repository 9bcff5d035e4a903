package mcp

import (
	"context"

	"greenrag/internal/domain"
	"greenrag/internal/service"
)

// mockRetriever is a test double for Retriever.
type mockRetriever struct {
	results  domain.QueryResult
	err      error
	status   service.Status
	defaultK int
	gotQuery string
	gotK     int
}

func (m *mockRetriever) SearchDirective(_ context.Context, query string, k int) (domain.QueryResult, error) {
	m.gotQuery, m.gotK = query, k
	return m.results, m.err
}

func (m *mockRetriever) DefaultK() int {
	if m.defaultK == 0 {
		return service.DefaultK
	}
	return m.defaultK
}

func (m *mockRetriever) Status() service.Status { return m.status }
