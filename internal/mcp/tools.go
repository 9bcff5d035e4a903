package mcp

import (
	"context"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"greenrag/internal/service"
)

// ToolName is the name downstream stages call.
const ToolName = "search_eu_directive"

// SearchInput is the input schema for the directive search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"what to look up in the EU Green Claims Directive"`
	K     int    `json:"k,omitempty" jsonschema:"number of passages to return (default 3)"`
}

// SearchOutput is the structured output of the directive search tool.
type SearchOutput struct {
	Results []PassageOutput `json:"results"`
	Count   int             `json:"count"`
}

// PassageOutput is one retrieved passage.
type PassageOutput struct {
	Rank    int     `json:"rank"`
	Article string  `json:"article"`
	Page    string  `json:"page"`
	Score   float64 `json:"score"`
	Content string  `json:"content"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name: ToolName,
		Description: "Search the EU Green Claims Directive for passages relevant to an environmental claim. " +
			"Returns passages annotated with article and page.",
	}, s.handleSearch)
}

func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchOutput{}, errors.New("query is required")
	}
	k := input.K
	if k <= 0 {
		k = s.retriever.DefaultK()
	}

	results, err := s.retriever.SearchDirective(ctx, input.Query, k)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	output := SearchOutput{
		Results: make([]PassageOutput, len(results)),
		Count:   len(results),
	}
	for i, r := range results {
		output.Results[i] = PassageOutput{
			Rank:    r.Rank,
			Article: r.Chunk.Metadata.ArticleLabel(),
			Page:    r.Chunk.Metadata.PageLabel(),
			Score:   r.Score,
			Content: r.Chunk.Content,
		}
	}

	result := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: service.Format(results)}},
	}
	return result, output, nil
}
