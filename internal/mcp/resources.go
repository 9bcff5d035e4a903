package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const statusURI = "greenrag://index/status"

func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         statusURI,
		Name:        "index-status",
		Description: "State of the directive index: build id, model and chunk count",
		MIMEType:    "application/json",
	}, s.handleStatusResource)
}

type statusInfo struct {
	Initialized bool   `json:"initialized"`
	Source      string `json:"source"`
	Chunks      int    `json:"chunks"`
	BuildID     string `json:"build_id,omitempty"`
	Model       string `json:"model,omitempty"`
	Dimension   int    `json:"dimension,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

func (s *Server) handleStatusResource(
	_ context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	st := s.retriever.Status()
	info := statusInfo{
		Initialized: st.Initialized,
		Source:      st.Source,
		Chunks:      st.Chunks,
		BuildID:     st.Manifest.BuildID,
		Model:       st.Manifest.Model,
		Dimension:   st.Manifest.Dimension,
	}
	if !st.Manifest.CreatedAt.IsZero() {
		info.CreatedAt = st.Manifest.CreatedAt.Format(time.RFC3339)
	}

	data, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshaling status: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
