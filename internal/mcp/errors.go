// Package mcp exposes directive retrieval as an MCP (Model Context Protocol)
// tool so downstream model stages can call it.
package mcp

import "errors"

// ErrMissingRetriever is returned when no retrieval service is provided.
var ErrMissingRetriever = errors.New("mcp: retrieval service is required")
