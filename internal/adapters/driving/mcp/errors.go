// Package mcp provides an MCP (Model Context Protocol) server adapter for kbase.
// It lets AI assistants search the knowledge base, read its statistics and
// trigger compaction.
package mcp

import "errors"

// ErrMissingKnowledgeStore is returned when the knowledge store is not provided.
var ErrMissingKnowledgeStore = errors.New("mcp: knowledge store is required")

// errNoKnowledgeBase is returned by tools that need the facade when only the
// store was wired.
var errNoKnowledgeBase = errors.New("mcp: knowledge base is not configured")
