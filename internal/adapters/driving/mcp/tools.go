package mcp

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// defaultSearchLimit applies when the caller gives no limit.
const defaultSearchLimit = 10

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"text to look for in record questions and answers"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of records to return (default 10)"`
}

// SearchOutput is the output schema for the search tool.
type SearchOutput struct {
	Records []RecordOutput `json:"records"`
	Count   int            `json:"count"`
}

// RecordOutput is one knowledge record.
type RecordOutput struct {
	ID         string   `json:"id"`
	Question   string   `json:"question"`
	Answer     string   `json:"answer"`
	SourceID   string   `json:"source_id,omitempty"`
	Category   string   `json:"category,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	CreatedAt  string   `json:"created_at"`
}

// CompactInput is the input schema for the compact tool.
type CompactInput struct {
	Force bool `json:"force,omitempty" jsonschema:"compact even when no trigger condition is met"`
}

// ResultOutput mirrors an operation result.
type ResultOutput struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search",
		Description: "Search knowledge base records by question or answer text",
	}, s.handleSearch)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "stats",
		Description: "Report knowledge base, compaction and task statistics",
	}, s.handleStats)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "compact",
		Description: "Merge duplicate records in the knowledge base now",
	}, s.handleCompact)
}

func (s *Server) handleSearch(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	if input.Query == "" {
		return nil, SearchOutput{}, errors.New("query is required")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	records := s.ports.Store.Search(input.Query, limit)
	output := SearchOutput{
		Records: make([]RecordOutput, len(records)),
		Count:   len(records),
	}
	for i := range records {
		output.Records[i] = toRecordOutput(records[i])
	}
	return nil, output, nil
}

func (s *Server) handleStats(
	_ context.Context,
	_ *mcp.CallToolRequest,
	_ struct{},
) (*mcp.CallToolResult, ResultOutput, error) {
	if s.ports.KnowledgeBase == nil {
		stats := s.ports.Store.Stats()
		return nil, ResultOutput{
			Success: true,
			Message: "knowledge store statistics",
			Data:    map[string]any{"store": stats},
		}, nil
	}
	return nil, toResultOutput(s.ports.KnowledgeBase.GetStatistics()), nil
}

func (s *Server) handleCompact(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input CompactInput,
) (*mcp.CallToolResult, ResultOutput, error) {
	if s.ports.KnowledgeBase == nil {
		return nil, ResultOutput{}, errNoKnowledgeBase
	}
	return nil, toResultOutput(s.ports.KnowledgeBase.TriggerCompaction(ctx, input.Force)), nil
}

func toRecordOutput(r domain.Record) RecordOutput {
	return RecordOutput{
		ID:         r.ID,
		Question:   r.Key,
		Answer:     r.Value,
		SourceID:   r.SourceID,
		Category:   r.Metadata.Category,
		Keywords:   r.Metadata.Keywords,
		Confidence: r.Metadata.Confidence,
		CreatedAt:  r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func toResultOutput(r domain.OpResult) ResultOutput {
	return ResultOutput{Success: r.Success, Message: r.Message, Data: r.Data}
}
