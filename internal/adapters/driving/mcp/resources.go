package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// uriScheme is the custom URI scheme for kbase resources.
const uriScheme = "kbase://"

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "records",
		Name:        "records",
		Description: "Every knowledge record, oldest first",
		MIMEType:    "application/json",
	}, s.handleRecordsResource)

	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "sources",
		Name:        "sources",
		Description: "Processing status of every known source",
		MIMEType:    "application/json",
	}, s.handleSourcesResource)

	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "sources/{sourceId}",
		Name:        "source-status",
		Description: "Processing status of one source",
		MIMEType:    "application/json",
	}, s.handleSourceResource)
}

func (s *Server) handleRecordsResource(
	_ context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	records := s.ports.Store.GetAll()
	out := make([]RecordOutput, len(records))
	for i := range records {
		out[i] = toRecordOutput(records[i])
	}
	return jsonResource(req.Params.URI, out)
}

func (s *Server) handleSourcesResource(
	_ context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	statuses := s.ports.Store.ListStatuses()
	if statuses == nil {
		statuses = []domain.SourceStatus{}
	}
	return jsonResource(req.Params.URI, statuses)
}

func (s *Server) handleSourceResource(
	_ context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	sourceID := extractSourceID(req.Params.URI)
	if sourceID == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	status, err := s.ports.Store.GetStatus(sourceID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	if err != nil {
		return nil, fmt.Errorf("getting source status: %w", err)
	}
	return jsonResource(req.Params.URI, status)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// extractSourceID extracts the source ID from a URI like kbase://sources/{sourceId}.
func extractSourceID(uri string) string {
	const prefix = uriScheme + "sources/"

	if !strings.HasPrefix(uri, prefix) {
		return ""
	}
	id := strings.TrimPrefix(uri, prefix)
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}
