package mcp

import (
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
)

// Ports aggregates the driving ports the MCP server needs.
type Ports struct {
	// Store answers searches and resource reads.
	Store driving.KnowledgeStore

	// KnowledgeBase serves the stats and compact tools. Optional.
	KnowledgeBase driving.KnowledgeBase
}

// Validate ensures all required ports are set.
func (p *Ports) Validate() error {
	if p.Store == nil {
		return ErrMissingKnowledgeStore
	}
	return nil
}
