package driven

import (
	"context"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// KnowledgeFile persists the full record set as one durable file.
// Every Save replaces the file atomically; readers never observe a partial
// write.
type KnowledgeFile interface {
	// Load parses the durable file. A missing file yields no records and no error.
	Load(ctx context.Context) ([]domain.Record, error)

	// Save replaces the durable file with records.
	Save(ctx context.Context, records []domain.Record) error

	// Path returns the file location.
	Path() string
}

// StatusLedger persists the per-source processing status.
type StatusLedger interface {
	// Load reads the ledger. A missing file yields no entries and no error.
	Load(ctx context.Context) ([]domain.SourceStatus, error)

	// Save replaces the ledger with entries.
	Save(ctx context.Context, entries []domain.SourceStatus) error

	// Path returns the file location.
	Path() string
}
