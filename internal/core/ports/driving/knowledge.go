package driving

import (
	"context"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// KnowledgeStore is the append-only record store.
type KnowledgeStore interface {
	// Append adds records to the active buffer in submission order.
	// When persist is true the durable file is rewritten before returning.
	Append(ctx context.Context, records []domain.Record, persist bool) error

	// GetAll returns every record from both buffers ordered by creation time.
	GetAll() []domain.Record

	// Search returns up to limit records whose key or value contains query,
	// ignoring case. A limit of zero or less returns every match.
	Search(query string, limit int) []domain.Record

	// UpdateStatus sets a source's processing status and persists the ledger.
	UpdateStatus(ctx context.Context, sourceID string, status domain.ProcessingStatus, metadata map[string]any) error

	// GetStatus returns a source's status or domain.ErrNotFound.
	GetStatus(sourceID string) (*domain.SourceStatus, error)

	// EligibleSourceIDs returns the sources currently at status.
	EligibleSourceIDs(status domain.ProcessingStatus) []string

	// ListStatuses returns every ledger entry.
	ListStatuses() []domain.SourceStatus

	// Save flushes records and ledger to disk.
	Save(ctx context.Context) error

	// Stats returns store statistics.
	Stats() domain.KnowledgeStats
}

// KnowledgeBase is the facade offered to pipeline collaborators. Every
// operation returns a structured result instead of an error.
type KnowledgeBase interface {
	// Append adds records, optionally persisting immediately.
	Append(ctx context.Context, records []domain.Record, persist bool) domain.OpResult

	// UpdateStatus records a source's pipeline stage.
	UpdateStatus(ctx context.Context, sourceID string, status domain.ProcessingStatus, metadata map[string]any) domain.OpResult

	// EligibleSourceIDs lists sources at status.
	EligibleSourceIDs(status domain.ProcessingStatus) domain.OpResult

	// TriggerCompaction runs a compaction now.
	TriggerCompaction(ctx context.Context, force bool) domain.OpResult

	// GetStatistics reports store, scheduler and processor statistics.
	GetStatistics() domain.OpResult
}
