package driven

import (
	"context"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// HistoryStore keeps compaction history and failed tasks across restarts.
type HistoryStore interface {
	// RecordCompaction logs a compaction run.
	RecordCompaction(ctx context.Context, run *domain.CompactionRun) error

	// ListCompactions returns recent runs, most recent first.
	ListCompactions(ctx context.Context, limit int) ([]domain.CompactionRun, error)

	// PruneHistory keeps the most recent 'keep' compaction runs.
	PruneHistory(ctx context.Context, keep int) error

	// SaveFailedTask persists a task that exhausted its retries.
	// Creates or updates the task based on ID.
	SaveFailedTask(ctx context.Context, task *domain.Task) error

	// ListFailedTasks returns failed tasks, oldest first.
	ListFailedTasks(ctx context.Context) ([]domain.Task, error)

	// DeleteFailedTask removes a failed task, typically after resubmission.
	DeleteFailedTask(ctx context.Context, id string) error
}
