package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// CompactionScheduler runs compactions in the background and on demand.
type CompactionScheduler interface {
	// Start launches the background evaluation loop and returns immediately.
	Start(ctx context.Context) error

	// Stop signals the loop and waits up to timeout for it to exit.
	// An in-flight compaction is never cancelled.
	Stop(timeout time.Duration) error

	// TriggerCompaction runs snapshot, merge and switch now. Unless force is
	// set, it does nothing when the trigger condition is not met.
	TriggerCompaction(ctx context.Context, force bool) (*domain.CompactionRun, error)

	// Stats returns scheduler statistics.
	Stats() domain.SchedulerStats

	// History returns recent compaction runs, most recent first.
	History(ctx context.Context, limit int) ([]domain.CompactionRun, error)
}
