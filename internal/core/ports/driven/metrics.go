package driven

import (
	"time"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// Metrics receives operational measurements. Optional - when nil, nothing
// is recorded.
type Metrics interface {
	// RecordAppend counts appended records.
	RecordAppend(n int)

	// SetBufferSizes reports the active and inactive buffer lengths.
	SetBufferSizes(active, inactive int)

	// RecordCompaction reports a finished compaction run.
	RecordCompaction(run domain.CompactionRun)

	// RecordTask reports a task reaching state.
	RecordTask(kind string, state domain.TaskState)

	// RecordOracleCall reports an oracle call's latency, token usage and
	// outcome. usage is zero when the provider reported none.
	RecordOracleCall(op string, d time.Duration, usage TokenUsage, err error)
}
