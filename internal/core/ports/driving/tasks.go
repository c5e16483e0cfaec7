package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// TaskCallback is invoked on the worker when a task reaches a terminal state.
type TaskCallback func(status domain.TaskStatus)

// TaskRequest describes work to submit.
type TaskRequest struct {
	Kind     string
	SourceID string
	Payload  map[string]any
	Callback TaskCallback
}

// TaskProcessor runs long oracle jobs on a bounded worker pool.
type TaskProcessor interface {
	// Start launches the dispatcher and workers.
	Start(ctx context.Context) error

	// Submit queues a task and returns its id immediately.
	Submit(req TaskRequest) (string, error)

	// Resubmit queues a failed task again.
	Resubmit(ctx context.Context, id string) error

	// Status returns a task's state, or domain.TaskNotFound.
	Status(id string) domain.TaskStatus

	// Wait blocks until the task is terminal or ctx is done.
	Wait(ctx context.Context, id string) (domain.TaskStatus, error)

	// WaitForAll blocks until nothing is queued or processing, or timeout.
	WaitForAll(timeout time.Duration) domain.WaitSummary

	// FailedTasks returns tasks that exhausted their retries.
	FailedTasks(ctx context.Context) ([]domain.Task, error)

	// Stats returns processor statistics.
	Stats() domain.ProcessorStats

	// Stop shuts the processor down. With drain, queued tasks still run;
	// without it, they are marked failed.
	Stop(ctx context.Context, drain bool) error
}
