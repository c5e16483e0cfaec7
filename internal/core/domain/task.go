package domain

import "time"

// TaskState is the lifecycle state of an asynchronous task.
type TaskState string

// Task states.
const (
	TaskQueued     TaskState = "queued"
	TaskProcessing TaskState = "processing"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
	TaskNotFound   TaskState = "not_found"
)

// IsTerminal returns true for states that no longer change without a resubmit.
func (s TaskState) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskKindExtract extracts records from a cleaned transcript.
const TaskKindExtract = "extract"

// Task is a unit of work for the task processor.
type Task struct {
	ID          string
	Kind        string
	SourceID    string
	Payload     map[string]any
	State       TaskState
	Attempts    int
	Error       string
	Result      any
	SubmittedAt time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// TaskStatus is the externally visible view of a task.
type TaskStatus struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind,omitempty"`
	SourceID string    `json:"source_id,omitempty"`
	State    TaskState `json:"state"`
	// Position is the 1-based queue position while queued.
	Position int    `json:"position,omitempty"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
	Result   any    `json:"result,omitempty"`
}

// ProcessorConfig tunes the task processor.
type ProcessorConfig struct {
	// Workers is the number of concurrent jobs.
	Workers int

	// MaxRetries is how many times a failed job is retried.
	MaxRetries int

	// BackoffInitial and BackoffMax bound the retry delay.
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// JobTimeout bounds a single job attempt. Zero disables it.
	JobTimeout time.Duration

	// QueueCapacity sizes the job channel between dispatcher and workers.
	QueueCapacity int
}

// DefaultProcessorConfig returns sensible defaults.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		Workers:        4,
		MaxRetries:     2,
		BackoffInitial: time.Second,
		BackoffMax:     10 * time.Second,
		JobTimeout:     5 * time.Minute,
		QueueCapacity:  4,
	}
}

// ProcessorStats summarises task processor activity.
type ProcessorStats struct {
	Workers    int   `json:"workers"`
	Queued     int   `json:"queued"`
	Processing int   `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Retries    int64 `json:"retries"`
	Submitted  int64 `json:"submitted"`
	Stopped    bool  `json:"stopped"`
}

// WaitSummary reports the outcome of waiting on all tasks.
type WaitSummary struct {
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
	Pending   int  `json:"pending"`
	TimedOut  bool `json:"timed_out"`
}
