package domain

import "time"

// SchedulerConfig holds compaction scheduler configuration.
type SchedulerConfig struct {
	// Enabled is the master switch for background compaction.
	Enabled bool

	// Interval is how often the trigger condition is evaluated.
	Interval time.Duration

	// MinTotalRecords triggers compaction once the store holds this many records.
	MinTotalRecords int

	// MinActiveRecords is the initial active-buffer trigger.
	MinActiveRecords int

	// MaxActiveRecords caps the adaptive active-buffer trigger.
	MaxActiveRecords int

	// AdaptiveStep is added to the active trigger after a poor compaction.
	AdaptiveStep int

	// MaxInterval forces a compaction after this long without a success.
	MaxInterval time.Duration

	// CompressionRatioThreshold is the ratio below which a run counts as poor.
	CompressionRatioThreshold float64

	// HistoryLimit is how many compaction runs are kept in history.
	HistoryLimit int
}

// DefaultSchedulerConfig returns sensible defaults for the scheduler.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:                   true,
		Interval:                  30 * time.Second,
		MinTotalRecords:           50,
		MinActiveRecords:          20,
		MaxActiveRecords:          100,
		AdaptiveStep:              10,
		MaxInterval:               60 * time.Minute,
		CompressionRatioThreshold: 0.1,
		HistoryLimit:              100,
	}
}

// Trigger reasons recorded with each compaction run.
const (
	TriggerManual      = "manual"
	TriggerForced      = "forced"
	TriggerTotal       = "total_records"
	TriggerActive      = "active_records"
	TriggerMaxInterval = "max_interval"
	TriggerShutdown    = "shutdown"
)

// CompactionRun represents the outcome of one scheduled or manual compaction.
type CompactionRun struct {
	// ID identifies the run.
	ID string

	// Trigger is why the run started.
	Trigger string

	// StartedAt is when the run started.
	StartedAt time.Time

	// EndedAt is when the run completed.
	EndedAt time.Time

	// Success indicates whether the run completed without error.
	Success bool

	// Error contains the error message if Success is false.
	Error string

	// OriginalCount and FinalCount are the snapshot and merged sizes.
	OriginalCount int
	FinalCount    int

	// GroupingMode records how groups were formed.
	GroupingMode GroupingMode
}

// CompressionRatio returns the fraction of snapshot records removed.
func (r CompactionRun) CompressionRatio() float64 {
	if r.OriginalCount == 0 {
		return 0
	}
	return float64(r.OriginalCount-r.FinalCount) / float64(r.OriginalCount)
}

// SchedulerStats summarises scheduler activity.
type SchedulerStats struct {
	Running       bool       `json:"running"`
	Attempts      int64      `json:"attempts"`
	Successes     int64      `json:"successes"`
	Failures      int64      `json:"failures"`
	LastAttempt   *time.Time `json:"last_attempt,omitempty"`
	LastSuccess   *time.Time `json:"last_success,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	ActiveTrigger int        `json:"active_trigger"`
	LastRatio     float64    `json:"last_ratio"`
}
