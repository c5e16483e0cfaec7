package domain

import "time"

// ProcessingStatus is the pipeline stage a source has reached.
type ProcessingStatus string

// Pipeline stages in their expected order. Transitions are forward-only by
// convention; re-applying a status overwrites it, and compacted is not
// terminal because new records from the same source may arrive later.
const (
	StatusProcessing    ProcessingStatus = "processing"
	StatusASRCompleted  ProcessingStatus = "asr_completed"
	StatusLLMCompleted  ProcessingStatus = "llm_completed"
	StatusCleanFinished ProcessingStatus = "clean_finished"
	StatusQAExtracted   ProcessingStatus = "qa_extracted"
	StatusCompacted     ProcessingStatus = "compacted"
)

// AllProcessingStatuses returns the stages in pipeline order.
func AllProcessingStatuses() []ProcessingStatus {
	return []ProcessingStatus{
		StatusProcessing,
		StatusASRCompleted,
		StatusLLMCompleted,
		StatusCleanFinished,
		StatusQAExtracted,
		StatusCompacted,
	}
}

// IsValid returns true if the status is recognised.
func (s ProcessingStatus) IsValid() bool {
	for _, known := range AllProcessingStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

// String returns the string representation.
func (s ProcessingStatus) String() string {
	return string(s)
}

// SourceStatus is one entry of the processing ledger.
type SourceStatus struct {
	SourceID    string           `json:"source_id"`
	Status      ProcessingStatus `json:"status"`
	LastUpdated time.Time        `json:"last_updated"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
}
