package domain

import "time"

// Snapshot is a copy of the active buffer taken for compaction.
// Offset is the active buffer length at the moment of the copy; records at
// or beyond it are the tail that must survive the switch.
type Snapshot struct {
	Records   []Record
	Offset    int
	CreatedAt time.Time
}

// BufferLabel names one of the two in-memory buffers.
type BufferLabel string

// Buffer labels.
const (
	BufferA BufferLabel = "A"
	BufferB BufferLabel = "B"
)

// Other returns the opposite buffer.
func (b BufferLabel) Other() BufferLabel {
	if b == BufferA {
		return BufferB
	}
	return BufferA
}

// KnowledgeStats summarises the store.
type KnowledgeStats struct {
	TotalRecords     int                      `json:"total_records"`
	ActiveRecords    int                      `json:"active_records"`
	InactiveRecords  int                      `json:"inactive_records"`
	ActiveBuffer     BufferLabel              `json:"active_buffer"`
	Writes           int64                    `json:"writes"`
	Compactions      int64                    `json:"compactions"`
	LastCompaction   *time.Time               `json:"last_compaction,omitempty"`
	SnapshotPending  bool                     `json:"snapshot_pending"`
	Sources          int                      `json:"sources"`
	StatusCounts     map[ProcessingStatus]int `json:"status_counts"`
	KnowledgeFile    string                   `json:"knowledge_file,omitempty"`
	StatusLedgerFile string                   `json:"status_file,omitempty"`
}
