package domain

import "time"

// GroupingMode records how candidate groups were formed for a compaction.
type GroupingMode string

// Grouping modes.
const (
	// GroupingOracle means the LLM grouped the whole batch in one call.
	GroupingOracle GroupingMode = "oracle"

	// GroupingClustered means embeddings and clustering produced coarse
	// batches that the LLM then grouped.
	GroupingClustered GroupingMode = "clustered"

	// GroupingChunked means the batch was cut sequentially because
	// embeddings were unavailable.
	GroupingChunked GroupingMode = "chunked"

	// GroupingHeuristic means the similarity heuristic grouped at least
	// one batch because the oracle failed or answered unparseably.
	GroupingHeuristic GroupingMode = "heuristic"

	// GroupingNone means there was nothing to group.
	GroupingNone GroupingMode = "none"
)

// CompactionResult is the outcome of one merge engine pass.
type CompactionResult struct {
	// Records is the merged output. len(Records) <= OriginalCount.
	Records []Record

	OriginalCount     int
	FinalCount        int
	DuplicatesRemoved int
	GroupsMerged      int
	MergeFailures     int
	GroupingMode      GroupingMode
	Duration          time.Duration
}

// CompressionRatio returns the fraction of records removed.
func (r *CompactionResult) CompressionRatio() float64 {
	if r == nil || r.OriginalCount == 0 {
		return 0
	}
	return float64(r.OriginalCount-r.FinalCount) / float64(r.OriginalCount)
}

// CompactionConfig tunes the merge engine.
type CompactionConfig struct {
	// SimilarityThreshold is the heuristic grouping cut-off.
	SimilarityThreshold float64

	// FullAnalysisLimit is the largest batch sent to the oracle in one call.
	FullAnalysisLimit int

	// TargetBatchSize is the preferred coarse batch size after clustering.
	TargetBatchSize int

	// MinClusterSize and MinSamples configure HDBSCAN.
	MinClusterSize int
	MinSamples     int

	// MergeWorkers bounds concurrent merge oracle calls.
	MergeWorkers int

	// EmbeddingWorkers bounds concurrent embedding batches.
	EmbeddingWorkers int

	// EmbeddingTokenBudget bounds the tokens sent per embedding batch.
	EmbeddingTokenBudget int
}

// DefaultCompactionConfig returns the merge engine defaults.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		SimilarityThreshold:  0.75,
		FullAnalysisLimit:    100,
		TargetBatchSize:      35,
		MinClusterSize:       2,
		MinSamples:           2,
		MergeWorkers:         4,
		EmbeddingWorkers:     4,
		EmbeddingTokenBudget: 16384,
	}
}
