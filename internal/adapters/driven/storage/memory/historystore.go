package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
)

// Ensure HistoryStore implements the interface.
var _ driven.HistoryStore = (*HistoryStore)(nil)

// HistoryStore is an in-memory implementation of driven.HistoryStore.
// Runs are kept in insertion order.
type HistoryStore struct {
	mu     sync.RWMutex
	runs   []domain.CompactionRun
	failed map[string]domain.Task
}

// NewHistoryStore creates a new in-memory history store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{
		failed: make(map[string]domain.Task),
	}
}

// RecordCompaction logs a compaction run.
func (s *HistoryStore) RecordCompaction(_ context.Context, run *domain.CompactionRun) error {
	if run == nil {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	return nil
}

// ListCompactions returns recent runs, most recent first.
func (s *HistoryStore) ListCompactions(_ context.Context, limit int) ([]domain.CompactionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.runs)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PruneHistory keeps the most recent keep runs.
func (s *HistoryStore) PruneHistory(_ context.Context, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if keep >= 0 && len(s.runs) > keep {
		s.runs = slices.Clone(s.runs[len(s.runs)-keep:])
	}
	return nil
}

// SaveFailedTask stores or replaces a failed task.
func (s *HistoryStore) SaveFailedTask(_ context.Context, task *domain.Task) error {
	if task == nil || task.ID == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[task.ID] = *task
	return nil
}

// ListFailedTasks returns failed tasks, oldest first.
func (s *HistoryStore) ListFailedTasks(_ context.Context) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Task, 0, len(s.failed))
	for _, t := range s.failed {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b domain.Task) int { return a.SubmittedAt.Compare(b.SubmittedAt) })
	return out, nil
}

// DeleteFailedTask removes a failed task.
func (s *HistoryStore) DeleteFailedTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failed, id)
	return nil
}
