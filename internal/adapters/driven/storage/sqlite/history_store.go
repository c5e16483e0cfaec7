package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// historyStore implements driven.HistoryStore.
type historyStore struct {
	store *Store
}

var _ driven.HistoryStore = (*historyStore)(nil)

// RecordCompaction logs a compaction run.
func (s *historyStore) RecordCompaction(ctx context.Context, run *domain.CompactionRun) error {
	if run == nil || run.ID == "" {
		return domain.ErrInvalidInput
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO compaction_runs
			(id, trigger_reason, started_at, ended_at, success, error, original_count, final_count, grouping_mode)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ended_at = excluded.ended_at,
			success = excluded.success,
			error = excluded.error,
			final_count = excluded.final_count,
			grouping_mode = excluded.grouping_mode
	`, run.ID, run.Trigger, formatTime(run.StartedAt), formatZeroableTime(run.EndedAt),
		boolToInt(run.Success), run.Error, run.OriginalCount, run.FinalCount, string(run.GroupingMode))
	if err != nil {
		return fmt.Errorf("recording compaction run: %w", err)
	}
	return nil
}

// ListCompactions returns recent runs, most recent first.
// A limit of zero or less returns every run.
func (s *historyStore) ListCompactions(ctx context.Context, limit int) ([]domain.CompactionRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, trigger_reason, started_at, ended_at, success, error, original_count, final_count, grouping_mode
		FROM compaction_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying compaction runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.CompactionRun //nolint:prealloc // size unknown from query
	for rows.Next() {
		var (
			run     domain.CompactionRun
			started string
			ended   sql.NullString
			success int
			mode    string
		)
		if err := rows.Scan(&run.ID, &run.Trigger, &started, &ended, &success,
			&run.Error, &run.OriginalCount, &run.FinalCount, &mode); err != nil {
			return nil, fmt.Errorf("scanning compaction run: %w", err)
		}
		run.StartedAt = parseTime(started)
		if t := parseNullableTime(ended); t != nil {
			run.EndedAt = *t
		}
		run.Success = success == 1
		run.GroupingMode = domain.GroupingMode(mode)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating compaction runs: %w", err)
	}
	return runs, nil
}

// PruneHistory keeps the most recent 'keep' compaction runs.
func (s *historyStore) PruneHistory(ctx context.Context, keep int) error {
	if keep < 0 {
		return nil
	}
	_, err := s.store.db.ExecContext(ctx, `
		DELETE FROM compaction_runs
		WHERE id NOT IN (
			SELECT id FROM compaction_runs
			ORDER BY started_at DESC, rowid DESC
			LIMIT ?
		)
	`, keep)
	if err != nil {
		return fmt.Errorf("pruning compaction history: %w", err)
	}
	return nil
}

// SaveFailedTask stores or replaces a failed task.
func (s *historyStore) SaveFailedTask(ctx context.Context, task *domain.Task) error {
	if task == nil || task.ID == "" {
		return domain.ErrInvalidInput
	}
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("marshalling task payload: %w", err)
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO failed_tasks
			(id, kind, source_id, payload, attempts, error, submitted_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			source_id = excluded.source_id,
			payload = excluded.payload,
			attempts = excluded.attempts,
			error = excluded.error,
			submitted_at = excluded.submitted_at,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, task.ID, task.Kind, task.SourceID, string(payload), task.Attempts, task.Error,
		formatTime(task.SubmittedAt), formatNullableTime(task.StartedAt), formatNullableTime(task.FinishedAt))
	if err != nil {
		return fmt.Errorf("saving failed task: %w", err)
	}
	return nil
}

// ListFailedTasks returns failed tasks, oldest first.
func (s *historyStore) ListFailedTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, kind, source_id, payload, attempts, error, submitted_at, started_at, finished_at
		FROM failed_tasks
		ORDER BY submitted_at ASC, rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying failed tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task //nolint:prealloc // size unknown from query
	for rows.Next() {
		var (
			task              domain.Task
			payload           string
			submitted         string
			started, finished sql.NullString
		)
		if err := rows.Scan(&task.ID, &task.Kind, &task.SourceID, &payload, &task.Attempts,
			&task.Error, &submitted, &started, &finished); err != nil {
			return nil, fmt.Errorf("scanning failed task: %w", err)
		}
		if payload != "" && payload != jsonNull {
			if err := json.Unmarshal([]byte(payload), &task.Payload); err != nil {
				return nil, fmt.Errorf("unmarshalling payload for task %s: %w", task.ID, err)
			}
		}
		task.State = domain.TaskFailed
		task.SubmittedAt = parseTime(submitted)
		task.StartedAt = parseNullableTime(started)
		task.FinishedAt = parseNullableTime(finished)
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating failed tasks: %w", err)
	}
	return tasks, nil
}

// DeleteFailedTask removes a failed task. Deleting a missing task is not
// an error.
func (s *historyStore) DeleteFailedTask(ctx context.Context, id string) error {
	if _, err := s.store.db.ExecContext(ctx, "DELETE FROM failed_tasks WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting failed task: %w", err)
	}
	return nil
}

// ==================== Helper Functions ====================

// jsonNull is the JSON representation of null.
const jsonNull = "null"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatZeroableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func parseNullableTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
