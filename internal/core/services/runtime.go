package services

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/custodia-labs/kbase/internal/concurrency"
	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
	"github.com/custodia-labs/kbase/internal/logger"
)

// Ensure Runtime implements the interface.
var _ driving.KnowledgeBase = (*Runtime)(nil)

// DefaultSchedulerStopTimeout bounds how long Shutdown waits for the
// scheduler loop.
const DefaultSchedulerStopTimeout = 30 * time.Second

// DefaultStaleLockAge is how long a file lock may be held before Shutdown
// treats it as leaked. Durable writes hold theirs for milliseconds.
const DefaultStaleLockAge = time.Minute

// Runtime owns the store, the compaction scheduler and the task processor
// for one process. It is built once in main and passed by handle.
type Runtime struct {
	Store     *KnowledgeStore
	Scheduler *CompactionScheduler
	Processor *TaskProcessor

	// Locks is the registry of cross-process file locks behind the durable
	// files. Optional.
	Locks *concurrency.LockManager

	// SchedulerStopTimeout overrides DefaultSchedulerStopTimeout.
	SchedulerStopTimeout time.Duration

	// StaleLockAge overrides DefaultStaleLockAge.
	StaleLockAge time.Duration
}

// NewRuntime assembles a runtime. processor may be nil for commands that
// never submit tasks.
func NewRuntime(store *KnowledgeStore, scheduler *CompactionScheduler, processor *TaskProcessor) *Runtime {
	return &Runtime{
		Store:                store,
		Scheduler:            scheduler,
		Processor:            processor,
		SchedulerStopTimeout: DefaultSchedulerStopTimeout,
		StaleLockAge:         DefaultStaleLockAge,
	}
}

// Start launches the task processor and the scheduler loop.
func (r *Runtime) Start(ctx context.Context) error {
	if r.Processor != nil {
		if err := r.Processor.Start(ctx); err != nil {
			return fmt.Errorf("start task processor: %w", err)
		}
	}
	if err := r.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	return nil
}

// Shutdown drains the task processor, stops the scheduler, runs a final
// forced compaction when the store holds records and flushes the store.
// Every step runs even if an earlier one failed; errors are aggregated.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var result *multierror.Error

	if r.Processor != nil {
		if err := r.Processor.Stop(ctx, true); err != nil {
			result = multierror.Append(result, fmt.Errorf("stop task processor: %w", err))
		}
	}
	if err := r.Scheduler.Stop(r.SchedulerStopTimeout); err != nil {
		result = multierror.Append(result, fmt.Errorf("stop scheduler: %w", err))
	}

	if r.Store.Stats().TotalRecords > 0 {
		if _, err := r.Scheduler.CompactNow(ctx, domain.TriggerShutdown); err != nil {
			result = multierror.Append(result, fmt.Errorf("final compaction: %w", err))
		}
	}

	if err := r.Store.Cleanup(ctx); err != nil {
		result = multierror.Append(result, err)
	}

	// A job cut off by a drain timeout may still be writing, so only old
	// locks count as leaked.
	if r.Locks != nil {
		if n := r.Locks.PruneStale(r.StaleLockAge); n > 0 {
			logger.Warn("runtime: released %d leaked file locks", n)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		logger.Error("runtime: shutdown: %v", err)
		return err
	}
	logger.Debug("runtime: shutdown complete")
	return nil
}

// Append adds records, optionally persisting immediately.
func (r *Runtime) Append(ctx context.Context, records []domain.Record, persist bool) domain.OpResult {
	if err := r.Store.Append(ctx, records, persist); err != nil {
		return domain.Failed(err)
	}
	return domain.OK(fmt.Sprintf("appended %d records", len(records)), map[string]any{
		"count":     len(records),
		"persisted": persist,
	})
}

// UpdateStatus records a source's pipeline stage.
func (r *Runtime) UpdateStatus(
	ctx context.Context,
	sourceID string,
	status domain.ProcessingStatus,
	metadata map[string]any,
) domain.OpResult {
	if err := r.Store.UpdateStatus(ctx, sourceID, status, metadata); err != nil {
		return domain.Failed(err)
	}
	return domain.OK(fmt.Sprintf("%s is %s", sourceID, status), map[string]any{
		"source_id": sourceID,
		"status":    string(status),
	})
}

// EligibleSourceIDs lists sources at status.
func (r *Runtime) EligibleSourceIDs(status domain.ProcessingStatus) domain.OpResult {
	if !status.IsValid() {
		return domain.Failed(fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, status))
	}
	ids := r.Store.EligibleSourceIDs(status)
	return domain.OK(fmt.Sprintf("%d sources at %s", len(ids), status), map[string]any{
		"source_ids": ids,
	})
}

// TriggerCompaction runs a compaction now.
func (r *Runtime) TriggerCompaction(ctx context.Context, force bool) domain.OpResult {
	run, err := r.Scheduler.TriggerCompaction(ctx, force)
	if err != nil {
		return domain.Failed(err)
	}
	if run == nil {
		return domain.OK("no compaction needed", nil)
	}
	return domain.OK(
		fmt.Sprintf("compacted %d records into %d", run.OriginalCount, run.FinalCount),
		map[string]any{
			"run_id":            run.ID,
			"original_count":    run.OriginalCount,
			"final_count":       run.FinalCount,
			"compression_ratio": run.CompressionRatio(),
			"grouping_mode":     string(run.GroupingMode),
			"duration":          run.EndedAt.Sub(run.StartedAt).String(),
		},
	)
}

// GetStatistics reports store, scheduler and processor statistics.
func (r *Runtime) GetStatistics() domain.OpResult {
	data := map[string]any{
		"store":     r.Store.Stats(),
		"scheduler": r.Scheduler.Stats(),
		"locks":     r.Store.Monitor().Stats(),
	}
	if r.Locks != nil {
		data["file_locks"] = r.Locks.Active()
	}
	if r.Processor != nil {
		data["tasks"] = r.Processor.Stats()
	}
	return domain.OK("statistics", data)
}
