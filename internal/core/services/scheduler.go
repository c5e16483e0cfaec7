package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/kbase/internal/concurrency"
	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
	"github.com/custodia-labs/kbase/internal/logger"
)

// Ensure CompactionScheduler implements the interface.
var _ driving.CompactionScheduler = (*CompactionScheduler)(nil)

// SnapshotStore is the part of the knowledge store the scheduler drives.
type SnapshotStore interface {
	CreateSnapshot(ctx context.Context) (*domain.Snapshot, error)
	AbortSnapshot()
	SwitchBuffersWithTailSync(ctx context.Context, merged []domain.Record) error
	Stats() domain.KnowledgeStats
}

// Compactor merges a snapshot's records.
type Compactor interface {
	Compact(ctx context.Context, records []domain.Record) (*domain.CompactionResult, error)
}

// CompactionScheduler runs snapshot, merge and switch in the background
// whenever the store grows past its triggers.
type CompactionScheduler struct {
	config    domain.SchedulerConfig
	store     SnapshotStore
	compactor Compactor
	history   driven.HistoryStore
	metrics   driven.Metrics
	now       func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// runMu serialises compaction runs.
	runMu *concurrency.TimedMutex

	statsMu       sync.Mutex
	stats         domain.SchedulerStats
	activeTrigger int
	started       time.Time
}

// NewCompactionScheduler creates a scheduler. history and metrics may be nil.
func NewCompactionScheduler(
	config domain.SchedulerConfig,
	store SnapshotStore,
	compactor Compactor,
	history driven.HistoryStore,
	metrics driven.Metrics,
) *CompactionScheduler {
	defaults := domain.DefaultSchedulerConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.MinActiveRecords <= 0 {
		config.MinActiveRecords = defaults.MinActiveRecords
	}
	if config.MaxActiveRecords < config.MinActiveRecords {
		config.MaxActiveRecords = max(defaults.MaxActiveRecords, config.MinActiveRecords)
	}
	if config.AdaptiveStep <= 0 {
		config.AdaptiveStep = defaults.AdaptiveStep
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = defaults.HistoryLimit
	}

	return &CompactionScheduler{
		config:        config,
		store:         store,
		compactor:     compactor,
		history:       history,
		metrics:       metrics,
		now:           time.Now,
		runMu:         concurrency.NewTimedMutex("compaction run lock", nil),
		activeTrigger: config.MinActiveRecords,
	}
}

// Start launches the evaluation loop and returns immediately.
func (s *CompactionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil // Already running
	}
	if !s.config.Enabled {
		logger.Debug("scheduler: background compaction disabled")
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.statsMu.Lock()
	s.started = s.now()
	s.statsMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, s.stopCh)
	}()
	logger.Debug("scheduler: started, evaluating every %s", s.config.Interval)
	return nil
}

// Stop signals the loop and waits up to timeout for it to exit. A
// compaction that is already running is allowed to finish.
func (s *CompactionScheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("scheduler: loop did not exit within %s", timeout)
	}
}

// run is the main scheduler loop.
func (s *CompactionScheduler) run(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Runs outlive a cancelled parent; the switch must not be interrupted
	// half way.
	runCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			trigger := s.evaluate()
			if trigger == "" {
				continue
			}
			if _, err := s.compact(runCtx, trigger); err != nil && !errors.Is(err, domain.ErrCompactionInProgress) {
				logger.Warn("scheduler: compaction (%s) failed: %v", trigger, err)
			}
		}
	}
}

// evaluate returns the reason to compact now, or "".
func (s *CompactionScheduler) evaluate() string {
	st := s.store.Stats()
	if st.ActiveRecords == 0 {
		return ""
	}

	s.statsMu.Lock()
	trigger := s.activeTrigger
	since := s.started
	if s.stats.LastSuccess != nil {
		since = *s.stats.LastSuccess
	}
	s.statsMu.Unlock()

	switch {
	case s.config.MinTotalRecords > 0 && st.TotalRecords >= s.config.MinTotalRecords:
		return domain.TriggerTotal
	case st.ActiveRecords >= trigger:
		return domain.TriggerActive
	case s.config.MaxInterval > 0 && !since.IsZero() && s.now().Sub(since) >= s.config.MaxInterval:
		return domain.TriggerMaxInterval
	}
	return ""
}

// TriggerCompaction compacts now. Without force it returns (nil, nil) when
// no trigger condition holds.
func (s *CompactionScheduler) TriggerCompaction(ctx context.Context, force bool) (*domain.CompactionRun, error) {
	trigger := domain.TriggerForced
	if !force {
		if s.evaluate() == "" {
			return nil, nil
		}
		trigger = domain.TriggerManual
	}
	return s.compact(ctx, trigger)
}

// CompactNow compacts regardless of triggers, labelling the run with trigger.
func (s *CompactionScheduler) CompactNow(ctx context.Context, trigger string) (*domain.CompactionRun, error) {
	return s.compact(ctx, trigger)
}

// compact runs one snapshot, merge and switch cycle.
func (s *CompactionScheduler) compact(ctx context.Context, trigger string) (*domain.CompactionRun, error) {
	if !s.runMu.TryLock() {
		return nil, domain.ErrCompactionInProgress
	}
	defer s.runMu.Unlock()

	run := &domain.CompactionRun{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		StartedAt: s.now(),
	}

	err := s.cycle(ctx, run)
	run.EndedAt = s.now()
	run.Success = err == nil
	if err != nil {
		run.Error = err.Error()
	}
	s.record(ctx, run)

	if err != nil {
		return run, err
	}
	logger.Debug("scheduler: %s compaction %d -> %d records in %s",
		trigger, run.OriginalCount, run.FinalCount, run.EndedAt.Sub(run.StartedAt))
	return run, nil
}

func (s *CompactionScheduler) cycle(ctx context.Context, run *domain.CompactionRun) error {
	snap, err := s.store.CreateSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	run.OriginalCount = len(snap.Records)
	if len(snap.Records) == 0 {
		s.store.AbortSnapshot()
		run.GroupingMode = domain.GroupingNone
		return nil
	}

	result, err := s.compactor.Compact(ctx, snap.Records)
	if err != nil {
		s.store.AbortSnapshot()
		return fmt.Errorf("merge: %w", err)
	}
	run.FinalCount = result.FinalCount
	run.GroupingMode = result.GroupingMode

	if err := s.store.SwitchBuffersWithTailSync(ctx, result.Records); err != nil {
		s.store.AbortSnapshot()
		return err
	}
	return nil
}

// record updates statistics, the adaptive trigger and history.
func (s *CompactionScheduler) record(ctx context.Context, run *domain.CompactionRun) {
	s.statsMu.Lock()
	s.stats.Attempts++
	attempt := run.StartedAt
	s.stats.LastAttempt = &attempt
	if run.Success {
		s.stats.Successes++
		ended := run.EndedAt
		s.stats.LastSuccess = &ended
		s.stats.LastError = ""
		if run.OriginalCount > 0 {
			ratio := run.CompressionRatio()
			s.stats.LastRatio = ratio
			if ratio < s.config.CompressionRatioThreshold && s.activeTrigger < s.config.MaxActiveRecords {
				s.activeTrigger = min(s.activeTrigger+s.config.AdaptiveStep, s.config.MaxActiveRecords)
				logger.Debug("scheduler: compression ratio %.2f, active trigger raised to %d", ratio, s.activeTrigger)
			}
		}
	} else {
		s.stats.Failures++
		s.stats.LastError = run.Error
	}
	s.statsMu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordCompaction(*run)
	}
	if s.history == nil {
		return
	}
	if err := s.history.RecordCompaction(ctx, run); err != nil {
		logger.Warn("scheduler: failed to record run %s: %v", run.ID, err)
	}
	if err := s.history.PruneHistory(ctx, s.config.HistoryLimit); err != nil {
		logger.Warn("scheduler: failed to prune history: %v", err)
	}
}

// Stats returns scheduler statistics.
func (s *CompactionScheduler) Stats() domain.SchedulerStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	st := s.stats
	st.Running = running
	st.ActiveTrigger = s.activeTrigger
	return st
}

// History returns recent compaction runs, most recent first.
func (s *CompactionScheduler) History(ctx context.Context, limit int) ([]domain.CompactionRun, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.ListCompactions(ctx, limit)
}
