package services

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/custodia-labs/kbase/internal/concurrency"
	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
	"github.com/custodia-labs/kbase/internal/logger"
)

// Ensure KnowledgeStore implements the interface.
var _ driving.KnowledgeStore = (*KnowledgeStore)(nil)

// KnowledgeStoreConfig configures a KnowledgeStore.
type KnowledgeStoreConfig struct {
	// LockTimeout bounds every in-process lock acquisition.
	LockTimeout time.Duration

	// Metrics is optional.
	Metrics driven.Metrics

	// Monitor is optional; a private one is created when nil.
	Monitor *concurrency.Monitor

	// Now overrides the clock in tests.
	Now func() time.Time
}

// KnowledgeStore is an append-only record store with two in-memory buffers.
//
// Writers append to the active buffer. Compaction copies the active buffer
// into a snapshot, merges the copy without holding the write lock, then
// swaps in merged+tail where tail is whatever was appended after the
// snapshot. The old buffer is cleared so exactly one buffer holds records
// between compactions.
//
// Lock order: switchMu or compactMu, then writeMu, then bufMu. switchMu and
// compactMu are never held together; statusMu is never held with writeMu.
type KnowledgeStore struct {
	file    driven.KnowledgeFile
	ledger  driven.StatusLedger
	metrics driven.Metrics
	monitor *concurrency.Monitor
	timeout time.Duration
	now     func() time.Time

	writeMu   *concurrency.TimedMutex
	compactMu *concurrency.TimedMutex
	switchMu  *concurrency.TimedMutex
	statusMu  *concurrency.TimedMutex

	// bufMu guards buffers, active, snapshot and lastCompaction.
	bufMu          sync.RWMutex
	buffers        [2][]domain.Record
	active         int
	snapshot       *domain.Snapshot
	lastCompaction *time.Time

	statuses    *concurrency.Map[string, domain.SourceStatus]
	writes      concurrency.Counter
	compactions concurrency.Counter
}

// NewKnowledgeStore creates a store and loads any existing records and
// ledger entries. Loaded records populate buffer A.
func NewKnowledgeStore(
	ctx context.Context,
	file driven.KnowledgeFile,
	ledger driven.StatusLedger,
	cfg KnowledgeStoreConfig,
) (*KnowledgeStore, error) {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = domain.DefaultAppSettings().Store.LockTimeout
	}
	if cfg.Monitor == nil {
		cfg.Monitor = concurrency.NewMonitor()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &KnowledgeStore{
		file:      file,
		ledger:    ledger,
		metrics:   cfg.Metrics,
		monitor:   cfg.Monitor,
		timeout:   cfg.LockTimeout,
		now:       cfg.Now,
		writeMu:   concurrency.NewTimedMutex("knowledge write lock", cfg.Monitor),
		compactMu: concurrency.NewTimedMutex("knowledge compaction lock", cfg.Monitor),
		switchMu:  concurrency.NewTimedMutex("knowledge switch lock", cfg.Monitor),
		statusMu:  concurrency.NewTimedMutex("status ledger lock", cfg.Monitor),
		statuses:  concurrency.NewMap[string, domain.SourceStatus](),
	}

	records, err := file.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load knowledge file %s: %w", file.Path(), err)
	}
	s.buffers[0] = records

	entries, err := ledger.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load status ledger %s: %w", ledger.Path(), err)
	}
	for _, e := range entries {
		s.statuses.Set(e.SourceID, e)
	}

	logger.Debug("knowledge: loaded %d records and %d statuses", len(records), len(entries))
	s.reportSizes()
	return s, nil
}

// Append adds records to the active buffer in submission order. Records
// without an id or timestamp get one. When persist is true the durable file
// is rewritten; if that fails the append is rolled back so a retry cannot
// duplicate records.
func (s *KnowledgeStore) Append(ctx context.Context, records []domain.Record, persist bool) error {
	if len(records) == 0 {
		return nil
	}
	prepared := make([]domain.Record, 0, len(records))
	now := s.now()
	for i, r := range records {
		if strings.TrimSpace(r.Key) == "" && strings.TrimSpace(r.Value) == "" {
			return fmt.Errorf("%w: record %d has neither key nor value", domain.ErrInvalidInput, i)
		}
		r = r.Clone()
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		prepared = append(prepared, r)
	}

	return s.monitor.Track("append", func() error {
		if err := s.writeMu.LockTimeout(s.timeout); err != nil {
			return fmt.Errorf("append: %w", err)
		}
		defer s.writeMu.Unlock()

		s.bufMu.Lock()
		idx := s.active
		before := len(s.buffers[idx])
		s.buffers[idx] = append(s.buffers[idx], prepared...)
		s.bufMu.Unlock()

		if persist {
			if err := s.file.Save(ctx, s.GetAll()); err != nil {
				// writeMu is held, so nothing else touched the active buffer.
				s.bufMu.Lock()
				s.buffers[idx] = s.buffers[idx][:before]
				s.bufMu.Unlock()
				return fmt.Errorf("append: persist: %w", err)
			}
		}

		s.writes.Add(int64(len(prepared)))
		if s.metrics != nil {
			s.metrics.RecordAppend(len(prepared))
		}
		s.reportSizes()
		logger.Debug("knowledge: appended %d records to buffer %s", len(prepared), labelOf(idx))
		return nil
	})
}

// CreateSnapshot copies the active buffer for compaction. Only one snapshot
// may be pending; a second request fails with domain.ErrSnapshotPending.
// It waits for any append still writing the durable file.
func (s *KnowledgeStore) CreateSnapshot(_ context.Context) (*domain.Snapshot, error) {
	if err := s.compactMu.LockTimeout(s.timeout); err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}
	defer s.compactMu.Unlock()
	// An in-flight persisting append may still roll back.
	if err := s.writeMu.LockTimeout(s.timeout); err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}
	defer s.writeMu.Unlock()

	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	if s.snapshot != nil {
		return nil, domain.ErrSnapshotPending
	}
	active := s.buffers[s.active]
	snap := &domain.Snapshot{
		Records:   cloneRecords(active),
		Offset:    len(active),
		CreatedAt: s.now(),
	}
	s.snapshot = snap
	logger.Debug("knowledge: snapshot of buffer %s at offset %d", labelOf(s.active), snap.Offset)

	return &domain.Snapshot{Records: cloneRecords(snap.Records), Offset: snap.Offset, CreatedAt: snap.CreatedAt}, nil
}

// AbortSnapshot discards the pending snapshot, if any.
func (s *KnowledgeStore) AbortSnapshot() {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	if s.snapshot != nil {
		logger.Debug("knowledge: snapshot at offset %d discarded", s.snapshot.Offset)
	}
	s.snapshot = nil
}

// SwitchBuffersWithTailSync replaces the snapshotted records with merged.
// The new active buffer is merged followed by every record appended since
// the snapshot. The durable file is rewritten before memory changes; if
// that fails both buffers and the file are untouched and the pending
// snapshot is discarded so the next cycle starts over.
func (s *KnowledgeStore) SwitchBuffersWithTailSync(ctx context.Context, merged []domain.Record) error {
	return s.monitor.Track("switch", func() error {
		if err := s.switchMu.LockTimeout(s.timeout); err != nil {
			return fmt.Errorf("switch buffers: %w", err)
		}
		defer s.switchMu.Unlock()
		if err := s.writeMu.LockTimeout(s.timeout); err != nil {
			return fmt.Errorf("switch buffers: %w", err)
		}
		defer s.writeMu.Unlock()

		s.bufMu.RLock()
		snap := s.snapshot
		cur := s.active
		active := s.buffers[cur]
		inactiveLen := len(s.buffers[1-cur])
		s.bufMu.RUnlock()

		if snap == nil {
			return fmt.Errorf("%w: %w", domain.ErrNoSnapshot,
				&domain.IntegrityError{Op: "switch buffers", Reason: "no pending snapshot"})
		}
		if len(active) < snap.Offset {
			s.AbortSnapshot()
			return &domain.IntegrityError{
				Op:     "switch buffers",
				Reason: fmt.Sprintf("active buffer has %d records, snapshot offset is %d", len(active), snap.Offset),
			}
		}
		if inactiveLen != 0 {
			s.AbortSnapshot()
			return &domain.IntegrityError{
				Op:     "switch buffers",
				Reason: fmt.Sprintf("inactive buffer %s holds %d records", labelOf(1-cur), inactiveLen),
			}
		}

		tail := active[snap.Offset:]
		next := make([]domain.Record, 0, len(merged)+len(tail))
		next = append(next, cloneRecords(merged)...)
		next = append(next, cloneRecords(tail)...)

		persisted := slices.Clone(next)
		domain.SortByCreatedAt(persisted)
		if err := s.file.Save(ctx, persisted); err != nil {
			s.AbortSnapshot()
			return fmt.Errorf("switch buffers: persist: %w", err)
		}

		now := s.now()
		s.bufMu.Lock()
		s.buffers[1-cur] = next
		s.buffers[cur] = nil
		s.active = 1 - cur
		s.snapshot = nil
		s.lastCompaction = &now
		s.bufMu.Unlock()

		s.compactions.Inc()
		s.reportSizes()
		logger.Debug("knowledge: switched to buffer %s with %d merged and %d tail records",
			labelOf(1-cur), len(merged), len(tail))
		return nil
	})
}

// GetAll returns every record from both buffers ordered by creation time.
func (s *KnowledgeStore) GetAll() []domain.Record {
	s.bufMu.RLock()
	out := make([]domain.Record, 0, len(s.buffers[0])+len(s.buffers[1]))
	out = append(out, s.buffers[s.active]...)
	out = append(out, s.buffers[1-s.active]...)
	s.bufMu.RUnlock()

	out = cloneRecords(out)
	domain.SortByCreatedAt(out)
	return out
}

// Search returns up to limit records whose key or value contains query,
// ignoring case and compatibility differences.
func (s *KnowledgeStore) Search(query string, limit int) []domain.Record {
	q := foldText(strings.TrimSpace(query))
	var out []domain.Record
	for _, r := range s.GetAll() {
		if q == "" || strings.Contains(foldText(r.Key), q) || strings.Contains(foldText(r.Value), q) {
			out = append(out, r)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

// UpdateStatus sets a source's processing status and rewrites the ledger.
// On persistence failure the previous entry is restored.
func (s *KnowledgeStore) UpdateStatus(
	ctx context.Context,
	sourceID string,
	status domain.ProcessingStatus,
	metadata map[string]any,
) error {
	if strings.TrimSpace(sourceID) == "" {
		return fmt.Errorf("%w: source id is required", domain.ErrInvalidInput)
	}
	if !status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, status)
	}

	if err := s.statusMu.LockTimeout(s.timeout); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	defer s.statusMu.Unlock()

	prev, hadPrev := s.statuses.Get(sourceID)
	s.statuses.Set(sourceID, domain.SourceStatus{
		SourceID:    sourceID,
		Status:      status,
		LastUpdated: s.now(),
		Metadata:    metadata,
	})

	if err := s.ledger.Save(ctx, s.ListStatuses()); err != nil {
		if hadPrev {
			s.statuses.Set(sourceID, prev)
		} else {
			s.statuses.Delete(sourceID)
		}
		return fmt.Errorf("update status: persist: %w", err)
	}
	logger.Debug("knowledge: source %s is now %s", sourceID, status)
	return nil
}

// GetStatus returns a source's status.
func (s *KnowledgeStore) GetStatus(sourceID string) (*domain.SourceStatus, error) {
	st, ok := s.statuses.Get(sourceID)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &st, nil
}

// EligibleSourceIDs returns the sources currently at status, sorted.
func (s *KnowledgeStore) EligibleSourceIDs(status domain.ProcessingStatus) []string {
	var ids []string
	for _, st := range s.ListStatuses() {
		if st.Status == status {
			ids = append(ids, st.SourceID)
		}
	}
	return ids
}

// ListStatuses returns every ledger entry sorted by source id.
func (s *KnowledgeStore) ListStatuses() []domain.SourceStatus {
	snap := s.statuses.Snapshot()
	out := make([]domain.SourceStatus, 0, len(snap))
	for _, st := range snap {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// Save flushes records and ledger to disk.
func (s *KnowledgeStore) Save(ctx context.Context) error {
	var result *multierror.Error
	if err := s.saveRecords(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.saveLedger(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Cleanup performs the final flush. It may be called repeatedly, including
// after an earlier failure; each call retries every step.
func (s *KnowledgeStore) Cleanup(ctx context.Context) error {
	err := s.Save(ctx)
	if err != nil {
		logger.Error("knowledge: cleanup: %v", err)
		return fmt.Errorf("cleanup: %w", err)
	}
	logger.Debug("knowledge: cleanup flushed %d records", s.Stats().TotalRecords)
	return nil
}

// HasPendingSnapshot reports whether a snapshot awaits a switch.
func (s *KnowledgeStore) HasPendingSnapshot() bool {
	s.bufMu.RLock()
	defer s.bufMu.RUnlock()
	return s.snapshot != nil
}

// Stats returns store statistics.
func (s *KnowledgeStore) Stats() domain.KnowledgeStats {
	s.bufMu.RLock()
	active := len(s.buffers[s.active])
	inactive := len(s.buffers[1-s.active])
	label := labelOf(s.active)
	pending := s.snapshot != nil
	var last *time.Time
	if s.lastCompaction != nil {
		t := *s.lastCompaction
		last = &t
	}
	s.bufMu.RUnlock()

	counts := make(map[domain.ProcessingStatus]int)
	statuses := s.ListStatuses()
	for _, st := range statuses {
		counts[st.Status]++
	}

	return domain.KnowledgeStats{
		TotalRecords:     active + inactive,
		ActiveRecords:    active,
		InactiveRecords:  inactive,
		ActiveBuffer:     label,
		Writes:           s.writes.Load(),
		Compactions:      s.compactions.Load(),
		LastCompaction:   last,
		SnapshotPending:  pending,
		Sources:          len(statuses),
		StatusCounts:     counts,
		KnowledgeFile:    s.file.Path(),
		StatusLedgerFile: s.ledger.Path(),
	}
}

// Monitor returns the store's operation monitor.
func (s *KnowledgeStore) Monitor() *concurrency.Monitor {
	return s.monitor
}

func (s *KnowledgeStore) saveRecords(ctx context.Context) error {
	if err := s.writeMu.LockTimeout(s.timeout); err != nil {
		return fmt.Errorf("save records: %w", err)
	}
	defer s.writeMu.Unlock()
	if err := s.file.Save(ctx, s.GetAll()); err != nil {
		return fmt.Errorf("save records: %w", err)
	}
	return nil
}

func (s *KnowledgeStore) saveLedger(ctx context.Context) error {
	if err := s.statusMu.LockTimeout(s.timeout); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	defer s.statusMu.Unlock()
	if err := s.ledger.Save(ctx, s.ListStatuses()); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

func (s *KnowledgeStore) reportSizes() {
	if s.metrics == nil {
		return
	}
	s.bufMu.RLock()
	active, inactive := len(s.buffers[s.active]), len(s.buffers[1-s.active])
	s.bufMu.RUnlock()
	s.metrics.SetBufferSizes(active, inactive)
}

func labelOf(idx int) domain.BufferLabel {
	if idx == 0 {
		return domain.BufferA
	}
	return domain.BufferB
}

func cloneRecords(records []domain.Record) []domain.Record {
	out := make([]domain.Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}
