package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
)

type mockStore struct {
	records  []domain.Record
	statuses map[string]domain.SourceStatus
}

func newMockStore() *mockStore {
	return &mockStore{
		records: []domain.Record{
			{ID: "r1", Key: "How do I reset the router?", Value: "Hold the reset button for ten seconds.", SourceID: "call-1"},
			{ID: "r2", Key: "What are the office hours?", Value: "Nine to five on weekdays.", SourceID: "call-2",
				Metadata: domain.Metadata{OriginalIDs: []string{"a", "b"}}},
		},
		statuses: map[string]domain.SourceStatus{
			"call-1": {SourceID: "call-1", Status: domain.StatusCleanFinished, LastUpdated: time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)},
			"call-2": {SourceID: "call-2", Status: domain.StatusCompacted, LastUpdated: time.Date(2026, 1, 3, 3, 4, 0, 0, time.UTC)},
		},
	}
}

func (m *mockStore) Append(_ context.Context, records []domain.Record, _ bool) error {
	m.records = append(m.records, records...)
	return nil
}

func (m *mockStore) GetAll() []domain.Record { return m.records }

func (m *mockStore) Search(query string, limit int) []domain.Record {
	var out []domain.Record
	q := strings.ToLower(query)
	for _, r := range m.records {
		if strings.Contains(strings.ToLower(r.Key+" "+r.Value), q) {
			out = append(out, r)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (m *mockStore) UpdateStatus(_ context.Context, id string, s domain.ProcessingStatus, meta map[string]any) error {
	m.statuses[id] = domain.SourceStatus{SourceID: id, Status: s, Metadata: meta}
	return nil
}

func (m *mockStore) GetStatus(id string) (*domain.SourceStatus, error) {
	st, ok := m.statuses[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &st, nil
}

func (m *mockStore) EligibleSourceIDs(s domain.ProcessingStatus) []string {
	var ids []string
	for id, st := range m.statuses {
		if st.Status == s {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *mockStore) ListStatuses() []domain.SourceStatus {
	return []domain.SourceStatus{m.statuses["call-1"], m.statuses["call-2"]}
}

func (m *mockStore) Save(context.Context) error { return nil }

func (m *mockStore) Stats() domain.KnowledgeStats {
	return domain.KnowledgeStats{TotalRecords: len(m.records), ActiveRecords: len(m.records), ActiveBuffer: domain.BufferA}
}

type mockKnowledgeBase struct {
	store      *mockStore
	appended   []domain.Record
	persisted  bool
	forced     bool
	compactErr string
}

func (m *mockKnowledgeBase) Append(ctx context.Context, records []domain.Record, persist bool) domain.OpResult {
	m.appended = append(m.appended, records...)
	m.persisted = persist
	_ = m.store.Append(ctx, records, persist)
	return domain.OK("appended", map[string]any{"count": len(records)})
}

func (m *mockKnowledgeBase) UpdateStatus(ctx context.Context, id string, s domain.ProcessingStatus, meta map[string]any) domain.OpResult {
	_ = m.store.UpdateStatus(ctx, id, s, meta)
	return domain.OK("status updated", nil)
}

func (m *mockKnowledgeBase) EligibleSourceIDs(s domain.ProcessingStatus) domain.OpResult {
	return domain.OK("", map[string]any{"source_ids": m.store.EligibleSourceIDs(s)})
}

func (m *mockKnowledgeBase) TriggerCompaction(_ context.Context, force bool) domain.OpResult {
	m.forced = force
	if m.compactErr != "" {
		return domain.OpResult{Success: false, Message: m.compactErr}
	}
	return domain.OK("Compacted 10 records into 4", map[string]any{
		"grouping_mode": domain.GroupingOracle,
		"duration":      "1.5s",
	})
}

func (m *mockKnowledgeBase) GetStatistics() domain.OpResult {
	return domain.OK("", map[string]any{
		"store": m.store.Stats(),
		"scheduler": domain.SchedulerStats{
			Attempts: 3, Successes: 2, Failures: 1, ActiveTrigger: 50, LastError: "llm timeout",
		},
		"tasks": domain.ProcessorStats{Completed: 7, Failed: 1, Retries: 2},
	})
}

type mockScheduler struct {
	runs []domain.CompactionRun
}

func (m *mockScheduler) Start(context.Context) error { return nil }
func (m *mockScheduler) Stop(time.Duration) error    { return nil }

func (m *mockScheduler) TriggerCompaction(context.Context, bool) (*domain.CompactionRun, error) {
	return &domain.CompactionRun{ID: "run", Success: true}, nil
}

func (m *mockScheduler) Stats() domain.SchedulerStats { return domain.SchedulerStats{} }

func (m *mockScheduler) History(_ context.Context, limit int) ([]domain.CompactionRun, error) {
	if limit < len(m.runs) {
		return m.runs[:limit], nil
	}
	return m.runs, nil
}

type mockProcessor struct {
	mu        sync.Mutex
	submitted []driving.TaskRequest
	started   bool
	stopped   bool
	drained   bool
	failed    []domain.Task
	resubmit  string
}

func (m *mockProcessor) Start(context.Context) error {
	m.started = true
	return nil
}

func (m *mockProcessor) Submit(req driving.TaskRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, req)
	return "task-" + req.SourceID, nil
}

func (m *mockProcessor) Resubmit(_ context.Context, id string) error {
	for _, t := range m.failed {
		if t.ID == id {
			m.resubmit = id
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockProcessor) Status(id string) domain.TaskStatus {
	return domain.TaskStatus{ID: id, State: domain.TaskNotFound}
}

func (m *mockProcessor) Wait(_ context.Context, id string) (domain.TaskStatus, error) {
	return domain.TaskStatus{ID: id, State: domain.TaskCompleted}, nil
}

func (m *mockProcessor) WaitForAll(time.Duration) domain.WaitSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.WaitSummary{Completed: len(m.submitted)}
}

func (m *mockProcessor) FailedTasks(context.Context) ([]domain.Task, error) { return m.failed, nil }

func (m *mockProcessor) Stats() domain.ProcessorStats { return domain.ProcessorStats{} }

func (m *mockProcessor) Stop(_ context.Context, drain bool) error {
	m.stopped = true
	m.drained = drain
	return nil
}

type testServices struct {
	store     *mockStore
	kb        *mockKnowledgeBase
	scheduler *mockScheduler
	processor *mockProcessor
}

// setupTestServices installs mocks and returns a cleanup that clears them
// and restores flag state shared between tests.
func setupTestServices() (*testServices, func()) {
	store := newMockStore()
	ts := &testServices{
		store:     store,
		kb:        &mockKnowledgeBase{store: store},
		scheduler: &mockScheduler{},
		processor: &mockProcessor{},
	}
	SetServices(&Services{
		Store:         ts.store,
		KnowledgeBase: ts.kb,
		Scheduler:     ts.scheduler,
		Processor:     ts.processor,
	})
	return ts, func() {
		SetServices(nil)
		resetFlags()
	}
}

func resetFlags() {
	resetCommandFlags(rootCmd)
	rootCmd.SetArgs(nil)
	rootCmd.SetIn(nil)
	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
}

// resetCommandFlags restores every flag under c to its default so one
// test's flags do not leak into the next.
func resetCommandFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetCommandFlags(sub)
	}
}

// execute runs the root command with args and returns its output.
func execute(in io.Reader, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	if in != nil {
		rootCmd.SetIn(in)
	}
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

type mockSettings struct {
	values   map[string]any
	set      map[string]string
	llm      domain.AIProvider
	llmModel string
	llmKey   string
	invalid  error
}

func (m *mockSettings) Get() (*domain.AppSettings, error) {
	s := domain.DefaultAppSettings()
	return &s, nil
}

func (m *mockSettings) Save(*domain.AppSettings) error { return nil }

func (m *mockSettings) Set(key, value string) error {
	if key == "bogus" {
		return errors.New("unknown setting \"bogus\"")
	}
	if m.set == nil {
		m.set = map[string]string{}
	}
	m.set[key] = value
	return nil
}

func (m *mockSettings) Keys() []string { return []string{"llm.provider", "tasks.workers"} }

func (m *mockSettings) Values() (map[string]any, error) { return m.values, nil }

func (m *mockSettings) SetEmbeddingProvider(domain.AIProvider, string, string) error { return nil }

func (m *mockSettings) SetLLMProvider(p domain.AIProvider, model, key string) error {
	m.llm, m.llmModel, m.llmKey = p, model, key
	return nil
}

func (m *mockSettings) Validate() error { return m.invalid }

func (m *mockSettings) GetDefaults() domain.AppSettings { return domain.DefaultAppSettings() }

func (m *mockSettings) ValidateEmbeddingConfig() error { return nil }

func (m *mockSettings) ValidateLLMConfig() error { return nil }
