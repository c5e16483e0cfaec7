package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
)

// --- Mock implementations shared by service tests ---

// mockKnowledgeFile implements driven.KnowledgeFile in memory.
type mockKnowledgeFile struct {
	mu      sync.Mutex
	records []domain.Record
	saves   int
	saveErr error
	loadErr error
}

func (m *mockKnowledgeFile) Load(_ context.Context) ([]domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return cloneRecords(m.records), nil
}

func (m *mockKnowledgeFile) Save(_ context.Context, records []domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.records = cloneRecords(records)
	m.saves++
	return nil
}

func (m *mockKnowledgeFile) Path() string { return "mock://knowledge.md" }

func (m *mockKnowledgeFile) setSaveErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

func (m *mockKnowledgeFile) stored() []domain.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRecords(m.records)
}

// mockStatusLedger implements driven.StatusLedger in memory.
type mockStatusLedger struct {
	mu      sync.Mutex
	entries []domain.SourceStatus
	saveErr error
}

func (m *mockStatusLedger) Load(_ context.Context) ([]domain.SourceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SourceStatus(nil), m.entries...), nil
}

func (m *mockStatusLedger) Save(_ context.Context, entries []domain.SourceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.entries = append([]domain.SourceStatus(nil), entries...)
	return nil
}

func (m *mockStatusLedger) Path() string { return "mock://status.json" }

// mockLLM implements driven.LLMService with a scripted reply function.
type mockLLM struct {
	mu      sync.Mutex
	reply     func(prompt string) (string, error)
	prompts   []string
	maxTokens []int
}

// mockTokensPerCall is the usage the mock reports for every reply.
var mockTokensPerCall = driven.TokenUsage{PromptTokens: 10, CompletionTokens: 5}

func (m *mockLLM) Generate(_ context.Context, prompt string, opts driven.GenerateOptions) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.maxTokens = append(m.maxTokens, opts.MaxTokens)
	m.mu.Unlock()
	reply, err := m.reply(prompt)
	if err == nil {
		driven.ReportUsage(opts.Usage, mockTokensPerCall)
	}
	return reply, err
}

func (m *mockLLM) Chat(ctx context.Context, messages []driven.ChatMessage, opts driven.ChatOptions) (string, error) {
	var b strings.Builder
	for _, msg := range messages {
		b.WriteString(msg.Content)
	}
	return m.Generate(ctx, b.String(), driven.GenerateOptions{MaxTokens: opts.MaxTokens, Usage: opts.Usage})
}

func (m *mockLLM) ModelName() string            { return "mock" }
func (m *mockLLM) Ping(_ context.Context) error { return nil }
func (m *mockLLM) Close() error                 { return nil }

func (m *mockLLM) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

var errOracleDown = errors.New("connection refused")

func unavailableLLM() *mockLLM {
	return &mockLLM{reply: func(string) (string, error) { return "", errOracleDown }}
}

// mockEmbedder implements driven.EmbeddingService from a text to vector map.
// Unknown texts get a vector derived from their first rune.
type mockEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	batches int
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := m.vectors[t]; ok {
			out[i] = v
			continue
		}
		r := float32(0)
		if len(t) > 0 {
			r = float32(t[0])
		}
		out[i] = []float32{1, r / 255, 0.1}
	}
	return out, nil
}

func (m *mockEmbedder) Dimensions() int              { return 3 }
func (m *mockEmbedder) ModelName() string            { return "mock-embed" }
func (m *mockEmbedder) Ping(_ context.Context) error { return nil }
func (m *mockEmbedder) Close() error                 { return nil }

// mockMetrics implements driven.Metrics and counts calls.
type mockMetrics struct {
	mu          sync.Mutex
	appended    int
	active      int
	inactive    int
	compactions []domain.CompactionRun
	tasks       map[domain.TaskState]int
	oracleCalls map[string]int
	tokens      int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{tasks: make(map[domain.TaskState]int), oracleCalls: make(map[string]int)}
}

func (m *mockMetrics) RecordAppend(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appended += n
}

func (m *mockMetrics) SetBufferSizes(active, inactive int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active, m.inactive = active, inactive
}

func (m *mockMetrics) RecordCompaction(run domain.CompactionRun) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compactions = append(m.compactions, run)
}

func (m *mockMetrics) RecordTask(_ string, state domain.TaskState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[state]++
}

func (m *mockMetrics) RecordOracleCall(op string, _ time.Duration, usage driven.TokenUsage, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oracleCalls[op]++
	m.tokens += usage.Total()
}

// mockPrompts implements driven.PromptStore.
type mockPrompts struct {
	prompts map[string]string
}

func (m *mockPrompts) Load(name string) (string, error) {
	p, ok := m.prompts[name]
	if !ok {
		return "", fmt.Errorf("prompt %s: %w", name, domain.ErrNotFound)
	}
	return p, nil
}

func (m *mockPrompts) Reload() {}

// --- Fixture helpers ---

var baseTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func record(id, key, value string) domain.Record {
	return domain.Record{ID: id, Key: key, Value: value, SourceID: "src-1", CreatedAt: baseTime}
}

func recordAt(id, key, value string, offset time.Duration) domain.Record {
	r := record(id, key, value)
	r.CreatedAt = baseTime.Add(offset)
	return r
}

// coveredIDs returns every id represented by records.
func coveredIDs(records []domain.Record) map[string]bool {
	out := make(map[string]bool)
	for _, r := range records {
		for _, id := range r.CoveredIDs() {
			out[id] = true
		}
	}
	return out
}
