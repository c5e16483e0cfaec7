package mcp

import (
	"context"
	"strings"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// mockStore is a mock implementation of driving.KnowledgeStore.
type mockStore struct {
	records  []domain.Record
	statuses []domain.SourceStatus
	stats    domain.KnowledgeStats
}

func (m *mockStore) Append(_ context.Context, records []domain.Record, _ bool) error {
	m.records = append(m.records, records...)
	return nil
}

func (m *mockStore) GetAll() []domain.Record { return m.records }

func (m *mockStore) Search(query string, limit int) []domain.Record {
	var out []domain.Record
	for _, r := range m.records {
		if strings.Contains(strings.ToLower(r.Key+" "+r.Value), strings.ToLower(query)) {
			out = append(out, r)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out
}

func (m *mockStore) UpdateStatus(_ context.Context, _ string, _ domain.ProcessingStatus, _ map[string]any) error {
	return nil
}

func (m *mockStore) GetStatus(sourceID string) (*domain.SourceStatus, error) {
	for i := range m.statuses {
		if m.statuses[i].SourceID == sourceID {
			return &m.statuses[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) EligibleSourceIDs(_ domain.ProcessingStatus) []string { return nil }

func (m *mockStore) ListStatuses() []domain.SourceStatus { return m.statuses }

func (m *mockStore) Save(_ context.Context) error { return nil }

func (m *mockStore) Stats() domain.KnowledgeStats { return m.stats }

// mockKnowledgeBase is a mock implementation of driving.KnowledgeBase.
type mockKnowledgeBase struct {
	compactResult domain.OpResult
	statsResult   domain.OpResult
	forced        *bool
}

func (m *mockKnowledgeBase) Append(_ context.Context, _ []domain.Record, _ bool) domain.OpResult {
	return domain.OK("", nil)
}

func (m *mockKnowledgeBase) UpdateStatus(
	_ context.Context, _ string, _ domain.ProcessingStatus, _ map[string]any,
) domain.OpResult {
	return domain.OK("", nil)
}

func (m *mockKnowledgeBase) EligibleSourceIDs(_ domain.ProcessingStatus) domain.OpResult {
	return domain.OK("", nil)
}

func (m *mockKnowledgeBase) TriggerCompaction(_ context.Context, force bool) domain.OpResult {
	m.forced = &force
	return m.compactResult
}

func (m *mockKnowledgeBase) GetStatistics() domain.OpResult {
	return m.statsResult
}
