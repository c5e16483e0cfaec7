package mcp

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

func testRecords(n int) []domain.Record {
	records := make([]domain.Record, n)
	for i := range records {
		records[i] = domain.Record{
			ID:        fmt.Sprintf("r%d", i),
			Key:       fmt.Sprintf("How do I export report %d?", i),
			Value:     "Use Settings > Export.",
			SourceID:  "chat-1",
			CreatedAt: time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
			Metadata:  domain.Metadata{Category: "reports", Confidence: 0.9},
		}
	}
	return records
}

func newTestServer(t *testing.T, ports *Ports) *Server {
	t.Helper()
	server, err := NewServer(ports)
	require.NoError(t, err)
	return server
}

func TestServer_handleSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("returns matching records", func(t *testing.T) {
		server := newTestServer(t, &Ports{Store: &mockStore{records: testRecords(3)}})

		_, output, err := server.handleSearch(ctx, nil, SearchInput{Query: "report 1"})

		require.NoError(t, err)
		require.Equal(t, 1, output.Count)
		got := output.Records[0]
		assert.Equal(t, "r1", got.ID)
		assert.Equal(t, "How do I export report 1?", got.Question)
		assert.Equal(t, "Use Settings > Export.", got.Answer)
		assert.Equal(t, "reports", got.Category)
		assert.Equal(t, 0.9, got.Confidence)
		assert.Equal(t, "2026-01-01T00:00:01Z", got.CreatedAt)
	})

	t.Run("default limit is 10", func(t *testing.T) {
		server := newTestServer(t, &Ports{Store: &mockStore{records: testRecords(15)}})

		_, output, err := server.handleSearch(ctx, nil, SearchInput{Query: "export"})

		require.NoError(t, err)
		assert.Equal(t, 10, output.Count)
	})

	t.Run("empty query is rejected", func(t *testing.T) {
		server := newTestServer(t, &Ports{Store: &mockStore{}})

		_, _, err := server.handleSearch(ctx, nil, SearchInput{})

		assert.Error(t, err)
	})
}

func TestServer_handleStats(t *testing.T) {
	ctx := context.Background()

	t.Run("uses the knowledge base when wired", func(t *testing.T) {
		kb := &mockKnowledgeBase{statsResult: domain.OK("statistics", map[string]any{"total_records": 4})}
		server := newTestServer(t, &Ports{Store: &mockStore{}, KnowledgeBase: kb})

		_, output, err := server.handleStats(ctx, nil, struct{}{})

		require.NoError(t, err)
		assert.True(t, output.Success)
		assert.Equal(t, 4, output.Data["total_records"])
	})

	t.Run("falls back to store stats", func(t *testing.T) {
		server := newTestServer(t, &Ports{Store: &mockStore{stats: domain.KnowledgeStats{TotalRecords: 7}}})

		_, output, err := server.handleStats(ctx, nil, struct{}{})

		require.NoError(t, err)
		assert.True(t, output.Success)
		assert.Equal(t, 7, output.Data["store"].(domain.KnowledgeStats).TotalRecords)
	})
}

func TestServer_handleCompact(t *testing.T) {
	ctx := context.Background()

	t.Run("passes force through", func(t *testing.T) {
		kb := &mockKnowledgeBase{compactResult: domain.OK("compacted 10 -> 6 records", nil)}
		server := newTestServer(t, &Ports{Store: &mockStore{}, KnowledgeBase: kb})

		_, output, err := server.handleCompact(ctx, nil, CompactInput{Force: true})

		require.NoError(t, err)
		assert.True(t, output.Success)
		assert.Equal(t, "compacted 10 -> 6 records", output.Message)
		require.NotNil(t, kb.forced)
		assert.True(t, *kb.forced)
	})

	t.Run("failed result is not a tool error", func(t *testing.T) {
		kb := &mockKnowledgeBase{compactResult: domain.Failed(domain.ErrCompactionInProgress)}
		server := newTestServer(t, &Ports{Store: &mockStore{}, KnowledgeBase: kb})

		_, output, err := server.handleCompact(ctx, nil, CompactInput{})

		require.NoError(t, err)
		assert.False(t, output.Success)
	})

	t.Run("requires the knowledge base", func(t *testing.T) {
		server := newTestServer(t, &Ports{Store: &mockStore{}})

		_, _, err := server.handleCompact(ctx, nil, CompactInput{})

		assert.ErrorIs(t, err, errNoKnowledgeBase)
	})
}
