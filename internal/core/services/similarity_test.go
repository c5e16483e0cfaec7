package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

func TestSequenceRatio(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"", "", 1},
		{"abc", "", 0},
		{"abcd", "abcd", 1},
		{"abcd", "bcde", 0.75},
		{"abcd", "dcba", 0.25},
		{"退货政策", "退货的政策", 8.0 / 9.0},
	}
	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			assert.InDelta(t, tt.want, sequenceRatio(tt.a, tt.b), 1e-9)
		})
	}
}

func TestKeywordJaccard(t *testing.T) {
	assert.Equal(t, 0.0, keywordJaccard(nil, []string{"a"}))
	assert.InDelta(t, 1.0, keywordJaccard([]string{"Reset", "router"}, []string{"router", "RESET"}), 1e-9)
	assert.InDelta(t, 1.0/3.0, keywordJaccard([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
}

func TestRecordSimilarity(t *testing.T) {
	a := record("1", "How do I reset the router?", "Hold the reset button for ten seconds.")
	a.Metadata = domain.Metadata{Keywords: []string{"router", "reset"}, Category: "setup"}

	identical := a
	identical.ID = "2"
	assert.InDelta(t, 1.0, recordSimilarity(a, identical), 1e-9, "identical records are capped at 1")

	noMeta := record("3", a.Key, a.Value)
	assert.InDelta(t, 1.0/1.5, recordSimilarity(a, noMeta), 1e-9)

	unrelated := record("4", "What are your opening hours?", "Nine to five.")
	assert.Less(t, recordSimilarity(a, unrelated), 0.5)
}

func TestHeuristicGroups(t *testing.T) {
	records := []domain.Record{
		record("0", "How do I reset the router?", "Hold the reset button for ten seconds."),
		record("1", "What are your opening hours?", "Nine to five on weekdays."),
		record("2", "How do I reset my router?", "Hold the reset button for 10 seconds."),
		record("3", "what are your opening hours", "Nine to five on weekdays."),
	}
	for i := range records {
		records[i].Metadata.Category = "faq"
	}
	records[0].Metadata.Keywords = []string{"router", "reset"}
	records[2].Metadata.Keywords = []string{"reset", "router"}
	records[1].Metadata.Keywords = []string{"hours"}
	records[3].Metadata.Keywords = []string{"hours"}

	groups := heuristicGroups(records, 0.75)

	assert.Equal(t, [][]int{{0, 2}, {1, 3}}, groups)
}

func TestHeuristicGroups_EveryIndexOnce(t *testing.T) {
	records := []domain.Record{
		record("0", "alpha", "one"),
		record("1", "beta", "two"),
		record("2", "gamma", "three"),
	}
	groups := heuristicGroups(records, 0.99)

	assert.Equal(t, [][]int{{0}, {1}, {2}}, groups)
}

func TestExactDedup_KeepsHighestConfidence(t *testing.T) {
	low := record("low", "What is the warranty?", "One year.")
	low.Metadata.Confidence = 0.7
	high := record("high", "  what is THE warranty? ", "Two years.")
	high.Metadata.Confidence = 0.9
	other := record("other", "Shipping time?", "Three days.")

	out, removed := exactDedup([]domain.Record{low, other, high}, baseTime)

	require.Len(t, out, 2)
	assert.Equal(t, 1, removed)
	assert.Equal(t, "high", out[0].ID)
	assert.Equal(t, "Two years.", out[0].Value)
	assert.Equal(t, []string{"low"}, out[0].Lineage())
	assert.Equal(t, domain.MergeMethodExactDedup, out[0].Metadata.MergeMethod)
	assert.Equal(t, "other", out[1].ID)
}

func TestExactDedup_TiesKeepFirstAndCarryLineage(t *testing.T) {
	first := record("first", "Q", "a")
	second := record("second", "q", "b")
	second.Metadata.OriginalIDs = []string{"older"}

	out, removed := exactDedup([]domain.Record{first, second}, baseTime)

	require.Len(t, out, 1)
	assert.Equal(t, 1, removed)
	assert.Equal(t, "first", out[0].ID)
	assert.ElementsMatch(t, []string{"second", "older"}, out[0].Lineage())
	assert.Empty(t, first.Lineage(), "input is not modified")
}
