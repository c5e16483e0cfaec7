package cli

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

func TestStatsCmd_Text(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()
	ts.scheduler.runs = []domain.CompactionRun{
		{Trigger: domain.TriggerActive, StartedAt: time.Now(), OriginalCount: 60, FinalCount: 20, Success: true},
		{Trigger: domain.TriggerManual, StartedAt: time.Now(), OriginalCount: 5, FinalCount: 5, Error: "llm down"},
	}

	out, err := execute(nil, "stats")

	require.NoError(t, err)
	assert.Contains(t, out, "[Store]")
	assert.Contains(t, out, "Records: 2 (active 2, inactive 0)")
	assert.Contains(t, out, "[Compaction]")
	assert.Contains(t, out, "Attempts: 3 (ok 2, failed 1)")
	assert.Contains(t, out, "Last error: llm timeout")
	assert.Contains(t, out, "[Tasks]")
	assert.Contains(t, out, "Completed: 7, failed: 1, retries: 2")
	assert.Contains(t, out, "[Recent runs]")
	assert.Contains(t, out, "failed: llm down")
}

func TestStatsCmd_HistoryLimit(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()
	ts.scheduler.runs = []domain.CompactionRun{
		{Trigger: "first", Success: true},
		{Trigger: "second", Success: true},
	}

	out, err := execute(nil, "stats", "--history", "1")

	require.NoError(t, err)
	assert.Contains(t, out, "first")
	assert.NotContains(t, out, "second")
}

func TestStatsCmd_JSON(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	out, err := execute(nil, "stats", "--json")

	require.NoError(t, err)
	var data map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &data))
	assert.Contains(t, data, "store")
	assert.Contains(t, data, "scheduler")
	assert.Contains(t, data, "tasks")
}
