package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactCmd(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantForce bool
	}{
		{"default", []string{"compact"}, false},
		{"force long", []string{"compact", "--force"}, true},
		{"force short", []string{"compact", "-f"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, cleanup := setupTestServices()
			defer cleanup()

			out, err := execute(nil, tt.args...)

			require.NoError(t, err)
			assert.Equal(t, tt.wantForce, ts.kb.forced)
			assert.Contains(t, out, "Compacted 10 records into 4")
			assert.Contains(t, out, "grouping: oracle, took 1.5s")
		})
	}
}

func TestCompactCmd_Failure(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()
	ts.kb.compactErr = "compaction already in progress"

	_, err := execute(nil, "compact")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "compaction already in progress")
}
