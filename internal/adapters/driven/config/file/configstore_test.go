package file

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "kbase")

	store, err := NewConfigStore(dir)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.toml"), store.Path())
	assert.DirExists(t, dir)
}

func TestConfigStore_TypedGetters(t *testing.T) {
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Set("llm.provider", "ollama"))
	require.NoError(t, store.Set("tasks.workers", 4))
	require.NoError(t, store.Set("compaction.similarity_threshold", 0.8))
	require.NoError(t, store.Set("store.persist_on_append", true))
	require.NoError(t, store.Set("inbox.patterns", []string{"*.md", "*.txt"}))

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"string", store.GetString("llm.provider"), "ollama"},
		{"int", store.GetInt("tasks.workers"), 4},
		{"float", store.GetFloat("compaction.similarity_threshold"), 0.8},
		{"int as float", store.GetFloat("tasks.workers"), 4.0},
		{"bool", store.GetBool("store.persist_on_append"), true},
		{"slice", store.GetStringSlice("inbox.patterns"), []string{"*.md", "*.txt"}},
		{"missing string", store.GetString("nope"), ""},
		{"wrong type", store.GetInt("llm.provider"), 0},
		{"missing bool", store.GetBool("nope"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestConfigStore_WritesTablesAndReloads(t *testing.T) {
	dir := t.TempDir()
	store, err := NewConfigStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Set("llm.provider", "openai"))
	require.NoError(t, store.Set("llm.model", "gpt-4o-mini"))
	require.NoError(t, store.Set("compaction.interval_seconds", 30))

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "[llm]")
	assert.Contains(t, string(raw), "[compaction]")

	reloaded, err := NewConfigStore(dir)
	require.NoError(t, err)
	assert.Equal(t, "openai", reloaded.GetString("llm.provider"))
	assert.Equal(t, "gpt-4o-mini", reloaded.GetString("llm.model"))
	assert.Equal(t, 30, reloaded.GetInt("compaction.interval_seconds"))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestConfigStore_ReadsHandWrittenFile(t *testing.T) {
	dir := t.TempDir()
	content := `
[store]
data_dir = "/var/kbase"
lock_timeout_seconds = 20

[oracle]
requests_per_second = 1.5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o600))

	store, err := NewConfigStore(dir)
	require.NoError(t, err)

	assert.Equal(t, "/var/kbase", store.GetString("store.data_dir"))
	assert.Equal(t, 20, store.GetInt("store.lock_timeout_seconds"))
	assert.InDelta(t, 1.5, store.GetFloat("oracle.requests_per_second"), 1e-9)
}

func TestConfigStore_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[broken"), 0o600))

	_, err := NewConfigStore(dir)

	assert.ErrorContains(t, err, "parse")
}

func TestConfigStore_ConcurrentSets(t *testing.T) {
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.Set(fmt.Sprintf("k.v%d", i), i))
		}(i)
	}
	wg.Wait()

	require.NoError(t, store.Load())
	for i := 0; i < 10; i++ {
		assert.Equal(t, i, store.GetInt(fmt.Sprintf("k.v%d", i)))
	}
}

func TestNest(t *testing.T) {
	got := nest(map[string]any{"a.b": 1, "a.c": "x", "top": true})

	assert.Equal(t, map[string]any{
		"a":   map[string]any{"b": 1, "c": "x"},
		"top": true,
	}, got)
	assert.Equal(t, map[string]any{"a.b": 1, "a.c": "x", "top": true}, flatten(got, ""))
}
