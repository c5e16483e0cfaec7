package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigStore_SetAndGet(t *testing.T) {
	store := NewConfigStore()

	require.NoError(t, store.Set("llm.model", "gpt-4o-mini"))
	val, ok := store.Get("llm.model")
	assert.True(t, ok)
	assert.Equal(t, "gpt-4o-mini", val)

	_, ok = store.Get("missing")
	assert.False(t, ok)
}

func TestConfigStore_TypedGetters(t *testing.T) {
	store := NewConfigStore()
	_ = store.Set("s", "text")
	_ = store.Set("i", 42)
	_ = store.Set("i64", int64(7))
	_ = store.Set("f", 0.75)
	_ = store.Set("b", true)
	_ = store.Set("list", []any{"a", 1, "b"})

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"string", store.GetString("s"), "text"},
		{"string wrong type", store.GetString("i"), ""},
		{"int", store.GetInt("i"), 42},
		{"int from int64", store.GetInt("i64"), 7},
		{"int from float", store.GetInt("f"), 0},
		{"int wrong type", store.GetInt("s"), 0},
		{"float", store.GetFloat("f"), 0.75},
		{"float from int", store.GetFloat("i"), 42.0},
		{"float from int64", store.GetFloat("i64"), 7.0},
		{"float missing", store.GetFloat("missing"), 0.0},
		{"float wrong type", store.GetFloat("s"), 0.0},
		{"bool", store.GetBool("b"), true},
		{"bool wrong type", store.GetBool("s"), false},
		{"string slice skips non-strings", store.GetStringSlice("list"), []string{"a", "b"}},
		{"string slice missing", store.GetStringSlice("missing"), []string(nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestConfigStore_SaveLoadAreNoOps(t *testing.T) {
	store := NewConfigStore()
	_ = store.Set("k", "v")

	require.NoError(t, store.Save())
	require.NoError(t, store.Load())
	assert.Equal(t, "v", store.GetString("k"))
	assert.Equal(t, ":memory:", store.Path())
}

func TestConfigStore_ConcurrentAccess(t *testing.T) {
	store := NewConfigStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("tasks.worker_%d", n)
			_ = store.Set(key, n)
			assert.Equal(t, n, store.GetInt(key))
		}(i)
	}
	wg.Wait()
}
