package cli

import (
	"bufio"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

func setupSettings(s *mockSettings) func() {
	_, cleanup := setupTestServices()
	settingsService = s
	return cleanup
}

func TestSettingsShow_SortedAndGrouped(t *testing.T) {
	defer setupSettings(&mockSettings{values: map[string]any{
		"tasks.workers":  "4",
		"llm.provider":   "ollama",
		"llm.api_key":    "********",
		"store.data_dir": "data",
	}})()

	out, err := execute(nil, "settings", "show")

	require.NoError(t, err)
	api := strings.Index(out, "llm.api_key")
	provider := strings.Index(out, "llm.provider")
	workers := strings.Index(out, "tasks.workers")
	require.True(t, api >= 0 && provider >= 0 && workers >= 0)
	assert.Less(t, api, provider)
	assert.Less(t, provider, workers)
	assert.Contains(t, out, "********")
	assert.Contains(t, out, "\n\n")
}

func TestSettingsShow_WarnsWhenInvalid(t *testing.T) {
	defer setupSettings(&mockSettings{values: map[string]any{}, invalid: domain.ErrLLMUnavailable})()

	out, err := execute(nil, "settings")

	require.NoError(t, err)
	assert.Contains(t, out, "Warning:")
	assert.Contains(t, out, "kbase settings llm")
}

func TestSettingsSet(t *testing.T) {
	s := &mockSettings{}
	defer setupSettings(s)()

	out, err := execute(nil, "settings", "set", "tasks.workers", "8")

	require.NoError(t, err)
	assert.Equal(t, "8", s.set["tasks.workers"])
	assert.Contains(t, out, "tasks.workers = 8")
}

func TestSettingsSet_UnknownKey(t *testing.T) {
	defer setupSettings(&mockSettings{})()

	_, err := execute(nil, "settings", "set", "bogus", "1")

	assert.Error(t, err)
}

func TestSettingsKeys(t *testing.T) {
	defer setupSettings(&mockSettings{})()

	out, err := execute(nil, "settings", "keys")

	require.NoError(t, err)
	assert.Equal(t, "llm.provider\ntasks.workers\n", out)
}

func TestSettingsLLM_Interactive(t *testing.T) {
	s := &mockSettings{}
	defer setupSettings(s)()

	providers := domain.AllLLMProviders()
	choice := -1
	for i, p := range providers {
		if p.RequiresAPIKey() {
			choice = i + 1
			break
		}
	}
	require.Positive(t, choice)

	in := strings.NewReader(strings.Join([]string{
		strconv.Itoa(choice), "my-model", "sk-test-1234567890",
	}, "\n") + "\n")
	out, err := execute(in, "settings", "llm")

	require.NoError(t, err)
	assert.Equal(t, providers[choice-1], s.llm)
	assert.Equal(t, "my-model", s.llmModel)
	assert.Equal(t, "sk-test-1234567890", s.llmKey)
	assert.Contains(t, out, "Validating configuration... OK")
	assert.Contains(t, out, "sk-t...7890")
}

func TestSettingsLLM_DefaultModel(t *testing.T) {
	s := &mockSettings{}
	defer setupSettings(s)()

	out, err := execute(strings.NewReader("\n\n\n"), "settings", "llm")

	first := domain.AllLLMProviders()[0]
	if first.RequiresAPIKey() {
		require.Error(t, err)
		return
	}
	require.NoError(t, err)
	assert.Equal(t, first, s.llm)
	assert.Equal(t, domain.DefaultLLMModels()[first], s.llmModel)
	assert.Contains(t, out, "LLM provider configured")
}

func TestParseChoice(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"", 1},
		{"2", 2},
		{"0", 1},
		{"9", 1},
		{"x", 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseChoice(tt.input, 3, 1), "input %q", tt.input)
	}
}

func TestReadLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("  hello \nworld"))
	assert.Equal(t, "hello", readLine(r))
	assert.Equal(t, "world", readLine(r))
	assert.Equal(t, "", readLine(r))
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "****", maskAPIKey("short"))
	assert.Equal(t, "sk-a...wxyz", maskAPIKey("sk-abcdefghuvwxyz"))
}
