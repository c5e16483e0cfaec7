package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/kbase/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/kbase/internal/core/domain"
)

type mockAIValidator struct {
	embedErr error
	llmErr   error
	gotLLM   *domain.LLMSettings
}

func (m *mockAIValidator) ValidateEmbedding(_ *domain.EmbeddingSettings) error { return m.embedErr }

func (m *mockAIValidator) ValidateLLM(s *domain.LLMSettings) error {
	m.gotLLM = s
	return m.llmErr
}

func TestSettingsService_Get_ReturnsDefaults(t *testing.T) {
	service := NewSettingsService(memory.NewConfigStore(), nil)

	settings, err := service.Get()
	require.NoError(t, err)

	assert.Equal(t, domain.DefaultAppSettings(), *settings)
}

func TestSettingsService_Get_ReadsStoredValues(t *testing.T) {
	store := memory.NewConfigStore()
	_ = store.Set("llm.provider", "openai")
	_ = store.Set("llm.api_key", "sk-test")
	_ = store.Set("store.data_dir", "/var/lib/kbase")
	_ = store.Set("store.lock_timeout_seconds", 3)
	_ = store.Set("store.persist_on_append", false)
	_ = store.Set("compaction.similarity_threshold", 0.9)
	_ = store.Set("compaction.max_interval_minutes", 5)
	_ = store.Set("tasks.backoff_initial_ms", 250)
	_ = store.Set("oracle.requests_per_second", 1)
	service := NewSettingsService(store, nil)

	s, err := service.Get()
	require.NoError(t, err)

	assert.Equal(t, domain.AIProviderOpenAI, s.LLM.Provider)
	assert.Equal(t, "sk-test", s.LLM.APIKey)
	assert.Equal(t, "/var/lib/kbase", s.Store.DataDir)
	assert.Equal(t, 3*time.Second, s.Store.LockTimeout)
	assert.False(t, s.Store.PersistOnAppend)
	assert.InDelta(t, 0.9, s.Compaction.SimilarityThreshold, 1e-9)
	assert.Equal(t, 5*time.Minute, s.Scheduler.MaxInterval)
	assert.Equal(t, 250*time.Millisecond, s.Tasks.BackoffInitial)
	assert.InDelta(t, 1.0, s.Oracle.RequestsPerSecond, 1e-9)
}

func TestSettingsService_Get_InvalidProviderKeepsDefault(t *testing.T) {
	store := memory.NewConfigStore()
	_ = store.Set("embedding.provider", "bogus")
	service := NewSettingsService(store, nil)

	s, err := service.Get()
	require.NoError(t, err)
	assert.Equal(t, domain.AIProvider(""), s.Embedding.Provider)
}

func TestSettingsService_SaveRoundTrip(t *testing.T) {
	store := memory.NewConfigStore()
	service := NewSettingsService(store, nil)

	want := domain.DefaultAppSettings()
	want.LLM = domain.LLMSettings{Provider: domain.AIProviderOllama, Model: "llama3.2", BaseURL: "http://gpu:11434"}
	want.Scheduler.Interval = 45 * time.Second
	want.Compaction.TargetBatchSize = 20
	want.Tasks.JobTimeout = time.Minute
	require.NoError(t, service.Save(&want))

	got, err := service.Get()
	require.NoError(t, err)
	assert.Equal(t, want, *got)
}

func TestSettingsService_Save_EmptyAPIKeyNotWritten(t *testing.T) {
	store := memory.NewConfigStore()
	_ = store.Set("llm.api_key", "existing")
	service := NewSettingsService(store, nil)

	s := domain.DefaultAppSettings()
	require.NoError(t, service.Save(&s))

	assert.Equal(t, "existing", store.GetString("llm.api_key"))
}

func TestSettingsService_Set(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    bool
		check      func(t *testing.T, s *domain.AppSettings)
	}{
		{key: "compaction.similarity_threshold", value: "0.8", check: func(t *testing.T, s *domain.AppSettings) {
			assert.InDelta(t, 0.8, s.Compaction.SimilarityThreshold, 1e-9)
		}},
		{key: "tasks.workers", value: "8", check: func(t *testing.T, s *domain.AppSettings) {
			assert.Equal(t, 8, s.Tasks.Workers)
		}},
		{key: "compaction.interval_seconds", value: "10", check: func(t *testing.T, s *domain.AppSettings) {
			assert.Equal(t, 10*time.Second, s.Scheduler.Interval)
		}},
		{key: "compaction.enabled", value: "false", check: func(t *testing.T, s *domain.AppSettings) {
			assert.False(t, s.Scheduler.Enabled)
		}},
		{key: "llm.provider", value: "anthropic", check: func(t *testing.T, s *domain.AppSettings) {
			assert.Equal(t, domain.AIProviderAnthropic, s.LLM.Provider)
		}},
		{key: "llm.provider", value: "nope", wantErr: true},
		{key: "tasks.workers", value: "many", wantErr: true},
		{key: "tasks.workers", value: "-1", wantErr: true},
		{key: "compaction.enabled", value: "maybe", wantErr: true},
		{key: "no.such.key", value: "1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			service := NewSettingsService(memory.NewConfigStore(), nil)
			err := service.Set(tt.key, tt.value)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			s, err := service.Get()
			require.NoError(t, err)
			tt.check(t, s)
		})
	}
}

func TestSettingsService_KeysAreUnique(t *testing.T) {
	keys := NewSettingsService(memory.NewConfigStore(), nil).Keys()
	seen := make(map[string]bool)
	for _, k := range keys {
		assert.False(t, seen[k], "duplicate key %s", k)
		seen[k] = true
	}
	assert.Contains(t, keys, "compaction.similarity_threshold")
	assert.Contains(t, keys, "oracle.timeout_seconds")
}

func TestSettingsService_Values_MasksSecrets(t *testing.T) {
	store := memory.NewConfigStore()
	_ = store.Set("llm.api_key", "sk-secret")
	values, err := NewSettingsService(store, nil).Values()
	require.NoError(t, err)

	assert.Equal(t, "********", values["llm.api_key"])
	assert.Equal(t, "", values["embedding.api_key"])
	assert.Equal(t, 30, values["compaction.interval_seconds"])
}

func TestSettingsService_SetEmbeddingProvider(t *testing.T) {
	t.Run("ollama gets default model and local url", func(t *testing.T) {
		service := NewSettingsService(memory.NewConfigStore(), nil)
		require.NoError(t, service.SetEmbeddingProvider(domain.AIProviderOllama, "", ""))

		s, _ := service.Get()
		assert.Equal(t, "nomic-embed-text", s.Embedding.Model)
		assert.Equal(t, "http://localhost:11434", s.Embedding.BaseURL)
	})

	t.Run("openai requires api key", func(t *testing.T) {
		service := NewSettingsService(memory.NewConfigStore(), nil)
		assert.Error(t, service.SetEmbeddingProvider(domain.AIProviderOpenAI, "", ""))
	})

	t.Run("anthropic has no embeddings", func(t *testing.T) {
		service := NewSettingsService(memory.NewConfigStore(), nil)
		err := service.SetEmbeddingProvider(domain.AIProviderAnthropic, "", "key")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not support embeddings")
	})

	t.Run("cloud provider clears base url", func(t *testing.T) {
		store := memory.NewConfigStore()
		_ = store.Set("embedding.base_url", "http://old:11434")
		service := NewSettingsService(store, nil)
		require.NoError(t, service.SetEmbeddingProvider(domain.AIProviderOpenAI, "text-embedding-3-large", "sk"))

		s, _ := service.Get()
		assert.Equal(t, "", s.Embedding.BaseURL)
		assert.Equal(t, "text-embedding-3-large", s.Embedding.Model)
	})
}

func TestSettingsService_SetLLMProvider(t *testing.T) {
	store := memory.NewConfigStore()
	_ = store.Set("llm.base_url", "http://gpu:11434")
	service := NewSettingsService(store, nil)

	require.NoError(t, service.SetLLMProvider(domain.AIProviderOllama, "", ""))
	s, _ := service.Get()
	assert.Equal(t, "llama3.2", s.LLM.Model)
	assert.Equal(t, "http://gpu:11434", s.LLM.BaseURL)

	assert.Error(t, service.SetLLMProvider("bogus", "", ""))
	assert.Error(t, service.SetLLMProvider(domain.AIProviderAnthropic, "", ""))
}

func TestSettingsService_Validate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, NewSettingsService(memory.NewConfigStore(), nil).Validate())
	})

	t.Run("cloud llm without key", func(t *testing.T) {
		store := memory.NewConfigStore()
		_ = store.Set("llm.provider", "openai")
		assert.Error(t, NewSettingsService(store, nil).Validate())
	})

	t.Run("threshold out of range", func(t *testing.T) {
		store := memory.NewConfigStore()
		_ = store.Set("compaction.similarity_threshold", 1.5)
		err := NewSettingsService(store, nil).Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "similarity_threshold")
	})

	t.Run("trigger bounds inverted", func(t *testing.T) {
		store := memory.NewConfigStore()
		_ = store.Set("compaction.min_active_records", 50)
		_ = store.Set("compaction.max_active_records", 10)
		assert.Error(t, NewSettingsService(store, nil).Validate())
	})
}

func TestSettingsService_ValidateConfigs(t *testing.T) {
	service := NewSettingsService(memory.NewConfigStore(), nil)
	assert.NoError(t, service.ValidateLLMConfig())
	assert.NoError(t, service.ValidateEmbeddingConfig())

	validator := &mockAIValidator{llmErr: errors.New("unreachable")}
	store := memory.NewConfigStore()
	_ = store.Set("llm.model", "llama3.2")
	service = NewSettingsService(store, validator)

	assert.EqualError(t, service.ValidateLLMConfig(), "unreachable")
	require.NotNil(t, validator.gotLLM)
	assert.Equal(t, "llama3.2", validator.gotLLM.Model)
	assert.NoError(t, service.ValidateEmbeddingConfig())
}

func TestSettingsService_GetDefaults(t *testing.T) {
	assert.Equal(t, domain.DefaultAppSettings(), NewSettingsService(nil, nil).GetDefaults())
}
