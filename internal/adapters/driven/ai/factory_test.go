package ai

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/kbase/internal/adapters/driven/llm/resilient"
	"github.com/custodia-labs/kbase/internal/core/domain"
)

func TestCreateEmbeddingService(t *testing.T) {
	tests := []struct {
		name     string
		settings *domain.EmbeddingSettings
		wantNil  bool
		wantErr  string
	}{
		{name: "nil settings", settings: nil, wantNil: true},
		{name: "unconfigured", settings: &domain.EmbeddingSettings{}, wantNil: true},
		{name: "ollama", settings: &domain.EmbeddingSettings{Provider: domain.AIProviderOllama}},
		{name: "openai", settings: &domain.EmbeddingSettings{Provider: domain.AIProviderOpenAI, APIKey: "k"}},
		{name: "openai without key", settings: &domain.EmbeddingSettings{Provider: domain.AIProviderOpenAI}, wantNil: true},
		{
			name:     "anthropic",
			settings: &domain.EmbeddingSettings{Provider: domain.AIProviderAnthropic, APIKey: "k"},
			wantNil:  true,
			wantErr:  "anthropic does not support embeddings",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := CreateEmbeddingService(tt.settings)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantNil, svc == nil)
		})
	}
}

func TestCreateLLMService(t *testing.T) {
	tests := []struct {
		name     string
		settings *domain.LLMSettings
		model    string
	}{
		{name: "ollama", settings: &domain.LLMSettings{Provider: domain.AIProviderOllama}, model: "llama3.2"},
		{name: "openai", settings: &domain.LLMSettings{Provider: domain.AIProviderOpenAI, APIKey: "k"}, model: "gpt-4o-mini"},
		{
			name:     "anthropic with model",
			settings: &domain.LLMSettings{Provider: domain.AIProviderAnthropic, APIKey: "k", Model: "claude-x"},
			model:    "claude-x",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := CreateLLMService(tt.settings)
			require.NoError(t, err)
			require.NotNil(t, svc)
			assert.Equal(t, tt.model, svc.ModelName())
		})
	}

	svc, err := CreateLLMService(&domain.LLMSettings{})
	require.NoError(t, err)
	assert.Nil(t, svc)
}

func TestInit_WrapsReachableServices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.2"},{"name":"nomic-embed-text"}]}`))
	}))
	defer server.Close()

	settings := domain.DefaultAppSettings()
	settings.LLM = domain.LLMSettings{Provider: domain.AIProviderOllama, BaseURL: server.URL}
	settings.Embedding = domain.EmbeddingSettings{Provider: domain.AIProviderOllama, BaseURL: server.URL}

	result := Init(settings)
	defer result.Close()

	assert.Empty(t, result.Warnings)
	assert.IsType(t, &resilient.LLM{}, result.LLMService)
	assert.IsType(t, &resilient.Embedder{}, result.EmbeddingService)
}

func TestInit_UnreachableServicesFallBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	settings := domain.DefaultAppSettings()
	settings.LLM = domain.LLMSettings{Provider: domain.AIProviderOpenAI, APIKey: "bad", BaseURL: server.URL}

	result := Init(settings)

	assert.Nil(t, result.LLMService)
	assert.Nil(t, result.EmbeddingService)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], domain.ErrLLMUnavailable.Error())
	result.Close()
}

func TestConfigValidator(t *testing.T) {
	var v ConfigValidator
	assert.NoError(t, v.ValidateEmbedding(nil))
	assert.NoError(t, v.ValidateLLM(&domain.LLMSettings{Model: "unconfigured"}))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()
	assert.Error(t, v.ValidateLLM(&domain.LLMSettings{Provider: domain.AIProviderOpenAI, APIKey: "k", BaseURL: server.URL}))
}
