package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/kbase/internal/core/ports/driven"
)

func TestNewLLMService_RequiresKey(t *testing.T) {
	_, err := NewLLMService(LLMConfig{})
	require.Error(t, err)
}

func TestLLMService_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultLLMModel, req.Model)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "group these", req.Messages[0].Content)
		assert.InDelta(t, 0.1, req.Temperature, 1e-9)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"GROUP: 0,1"}}],` +
			`"usage":{"prompt_tokens":12,"completion_tokens":4}}`))
	}))
	defer server.Close()

	svc, err := NewLLMService(LLMConfig{APIKey: "sk-test", BaseURL: server.URL + "/"})
	require.NoError(t, err)

	var usage driven.TokenUsage
	out, err := svc.Generate(context.Background(), "group these",
		driven.GenerateOptions{Temperature: 0.1, Usage: &usage})
	require.NoError(t, err)
	assert.Equal(t, "GROUP: 0,1", out)
	assert.Equal(t, driven.TokenUsage{PromptTokens: 12, CompletionTokens: 4}, usage)
	assert.Equal(t, 16, usage.Total())
}

func TestLLMService_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer server.Close()

	svc, err := NewLLMService(LLMConfig{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = svc.Chat(context.Background(), []driven.ChatMessage{{Role: "user", Content: "hi"}}, driven.ChatOptions{})
	var se *driven.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.True(t, se.Retryable())
}

func TestLLMService_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	svc, err := NewLLMService(LLMConfig{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = svc.Generate(context.Background(), "x", driven.GenerateOptions{})
	assert.ErrorContains(t, err, "no response choices")
}

func TestLLMService_Ping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	good, err := NewLLMService(LLMConfig{APIKey: "good", BaseURL: server.URL})
	require.NoError(t, err)
	assert.NoError(t, good.Ping(context.Background()))

	bad, err := NewLLMService(LLMConfig{APIKey: "bad", BaseURL: server.URL})
	require.NoError(t, err)
	assert.Error(t, bad.Ping(context.Background()))
}
