package ollama

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

func TestEmbeddingService_EmbedBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultModel, req.Model)
		if len(req.Input) == 1 {
			_, _ = w.Write([]byte(`{"embeddings":[[0.5,0.5]]}`))
			return
		}
		_, _ = w.Write([]byte(`{"embeddings":[[0.5,0.5],[1,0]]}`))
	}))
	defer server.Close()

	svc := NewEmbeddingService(Config{BaseURL: server.URL})
	out, err := svc.EmbedBatch(context.Background(), []string{"a", "b"})

	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.5, 0.5}, {1, 0}}, out)

	one, err := svc.Embed(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, one)
}

func TestEmbeddingService_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"embeddings":[[1]]}`))
	}))
	defer server.Close()

	svc := NewEmbeddingService(Config{BaseURL: server.URL})

	_, err := svc.EmbedBatch(context.Background(), []string{"a", "b"})
	assert.ErrorContains(t, err, "got 1 embeddings for 2 inputs")

	var se *driven.StatusError
	assert.ErrorAs(t, svc.Ping(context.Background()), &se)
}
