package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorsync-ai/vectorsync/internal/vectorizer"
)

func TestOpenAIProvider_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openaiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Equal(t, 3, req.Dimensions)

		resp := map[string]interface{}{
			"object": "list",
			"data": []map[string]interface{}{
				{"object": "embedding", "index": 1, "embedding": []float32{0.4, 0.5, 0.6}},
				{"object": "embedding", "index": 0, "embedding": []float32{0.1, 0.2, 0.3}},
			},
			"model": req.Model,
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(Config{
		Model:      "text-embedding-3-small",
		Dimensions: 3,
		APIKey:     "test-key",
		BaseURL:    srv.URL,
	})
	require.NoError(t, err)

	results, err := p.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, results[0].Vector)
	assert.Equal(t, []float32{0.4, 0.5, 0.6}, results[1].Vector)
	assert.NoError(t, results[0].Err)
}

func TestOpenAIProvider_RateLimitIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limited"}}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(Config{Model: "m", APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusTooManyRequests, te.StatusCode)
	assert.Contains(t, te.Message, "rate limited")
}

func TestOpenAIProvider_BadRequestIsDeterministic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "unknown model"}}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(Config{Model: "m", APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "unknown model")
}

func TestOpenAIProvider_MissingEmbeddingSetsResultErr(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only one of two inputs comes back.
		w.Write([]byte(`{"object": "list", "data": [{"index": 0, "embedding": [0.1]}]}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(Config{Model: "m", APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	results, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
}

func TestVoyageAIProvider_SendsInputType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req voyageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "document", req.InputType)
		w.Write([]byte(`{"object": "list", "data": [{"index": 0, "embedding": [1, 0]}]}`))
	}))
	defer srv.Close()

	p, err := NewVoyageAIProvider(Config{Model: "voyage-3", APIKey: "k", BaseURL: srv.URL}, "document")
	require.NoError(t, err)

	results, err := p.Embed(context.Background(), []string{"text"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []float32{1, 0}, results[0].Vector)
}

func TestNew_DispatchesImplementation(t *testing.T) {
	openai, err := New(vectorizer.EmbeddingConfig{
		Implementation: vectorizer.EmbeddingOpenAI,
		Model:          "text-embedding-3-small",
		Dimensions:     768,
	}, "key", 0)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIProvider{}, openai)

	ollama, err := New(vectorizer.EmbeddingConfig{
		Implementation: vectorizer.EmbeddingOllama,
		Model:          "nomic-embed-text",
		Dimensions:     768,
	}, "", 0)
	require.NoError(t, err)
	assert.IsType(t, &OllamaProvider{}, ollama)

	_, err = New(vectorizer.EmbeddingConfig{Implementation: "bogus"}, "", 0)
	assert.Error(t, err)
}

func TestMockProvider_Deterministic(t *testing.T) {
	p := NewMockProvider(16)

	a, err := p.Embed(context.Background(), []string{"same text", "same text", "other"})
	require.NoError(t, err)
	require.Len(t, a, 3)
	assert.Equal(t, a[0].Vector, a[1].Vector)
	assert.NotEqual(t, a[0].Vector, a[2].Vector)
	assert.Len(t, a[0].Vector, 16)
}

func TestGuard_Check(t *testing.T) {
	g := NewGuard(3)

	assert.NoError(t, g.Check([]float32{0.1, 0.2, 0.3}))

	err := g.Check([]float32{0.1, 0.2})
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	err = g.Check([]float32{0, 0, 0})
	assert.True(t, errors.Is(err, ErrZeroVector))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&TransportError{}))
	assert.True(t, IsRetryable(&TransportError{StatusCode: 429}))
	assert.True(t, IsRetryable(&TransportError{StatusCode: 503}))
	assert.False(t, IsRetryable(errors.New("bad input")))
}
