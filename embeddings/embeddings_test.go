package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/docqa-agent/config"
)

type countingEmbedder struct {
	calls [][]string
	err   error
}

func (c *countingEmbedder) Model() string { return "test/counting" }

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.calls = append(c.calls, append([]string(nil), texts...))
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

func TestNewEmbedderDefaults(t *testing.T) {
	cfg := config.Config{
		Embeddings: config.EmbeddingConfig{Provider: config.ProviderOllama, Model: "all-minilm", CacheSize: 8},
		OllamaHost: "http://localhost:11434",
	}

	embedder, err := NewEmbedder(cfg)
	require.NoError(t, err)
	assert.Equal(t, "ollama/all-minilm", embedder.Model())
	assert.IsType(t, &Cached{}, embedder)
}

func TestNewEmbedderOpenAIMissingKey(t *testing.T) {
	cfg := config.Config{
		Embeddings: config.EmbeddingConfig{Provider: config.ProviderOpenAI, Model: "text-embedding-3-small"},
	}

	_, err := NewEmbedder(cfg)
	require.Error(t, err)
}

func TestOllamaEmbedderChecksDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float64{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	ok := NewOllamaEmbedder(Options{Model: "all-minilm", Dimension: 3, OllamaHost: srv.URL})
	vecs, err := ok.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.InDelta(t, 0.2, vecs[0][1], 1e-6)

	mismatched := NewOllamaEmbedder(Options{Model: "all-minilm", Dimension: 4, OllamaHost: srv.URL})
	_, err = mismatched.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestOpenAIEmbedderOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}
		]}`))
	}))
	defer srv.Close()

	embedder := NewOpenAIEmbedder(Options{Model: "text-embedding-3-small", OpenAIAPIKey: "k", OpenAIBaseURL: srv.URL})
	vecs, err := embedder.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1}, vecs[1])
}

func TestCachedEmbedsEachTextOnce(t *testing.T) {
	inner := &countingEmbedder{}
	cached, err := NewCached(inner, 16)
	require.NoError(t, err)

	first, err := cached.Embed(context.Background(), []string{"alpha", "beta", "alpha"})
	require.NoError(t, err)
	require.Len(t, inner.calls, 1)
	assert.Equal(t, []string{"alpha", "beta"}, inner.calls[0])
	assert.Equal(t, first[0], first[2])

	_, err = cached.Embed(context.Background(), []string{"beta", "alpha"})
	require.NoError(t, err)
	assert.Len(t, inner.calls, 1)

	first[0][0] = 99
	again, err := cached.Embed(context.Background(), []string{"alpha"})
	require.NoError(t, err)
	assert.Equal(t, float32(5), again[0][0])
}

func TestCachedPropagatesErrors(t *testing.T) {
	cached, err := NewCached(&countingEmbedder{err: errors.New("offline")}, 4)
	require.NoError(t, err)

	_, err = cached.Embed(context.Background(), []string{"x"})
	require.EqualError(t, err, "offline")
}
