package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/docqa-agent/config"
)

func TestNewClientDefaults(t *testing.T) {
	cfg := config.Config{
		LLM:        config.LLMConfig{Provider: config.ProviderOllama, Model: "llama3"},
		OllamaHost: "http://localhost:11434",
	}

	client, err := NewClient(cfg)
	require.NoError(t, err)
	require.NotNil(t, client)
}

func TestNewClientOpenAIRequiresAPIKey(t *testing.T) {
	cfg := config.Config{LLM: config.LLMConfig{Provider: config.ProviderOpenAI, Model: "gpt-4o"}}

	_, err := NewClient(cfg)
	require.Error(t, err)
}

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req ollamaChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3", req.Model)
		assert.False(t, req.Stream)
		if assert.Len(t, req.Messages, 1) {
			assert.Equal(t, RoleUser, req.Messages[0].Role)
		}

		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaChatMessage{Role: RoleAssistant, Content: "Paris is the capital."},
		})
	}))
	defer srv.Close()

	client := NewOllamaClient(Options{Model: "llama3", OllamaHost: srv.URL})
	answer, err := client.Generate(context.Background(), Prompt("capital of France?"))
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital.", answer)
}

func TestOllamaGenerateWrapsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewOllamaClient(Options{Model: "missing", OllamaHost: srv.URL})
	_, err := client.Generate(context.Background(), Prompt("hi"))
	require.ErrorIs(t, err, ErrGenerationFailure)
	assert.Contains(t, err.Error(), "model not found")
}

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"grounded reply"}}]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(Options{Model: "gpt-4o", OpenAIAPIKey: "test", OpenAIBaseURL: srv.URL})
	answer, err := client.Generate(context.Background(), Prompt("hi"))
	require.NoError(t, err)
	assert.Equal(t, "grounded reply", answer)
}

func TestOpenAIGenerateNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(Options{Model: "gpt-4o", OpenAIAPIKey: "test", OpenAIBaseURL: srv.URL})
	_, err := client.Generate(context.Background(), Prompt("hi"))
	require.ErrorIs(t, err, ErrGenerationFailure)
}
