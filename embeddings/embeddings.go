package embeddings

import (
	"context"
	"fmt"

	"github.com/fabfab/docqa-agent/config"
)

// Embedder turns texts into vectors. Model identifies the embedding space;
// vectors from different models must never be compared.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

type Options struct {
	Provider  string
	Model     string
	Dimension int

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

// NewEmbedder builds the configured provider embedder, wrapped in an LRU cache
// when cfg.Embeddings.CacheSize is positive.
func NewEmbedder(cfg config.Config) (Embedder, error) {
	opts := Options{
		Provider:      cfg.Embeddings.Provider,
		Model:         cfg.Embeddings.Model,
		Dimension:     cfg.Embeddings.Dimension,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	var base Embedder
	switch opts.Provider {
	case config.ProviderOllama:
		base = NewOllamaEmbedder(opts)
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		base = NewOpenAIEmbedder(opts)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", opts.Provider)
	}

	if cfg.Embeddings.CacheSize <= 0 {
		return base, nil
	}
	return NewCached(base, cfg.Embeddings.CacheSize)
}
