package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached memoizes vectors per text in an LRU. Answer and Context both embed
// the same question, so the second call is served from memory.
type Cached struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

func NewCached(inner Embedder, size int) (*Cached, error) {
	if inner == nil {
		return nil, fmt.Errorf("embedding cache: inner embedder is required")
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Model() string {
	return c.inner.Model()
}

func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	missing := make([]string, 0)
	missingIdx := make(map[string][]int)

	for i, text := range texts {
		if vec, ok := c.cache.Get(c.key(text)); ok {
			results[i] = cloneVector(vec)
			continue
		}
		if _, seen := missingIdx[text]; !seen {
			missing = append(missing, text)
		}
		missingIdx[text] = append(missingIdx[text], i)
	}
	if len(missing) == 0 {
		return results, nil
	}

	embedded, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(embedded) != len(missing) {
		return nil, fmt.Errorf("received %d embeddings for %d texts", len(embedded), len(missing))
	}

	for i, text := range missing {
		c.cache.Add(c.key(text), cloneVector(embedded[i]))
		for _, idx := range missingIdx[text] {
			results[idx] = cloneVector(embedded[i])
		}
	}
	return results, nil
}

func (c *Cached) key(text string) string {
	sum := sha256.Sum256([]byte(c.inner.Model() + "\x00" + text))
	return hex.EncodeToString(sum[:16])
}

func cloneVector(vec []float32) []float32 {
	if vec == nil {
		return nil
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}

var _ Embedder = (*Cached)(nil)
