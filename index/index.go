// Package index holds the immutable vector index over document chunks and the
// store that publishes exactly one active index at a time.
package index

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fabfab/docqa-agent/embeddings"
)

var (
	ErrNoActiveIndex    = errors.New("no active index")
	ErrEmbeddingFailure = errors.New("embedding failure")
	ErrEmptyIndex       = errors.New("no chunks to index")
)

// Unit is a piece of text ready to be embedded.
type Unit struct {
	Text   string
	Source string
}

// Chunk is one indexed unit together with its vector.
type Chunk struct {
	ID        string
	Position  int
	Text      string
	Embedding []float32
	Source    string
}

// Hit is a search result addressed by chunk position.
type Hit struct {
	Position int
	Score    float64
}

// Searcher answers nearest-neighbour queries over the vectors of one build.
// Results are ordered by descending score, ties by ascending position.
type Searcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)
	Close(ctx context.Context) error
}

// Backend builds a Searcher for a set of vectors. Vector i belongs to the
// chunk at position i.
type Backend interface {
	Name() string
	Build(ctx context.Context, generation uint64, vectors [][]float32) (Searcher, error)
}

// Index is an immutable snapshot of the embedded corpus. It is safe for
// concurrent readers; the Store decides when its searcher is released.
type Index struct {
	Generation uint64
	Model      string
	Backend    string
	BuiltAt    time.Time

	chunks   []Chunk
	embedder embeddings.Embedder
	searcher Searcher

	mu      sync.Mutex
	refs    int
	retired bool
	closed  bool
}

func (idx *Index) Len() int {
	return len(idx.chunks)
}

// Chunks returns the chunks in position order. Callers must not modify them.
func (idx *Index) Chunks() []Chunk {
	return idx.chunks
}

// Search returns the k chunks nearest to vector.
func (idx *Index) Search(ctx context.Context, vector []float32, k int) ([]Chunk, error) {
	if k <= 0 {
		return nil, nil
	}
	hits, err := idx.searcher.Search(ctx, vector, k)
	if err != nil {
		return nil, err
	}

	out := make([]Chunk, 0, len(hits))
	for _, hit := range hits {
		if hit.Position < 0 || hit.Position >= len(idx.chunks) {
			continue
		}
		out = append(out, idx.chunks[hit.Position])
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (idx *Index) acquire() bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.retired {
		return false
	}
	idx.refs++
	return true
}

// release drops one reader and reports whether the searcher should be closed.
func (idx *Index) release() bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.refs--
	return idx.retired && idx.refs == 0 && idx.markClosed()
}

func (idx *Index) retire() bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.retired = true
	return idx.refs == 0 && idx.markClosed()
}

// markClosed must be called with mu held.
func (idx *Index) markClosed() bool {
	if idx.closed {
		return false
	}
	idx.closed = true
	return true
}
