package index

import (
	"context"
	"fmt"
)

// Retriever returns the chunks of the active index closest to a query.
type Retriever struct {
	store *Store
	topK  int
}

func NewRetriever(store *Store, topK int) *Retriever {
	return &Retriever{store: store, topK: topK}
}

// Retrieve embeds query with the model the active index was built with and
// returns up to k chunks ordered by descending similarity. A non-positive k
// falls back to the configured top-K.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]Chunk, error) {
	if k <= 0 {
		k = r.topK
	}

	idx, release, err := r.store.Acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	vectors, err := idx.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrEmbeddingFailure, err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: embed query: got %d vectors", ErrEmbeddingFailure, len(vectors))
	}

	chunks, err := idx.Search(ctx, vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("search index generation %d: %w", idx.Generation, err)
	}
	return chunks, nil
}
