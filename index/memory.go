package index

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// MemoryBackend keeps vectors in process memory and scores every one of them
// on each query with cosine similarity.
type MemoryBackend struct{}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (*MemoryBackend) Name() string { return "memory" }

func (*MemoryBackend) Build(_ context.Context, _ uint64, vectors [][]float32) (Searcher, error) {
	s := &memorySearcher{vectors: make([][]float64, len(vectors))}
	for i, vec := range vectors {
		s.vectors[i] = unit(vec)
	}
	if len(vectors) > 0 {
		s.dimension = len(vectors[0])
	}
	return s, nil
}

type memorySearcher struct {
	dimension int
	vectors   [][]float64
}

func (s *memorySearcher) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(vector), s.dimension)
	}

	query := unit(vector)
	hits := make([]Hit, len(s.vectors))
	for i, vec := range s.vectors {
		var dot float64
		for j := range vec {
			dot += vec[j] * query[j]
		}
		hits[i] = Hit{Position: i, Score: dot}
	}

	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Score > hits[b].Score
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func (*memorySearcher) Close(context.Context) error { return nil }

// unit scales vec to length one. The zero vector stays zero and therefore
// scores 0 against everything.
func unit(vec []float32) []float64 {
	out := make([]float64, len(vec))
	var norm float64
	for i, v := range vec {
		out[i] = float64(v)
		norm += out[i] * out[i]
	}
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i := range out {
		out[i] /= norm
	}
	return out
}

var _ Backend = (*MemoryBackend)(nil)
