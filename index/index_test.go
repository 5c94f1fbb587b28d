package index

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keywordEmbedder counts vocabulary words, giving predictable similarities.
type keywordEmbedder struct {
	vocab []string
	fail  error
	calls atomic.Int32
}

func newKeywordEmbedder() *keywordEmbedder {
	return &keywordEmbedder{vocab: []string{"apple", "banana", "cherry"}}
}

func (e *keywordEmbedder) Model() string { return "test/keywords" }

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.fail != nil {
		return nil, e.fail
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, len(e.vocab))
		for j, word := range e.vocab {
			vec[j] = float32(strings.Count(text, word))
		}
		out[i] = vec
	}
	return out, nil
}

type closeCountingBackend struct {
	MemoryBackend
	closed atomic.Int32
}

func (b *closeCountingBackend) Build(ctx context.Context, gen uint64, vectors [][]float32) (Searcher, error) {
	inner, err := b.MemoryBackend.Build(ctx, gen, vectors)
	if err != nil {
		return nil, err
	}
	return &closeCountingSearcher{Searcher: inner, closed: &b.closed}, nil
}

type closeCountingSearcher struct {
	Searcher
	closed *atomic.Int32
}

func (s *closeCountingSearcher) Close(context.Context) error {
	s.closed.Add(1)
	return nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func units(texts ...string) []Unit {
	out := make([]Unit, len(texts))
	for i, text := range texts {
		out[i] = Unit{Text: text, Source: "doc.txt"}
	}
	return out
}

func TestMemorySearchOrdersByScoreThenPosition(t *testing.T) {
	searcher, err := NewMemoryBackend().Build(context.Background(), 1, [][]float32{
		{0, 1},
		{1, 0},
		{2, 0},
		{1, 1},
	})
	require.NoError(t, err)

	hits, err := searcher.Search(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, 1, hits[0].Position)
	assert.Equal(t, 2, hits[1].Position)
	assert.Equal(t, 3, hits[2].Position)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
}

func TestMemorySearchRejectsDimensionMismatch(t *testing.T) {
	searcher, err := NewMemoryBackend().Build(context.Background(), 1, [][]float32{{1, 0}})
	require.NoError(t, err)

	_, err = searcher.Search(context.Background(), []float32{1, 0, 0}, 1)
	require.Error(t, err)
}

func TestBuildAssignsPositionsAndBatches(t *testing.T) {
	embedder := newKeywordEmbedder()
	builder := NewBuilder(embedder, nil, BuilderOptions{BatchSize: 2}, quietLogger())

	idx, err := builder.Build(context.Background(), 7, units("apple", "banana", "cherry", "apple pie", "banana split"))
	require.NoError(t, err)

	assert.Equal(t, uint64(7), idx.Generation)
	assert.Equal(t, "test/keywords", idx.Model)
	assert.Equal(t, "memory", idx.Backend)
	assert.EqualValues(t, 3, embedder.calls.Load())
	require.Equal(t, 5, idx.Len())
	for i, chunk := range idx.Chunks() {
		assert.Equal(t, i, chunk.Position)
		assert.NotEmpty(t, chunk.ID)
		assert.Equal(t, "doc.txt", chunk.Source)
	}
	assert.Equal(t, "apple pie", idx.Chunks()[3].Text)
}

func TestBuildRejectsEmptyInput(t *testing.T) {
	builder := NewBuilder(newKeywordEmbedder(), nil, BuilderOptions{}, quietLogger())

	_, err := builder.Build(context.Background(), 1, nil)
	require.ErrorIs(t, err, ErrEmptyIndex)
}

func TestBuildAbortsOnEmbeddingError(t *testing.T) {
	embedder := newKeywordEmbedder()
	embedder.fail = errors.New("connection refused")
	builder := NewBuilder(embedder, nil, BuilderOptions{BatchSize: 1}, quietLogger())

	_, err := builder.Build(context.Background(), 1, units("apple", "banana"))
	require.ErrorIs(t, err, ErrEmbeddingFailure)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRetrieveWithoutIndex(t *testing.T) {
	retriever := NewRetriever(NewStore(quietLogger()), 3)

	_, err := retriever.Retrieve(context.Background(), "apple", 0)
	require.ErrorIs(t, err, ErrNoActiveIndex)
}

func TestRetrieveReturnsNearestChunks(t *testing.T) {
	store := NewStore(quietLogger())
	builder := NewBuilder(newKeywordEmbedder(), nil, BuilderOptions{}, quietLogger())
	idx, err := builder.Build(context.Background(), store.NextGeneration(),
		units("banana bread", "apple tart", "cherry jam", "apple apple"))
	require.NoError(t, err)
	store.Swap(idx)

	retriever := NewRetriever(store, 2)

	chunks, err := retriever.Retrieve(context.Background(), "apple", 0)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	// Both apple chunks score 1.0; the earlier position wins the tie.
	assert.Equal(t, "apple tart", chunks[0].Text)
	assert.Equal(t, "apple apple", chunks[1].Text)

	one, err := retriever.Retrieve(context.Background(), "cherry", 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "cherry jam", one[0].Text)

	all, err := retriever.Retrieve(context.Background(), "banana", 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestRetrieveEmbeddingFailure(t *testing.T) {
	embedder := newKeywordEmbedder()
	store := NewStore(quietLogger())
	idx, err := NewBuilder(embedder, nil, BuilderOptions{}, quietLogger()).Build(context.Background(), 1, units("apple"))
	require.NoError(t, err)
	store.Swap(idx)

	embedder.fail = errors.New("timeout")
	_, err = NewRetriever(store, 1).Retrieve(context.Background(), "apple", 1)
	require.ErrorIs(t, err, ErrEmbeddingFailure)
}

func TestSwapClosesRetiredIndexAfterLastReader(t *testing.T) {
	backend := &closeCountingBackend{}
	builder := NewBuilder(newKeywordEmbedder(), backend, BuilderOptions{}, quietLogger())
	store := NewStore(quietLogger())

	first, err := builder.Build(context.Background(), store.NextGeneration(), units("apple"))
	require.NoError(t, err)
	store.Swap(first)

	pinned, release, err := store.Acquire()
	require.NoError(t, err)
	require.Same(t, first, pinned)

	second, err := builder.Build(context.Background(), store.NextGeneration(), units("banana"))
	require.NoError(t, err)
	store.Swap(second)

	// The pinned snapshot still answers queries after the swap.
	chunks, err := pinned.Search(context.Background(), []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "apple", chunks[0].Text)
	assert.EqualValues(t, 0, backend.closed.Load())

	release()
	release()
	assert.EqualValues(t, 1, backend.closed.Load())

	info := store.Info()
	assert.True(t, info.Active)
	assert.Equal(t, second.Generation, info.Generation)
	assert.Equal(t, 1, info.Chunks)

	store.Clear()
	assert.EqualValues(t, 2, backend.closed.Load())
	assert.False(t, store.Info().Active)
}

func TestConcurrentReadersNeverSeeMixedIndex(t *testing.T) {
	store := NewStore(quietLogger())
	builder := NewBuilder(newKeywordEmbedder(), &closeCountingBackend{}, BuilderOptions{}, quietLogger())

	build := func(word string) *Index {
		idx, err := builder.Build(context.Background(), store.NextGeneration(),
			units(word+" one", word+" two", word+" three"))
		require.NoError(t, err)
		return idx
	}
	store.Swap(build("apple"))

	retriever := NewRetriever(store, 3)
	stop := make(chan struct{})
	var (
		wg    sync.WaitGroup
		mixed atomic.Int32
	)
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				chunks, err := retriever.Retrieve(context.Background(), "apple banana", 3)
				if err != nil || len(chunks) != 3 {
					mixed.Add(1)
					continue
				}
				word := strings.Fields(chunks[0].Text)[0]
				for _, chunk := range chunks[1:] {
					if !strings.HasPrefix(chunk.Text, word) {
						mixed.Add(1)
					}
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			store.Swap(build("banana"))
		} else {
			store.Swap(build("apple"))
		}
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, mixed.Load())
}
