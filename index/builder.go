package index

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fabfab/docqa-agent/embeddings"
)

const (
	defaultBatchSize   = 32
	defaultConcurrency = 4
)

type BuilderOptions struct {
	BatchSize   int
	Concurrency int
}

// Builder embeds units and wraps them, with a backend searcher, into an Index.
type Builder struct {
	embedder    embeddings.Embedder
	backend     Backend
	batchSize   int
	concurrency int
	logger      *log.Logger
}

func NewBuilder(embedder embeddings.Embedder, backend Backend, opts BuilderOptions, logger *log.Logger) *Builder {
	if logger == nil {
		logger = log.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if backend == nil {
		backend = NewMemoryBackend()
	}
	return &Builder{
		embedder:    embedder,
		backend:     backend,
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
		logger:      logger,
	}
}

// Build embeds every unit and returns a new, not yet published, index. Any
// embedding error aborts the whole build.
func (b *Builder) Build(ctx context.Context, generation uint64, units []Unit) (*Index, error) {
	if len(units) == 0 {
		return nil, ErrEmptyIndex
	}
	if b.embedder == nil {
		return nil, fmt.Errorf("%w: embedder not configured", ErrEmbeddingFailure)
	}

	started := time.Now()
	vectors, err := b.embed(ctx, units)
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, len(units))
	for i, unit := range units {
		chunks[i] = Chunk{
			ID:        uuid.NewString(),
			Position:  i,
			Text:      unit.Text,
			Embedding: vectors[i],
			Source:    unit.Source,
		}
	}

	searcher, err := b.backend.Build(ctx, generation, vectors)
	if err != nil {
		return nil, fmt.Errorf("build %s index: %w", b.backend.Name(), err)
	}

	b.logger.Debug("index built",
		"generation", generation,
		"chunks", len(chunks),
		"backend", b.backend.Name(),
		"elapsed", time.Since(started).Round(time.Millisecond),
	)

	return &Index{
		Generation: generation,
		Model:      b.embedder.Model(),
		Backend:    b.backend.Name(),
		BuiltAt:    time.Now(),
		chunks:     chunks,
		embedder:   b.embedder,
		searcher:   searcher,
	}, nil
}

func (b *Builder) embed(ctx context.Context, units []Unit) ([][]float32, error) {
	vectors := make([][]float32, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for start := 0; start < len(units); start += b.batchSize {
		end := min(start+b.batchSize, len(units))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, unit := range units[start:end] {
				texts = append(texts, unit.Text)
			}
			batch, err := b.embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("%w: batch %d-%d: %v", ErrEmbeddingFailure, start, end, err)
			}
			if len(batch) != len(texts) {
				return fmt.Errorf("%w: batch %d-%d returned %d vectors for %d texts", ErrEmbeddingFailure, start, end, len(batch), len(texts))
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dim := len(vectors[0])
	for i, vec := range vectors {
		if len(vec) == 0 || len(vec) != dim {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrEmbeddingFailure, i, len(vec), dim)
		}
	}
	return vectors, nil
}
