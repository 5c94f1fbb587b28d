package index

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

const closeTimeout = 30 * time.Second

// Store publishes the active index. Swaps are atomic: a reader sees either
// the previous index or the new one, never a mix. A replaced index keeps
// serving the readers that acquired it and is closed after the last release.
type Store struct {
	current    atomic.Pointer[Index]
	generation atomic.Uint64
	logger     *log.Logger
}

func NewStore(logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{logger: logger}
}

// NextGeneration reserves the id for the next build.
func (s *Store) NextGeneration() uint64 {
	return s.generation.Add(1)
}

// Acquire pins the active index. The returned release func must be called
// exactly once when the caller is done with the index.
func (s *Store) Acquire() (*Index, func(), error) {
	for {
		idx := s.current.Load()
		if idx == nil {
			return nil, func() {}, ErrNoActiveIndex
		}
		if idx.acquire() {
			var done atomic.Bool
			return idx, func() {
				if done.CompareAndSwap(false, true) && idx.release() {
					s.closeIndex(idx)
				}
			}, nil
		}
		// Retired between Load and acquire; a newer index is already published.
	}
}

// Swap installs next as the active index and retires the previous one.
func (s *Store) Swap(next *Index) {
	if next == nil {
		return
	}
	prev := s.current.Swap(next)
	if prev == next {
		return
	}
	s.logger.Info("index swapped", "generation", next.Generation, "chunks", next.Len(), "backend", next.Backend)
	s.retire(prev)
}

// Clear removes the active index, if any.
func (s *Store) Clear() {
	s.retire(s.current.Swap(nil))
}

// Info describes the active index.
type Info struct {
	Active     bool      `json:"active"`
	Generation uint64    `json:"generation,omitempty"`
	Chunks     int       `json:"chunks"`
	Model      string    `json:"model,omitempty"`
	Backend    string    `json:"backend,omitempty"`
	BuiltAt    time.Time `json:"built_at,omitempty"`
}

func (s *Store) Info() Info {
	idx := s.current.Load()
	if idx == nil {
		return Info{}
	}
	return Info{
		Active:     true,
		Generation: idx.Generation,
		Chunks:     idx.Len(),
		Model:      idx.Model,
		Backend:    idx.Backend,
		BuiltAt:    idx.BuiltAt,
	}
}

func (s *Store) retire(idx *Index) {
	if idx != nil && idx.retire() {
		s.closeIndex(idx)
	}
}

func (s *Store) closeIndex(idx *Index) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := idx.searcher.Close(ctx); err != nil {
		s.logger.Warn("close retired index", "generation", idx.Generation, "err", err)
		return
	}
	s.logger.Debug("retired index closed", "generation", idx.Generation)
}
