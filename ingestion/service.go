package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/fabfab/docqa-agent/index"
	"github.com/fabfab/docqa-agent/metrics"
)

// IndexBuilder turns units into an unpublished index.
type IndexBuilder interface {
	Build(ctx context.Context, generation uint64, units []index.Unit) (*index.Index, error)
}

// ProvenanceRecorder mirrors a freshly published index somewhere else.
type ProvenanceRecorder interface {
	Record(ctx context.Context, idx *index.Index) error
}

type Dependencies struct {
	Normalizer *Normalizer
	Splitter   *Splitter
	Builder    IndexBuilder
	Store      *index.Store
	Graph      ProvenanceRecorder
	Metrics    *metrics.Recorder
	Logger     *log.Logger
}

// Report is the outcome of one ingestion request. Message is meant for the
// user; Err keeps the cause for callers that need it.
type Report struct {
	Message string `json:"message"`
	Records int    `json:"records"`
	Chunks  int    `json:"chunks"`
	Err     error  `json:"-"`
}

func (r Report) OK() bool {
	return r.Err == nil
}

// Service serializes index rebuilds: one ingestion at a time, others queue
// on the mutex.
type Service struct {
	mu         sync.Mutex
	normalizer *Normalizer
	splitter   *Splitter
	builder    IndexBuilder
	store      *index.Store
	graph      ProvenanceRecorder
	metrics    *metrics.Recorder
	logger     *log.Logger
}

func NewService(deps Dependencies) (*Service, error) {
	if deps.Splitter == nil {
		return nil, fmt.Errorf("splitter is required")
	}
	if deps.Builder == nil {
		return nil, fmt.Errorf("index builder is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("index store is required")
	}
	if deps.Normalizer == nil {
		deps.Normalizer = NewNormalizer()
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}

	return &Service{
		normalizer: deps.Normalizer,
		splitter:   deps.Splitter,
		builder:    deps.Builder,
		store:      deps.Store,
		graph:      deps.Graph,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}, nil
}

// Ingest replaces the active index with one built from the file at path. On
// any failure the previous index stays active.
func (s *Service) Ingest(ctx context.Context, path string) Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := s.logger.With("path", path)

	docs, err := s.normalizer.Normalize(ctx, path)
	if err != nil {
		var unsupported *UnsupportedFormatError
		switch {
		case errors.As(err, &unsupported):
			s.metrics.Ingestion(metrics.ResultUnsupported)
			logger.Warn("unsupported file type", "ext", unsupported.Ext)
			return Report{Message: fmt.Sprintf("Unsupported file type: %s", unsupported.Ext), Err: err}
		case errors.Is(err, ErrEmptyExtraction):
			s.metrics.Ingestion(metrics.ResultEmpty)
			logger.Warn("no documents extracted")
			return Report{Message: "No documents extracted.", Err: err}
		default:
			s.metrics.Ingestion(metrics.ResultReadError)
			logger.Error("read document", "err", err)
			return Report{Message: fmt.Sprintf("Could not read file: %v", err), Err: err}
		}
	}

	idx, err := s.rebuild(ctx, docs)
	if err != nil {
		if errors.Is(err, index.ErrEmptyIndex) {
			s.metrics.Ingestion(metrics.ResultEmpty)
			logger.Warn("no chunks produced")
			return Report{Message: "No documents extracted.", Records: len(docs), Err: err}
		}
		s.metrics.Ingestion(metrics.ResultIndexError)
		logger.Error("build index", "err", err)
		return Report{Message: fmt.Sprintf("Indexing failed: %v", err), Records: len(docs), Err: err}
	}

	s.metrics.Ingestion(metrics.ResultIndexed)
	logger.Info("document indexed", "records", len(docs), "chunks", idx.Len(), "generation", idx.Generation)
	return Report{
		Message: fmt.Sprintf("%s file indexed with %d records (%d chunks).", strings.ToUpper(Extension(path)), len(docs), idx.Len()),
		Records: len(docs),
		Chunks:  idx.Len(),
	}
}

// LoadDefault indexes the startup document as raw text. A file that is
// missing, unreadable or not valid UTF-8 is logged and treated as empty,
// which leaves no index active; startup continues either way.
func (s *Service) LoadDefault(ctx context.Context, path string) Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	var text string
	records, err := ExtractText(ctx, path)
	if err != nil {
		s.logger.Warn("default document unavailable", "path", path, "err", err)
	} else {
		text = strings.Join(records, "\n")
	}

	docs := []Document{{SourcePath: path, Format: FormatText, Text: text}}
	idx, err := s.rebuild(ctx, docs)
	if err != nil {
		if errors.Is(err, index.ErrEmptyIndex) {
			s.logger.Info("default document is empty; starting without an index", "path", path)
			return Report{Message: "No default document loaded.", Err: err}
		}
		s.logger.Error("index default document", "path", path, "err", err)
		return Report{Message: fmt.Sprintf("Indexing failed: %v", err), Records: 1, Err: err}
	}

	s.logger.Info("default document indexed", "path", path, "chunks", idx.Len(), "generation", idx.Generation)
	return Report{
		Message: fmt.Sprintf("Default document indexed (%d chunks).", idx.Len()),
		Records: 1,
		Chunks:  idx.Len(),
	}
}

// rebuild must be called with mu held.
func (s *Service) rebuild(ctx context.Context, docs []Document) (*index.Index, error) {
	units := Units(docs, s.splitter)
	if len(units) == 0 {
		return nil, index.ErrEmptyIndex
	}

	started := time.Now()
	idx, err := s.builder.Build(ctx, s.store.NextGeneration(), units)
	if err != nil {
		return nil, err
	}
	s.store.Swap(idx)
	s.metrics.IndexBuilt(time.Since(started), idx.Len())

	if s.graph != nil {
		if err := s.graph.Record(ctx, idx); err != nil {
			s.logger.Warn("record provenance graph", "generation", idx.Generation, "err", err)
		}
	}
	return idx, nil
}
