// Package chat answers questions against the active document index and falls
// back to the bare model when the index cannot help.
package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/fabfab/docqa-agent/index"
	"github.com/fabfab/docqa-agent/llm"
	"github.com/fabfab/docqa-agent/metrics"
)

// Retriever returns the chunks most similar to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]index.Chunk, error)
}

// Answer is what the user sees. Grounded is true only when the text came
// from the context-grounded path and passed AcceptGrounded.
type Answer struct {
	Text     string `json:"answer"`
	Grounded bool   `json:"grounded"`
}

type Service struct {
	retriever Retriever
	llm       llm.Client
	topK      int
	metrics   *metrics.Recorder
	logger    *log.Logger
}

func NewService(retriever Retriever, client llm.Client, topK int, recorder *metrics.Recorder, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		retriever: retriever,
		llm:       client,
		topK:      topK,
		metrics:   recorder,
		logger:    logger,
	}
}

// Answer never returns an error: failures become user-facing text.
func (s *Service) Answer(ctx context.Context, question string) Answer {
	if strings.TrimSpace(question) == "" {
		s.metrics.Answer(metrics.OutcomeEmpty)
		return Answer{Text: MessageEmptyQuestion}
	}

	chunks, err := s.retriever.Retrieve(ctx, question, s.topK)
	switch {
	case errors.Is(err, index.ErrNoActiveIndex):
		s.logger.Debug("no active index, answering without context")
		return s.direct(ctx, question, metrics.OutcomeUngrounded)
	case err != nil:
		s.logger.Error("retrieve context", "err", err)
		s.metrics.Answer(metrics.OutcomeError)
		return Answer{Text: MessageError}
	case len(chunks) == 0:
		return s.direct(ctx, question, metrics.OutcomeUngrounded)
	}

	text, err := s.llm.Generate(ctx, llm.Prompt(groundedPrompt(joinChunks(chunks), question)))
	if err != nil {
		s.logger.Error("grounded generation", "err", err)
		s.metrics.Answer(metrics.OutcomeError)
		return Answer{Text: MessageError}
	}

	if !AcceptGrounded(text) {
		s.logger.Debug("grounded answer rejected, falling back", "chunks", len(chunks))
		return s.direct(ctx, question, metrics.OutcomeFallback)
	}

	s.metrics.Answer(metrics.OutcomeGrounded)
	return Answer{Text: text, Grounded: true}
}

// Context returns the retrieved chunk texts for question, separated by blank
// lines, or MessageNoContext when nothing can be retrieved.
func (s *Service) Context(ctx context.Context, question string) string {
	if strings.TrimSpace(question) == "" {
		return MessageNoContext
	}
	chunks, err := s.retriever.Retrieve(ctx, question, s.topK)
	if err != nil {
		if !errors.Is(err, index.ErrNoActiveIndex) {
			s.logger.Warn("retrieve context", "err", err)
		}
		return MessageNoContext
	}
	if len(chunks) == 0 {
		return MessageNoContext
	}
	return joinChunks(chunks)
}

// FreeChat sends question straight to the model, without any document context.
func (s *Service) FreeChat(ctx context.Context, question string) Answer {
	if strings.TrimSpace(question) == "" {
		s.metrics.Answer(metrics.OutcomeEmpty)
		return Answer{Text: MessageEmptyQuestion}
	}
	return s.direct(ctx, question, metrics.OutcomeUngrounded)
}

func (s *Service) direct(ctx context.Context, question, outcome string) Answer {
	text, err := s.llm.Generate(ctx, llm.Prompt(question))
	if err != nil {
		s.logger.Error("direct generation", "err", err)
		s.metrics.Answer(metrics.OutcomeError)
		return Answer{Text: MessageError}
	}
	s.metrics.Answer(outcome)
	return Answer{Text: text}
}
