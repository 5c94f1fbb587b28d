package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/fabfab/docqa-agent/chat"
	"github.com/fabfab/docqa-agent/config"
	"github.com/fabfab/docqa-agent/database"
	"github.com/fabfab/docqa-agent/embeddings"
	"github.com/fabfab/docqa-agent/index"
	"github.com/fabfab/docqa-agent/ingestion"
	"github.com/fabfab/docqa-agent/knowledge"
	"github.com/fabfab/docqa-agent/llm"
	"github.com/fabfab/docqa-agent/metrics"
	"github.com/fabfab/docqa-agent/vectorstore"
)

// app holds the wired services shared by every command.
type app struct {
	cfg      config.Config
	logger   *log.Logger
	store    *index.Store
	ingester *ingestion.Service
	chat     *chat.Service
	history  *chat.History
	metrics  *metrics.Recorder

	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg config.Config, logger *log.Logger) (_ *app, err error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		store:   index.NewStore(logger),
		history: chat.NewHistory(),
		metrics: metrics.New(),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("embedder setup: %w", err)
	}
	client, err := llm.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm setup: %w", err)
	}

	backend, err := a.openBackend(ctx)
	if err != nil {
		return nil, err
	}

	splitter, err := ingestion.NewSplitter(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}

	deps := ingestion.Dependencies{
		Normalizer: ingestion.NewNormalizer(),
		Splitter:   splitter,
		Builder:    index.NewBuilder(embedder, backend, index.BuilderOptions{BatchSize: cfg.Embeddings.BatchSize}, logger),
		Store:      a.store,
		Metrics:    a.metrics,
		Logger:     logger,
	}
	if cfg.Neo4jURI != "" {
		driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			return nil, err
		}
		a.onClose(func(ctx context.Context) error { return driver.Close(ctx) })
		deps.Graph = knowledge.NewGraphRecorder(driver, logger)
	}

	a.ingester, err = ingestion.NewService(deps)
	if err != nil {
		return nil, err
	}

	retriever := index.NewRetriever(a.store, cfg.Index.TopK)
	a.chat = chat.NewService(retriever, client, cfg.Index.TopK, a.metrics, logger)

	logger.Info("services ready",
		"embeddings", cfg.Embeddings.Provider+"/"+cfg.Embeddings.Model,
		"llm", cfg.LLM.Provider+"/"+cfg.LLM.Model,
		"backend", backend.Name(),
	)
	return a, nil
}

func (a *app) openBackend(ctx context.Context) (index.Backend, error) {
	switch a.cfg.Index.Backend {
	case config.BackendPgvector:
		pool, err := database.NewPostgresPool(ctx, a.cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error {
			pool.Close()
			return nil
		})

		pg := vectorstore.NewPostgres(pool, a.cfg.Embeddings.Dimension, a.logger)
		if err := pg.Init(ctx); err != nil {
			return nil, fmt.Errorf("postgres init: %w", err)
		}
		return pg, nil
	case config.BackendQdrant:
		q, err := vectorstore.NewQdrant(a.cfg.Index.QdrantHost, a.cfg.Index.QdrantPort, a.cfg.Index.QdrantCollection, a.logger)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return q.Close() })
		return q, nil
	default:
		return index.NewMemoryBackend(), nil
	}
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close drops the active index, releasing its backend storage, then closes
// connections in reverse order of creation.
func (a *app) Close() {
	a.store.Clear()

	ctx := context.Background()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("close resource", "err", err)
		}
	}
	a.closers = nil
}

func (a *app) loadDefault(ctx context.Context) {
	report := a.ingester.LoadDefault(ctx, a.cfg.DefaultDocumentPath)
	a.logger.Info(report.Message)
}

const replHelp = `Commands:
  :ingest <path>  index a document, replacing the current one
  :doc            answer from the indexed document (default)
  :free           ask the model directly
  :history        print the transcript of the current mode
  :index          describe the active index
  :quit           exit`

func runREPL(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	mode := chat.ModeDocument
	fmt.Fprintln(out, replHelp)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "%s> ", mode)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == ":quit" || line == ":exit":
			return nil
		case line == ":help":
			fmt.Fprintln(out, replHelp)
		case line == ":doc":
			mode = chat.ModeDocument
		case line == ":free":
			mode = chat.ModeFree
		case line == ":history":
			for _, msg := range a.history.Entries(mode) {
				fmt.Fprintf(out, "%s: %s\n", msg.Role, msg.Content)
			}
		case line == ":index":
			info := a.store.Info()
			if !info.Active {
				fmt.Fprintln(out, "No active index.")
				continue
			}
			fmt.Fprintf(out, "generation %d, %d chunks, %s via %s\n", info.Generation, info.Chunks, info.Model, info.Backend)
		case strings.HasPrefix(line, ":ingest"):
			path := strings.TrimSpace(strings.TrimPrefix(line, ":ingest"))
			if path == "" {
				fmt.Fprintln(out, "usage: :ingest <path>")
				continue
			}
			fmt.Fprintln(out, a.ingester.Ingest(ctx, path).Message)
		case strings.HasPrefix(line, ":"):
			fmt.Fprintf(out, "unknown command %s\n", line)
		default:
			if mode == chat.ModeFree {
				answer := a.chat.FreeChat(ctx, line)
				a.history.Append(mode, line, answer.Text)
				fmt.Fprintln(out, answer.Text)
				continue
			}
			answer := a.chat.Answer(ctx, line)
			a.history.Append(mode, line, chat.DocumentReply(answer.Text, a.chat.Context(ctx, line)))
			fmt.Fprintln(out, answer.Text)
		}
	}
}
