package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/fabfab/docqa-agent/api"
	"github.com/fabfab/docqa-agent/config"
	"github.com/fabfab/docqa-agent/database"
	"github.com/fabfab/docqa-agent/knowledge"
	"github.com/fabfab/docqa-agent/logging"
	"github.com/fabfab/docqa-agent/vectorstore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:          "docqa-agent",
		Short:        "Answer questions about a document with retrieval-augmented generation",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Config file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(
		newServeCmd(&flags),
		newAskCmd(&flags),
		newReplCmd(&flags),
		newClearCmd(&flags),
	)
	return rootCmd
}

func loadConfig(flags *globalFlags) (config.Config, *log.Logger, io.Closer, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	return cfg, logger, closer, nil
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := loadConfig(flags)
			if err != nil {
				return err
			}
			defer closer.Close()
			if addr != "" {
				cfg.HTTPAddr = addr
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			a.loadDefault(ctx)
			return serve(ctx, a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to http_addr from config)")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	handler := api.New(api.Dependencies{
		Ingester: a.ingester,
		Answerer: a.chat,
		Index:    a.store,
		History:  a.history,
		Metrics:  a.metrics.Handler(),
	}, a.logger)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newAskCmd(flags *globalFlags) *cobra.Command {
	var (
		file        string
		free        bool
		showContext bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a single question and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Enter your question: ")
				scanner := bufio.NewScanner(cmd.InOrStdin())
				if scanner.Scan() {
					question = scanner.Text()
				}
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("read question: %w", err)
				}
			}

			cfg, logger, closer, err := loadConfig(flags)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if free {
				fmt.Fprintln(out, a.chat.FreeChat(ctx, question).Text)
				return nil
			}

			if file != "" {
				report := a.ingester.Ingest(ctx, file)
				fmt.Fprintln(out, report.Message)
				if !report.OK() {
					return report.Err
				}
			} else {
				a.loadDefault(ctx)
			}

			fmt.Fprintln(out, a.chat.Answer(ctx, question).Text)
			if showContext {
				fmt.Fprintln(out, "\n--- context ---")
				fmt.Fprintln(out, a.chat.Context(ctx, question))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Document to index instead of the default document")
	cmd.Flags().BoolVar(&free, "free", false, "Ask the model directly, without document context")
	cmd.Flags().BoolVar(&showContext, "show-context", false, "Print the retrieved context after the answer")
	return cmd
}

func newReplCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive question loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := loadConfig(flags)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			a.loadDefault(ctx)
			return runREPL(ctx, a, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func newClearCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove stored vectors and the provenance graph from external stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := loadConfig(flags)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return clearStores(ctx, cfg, logger)
		},
	}
}

func clearStores(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	cleared := false

	if cfg.PostgresDSN != "" {
		pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer pool.Close()

		pg := vectorstore.NewPostgres(pool, cfg.Embeddings.Dimension, logger)
		if err := pg.Purge(ctx); err != nil {
			return fmt.Errorf("clear postgres: %w", err)
		}
		logger.Info("pgvector rows cleared")
		cleared = true
	}

	if cfg.Neo4jURI != "" {
		driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			return err
		}
		defer driver.Close(ctx)

		if err := knowledge.NewGraphRecorder(driver, logger).Clear(ctx); err != nil {
			return fmt.Errorf("clear neo4j: %w", err)
		}
		cleared = true
	}

	if !cleared {
		logger.Info("no external stores configured, nothing to clear")
	}
	return nil
}
