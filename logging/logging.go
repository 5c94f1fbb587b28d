// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fabfab/docqa-agent/config"
)

// New returns a leveled logger writing to stderr and, when cfg.Path is set, to
// a size-rotated log file. The returned closer flushes the file sink.
func New(cfg config.LogConfig) (*log.Logger, io.Closer, error) {
	level, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		return nil, nil, fmt.Errorf("parse log level: %w", err)
	}

	var (
		out    io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 1
		}
		file := &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    maxSize,
			MaxBackups: 3,
		}
		out = io.MultiWriter(os.Stderr, file)
		closer = file
	}

	logger := log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
		Level:           level,
	})
	if cfg.JSON {
		logger.SetFormatter(log.JSONFormatter)
	}

	return logger, closer, nil
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
