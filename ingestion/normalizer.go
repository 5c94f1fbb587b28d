package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

type strategy struct {
	format     DocumentFormat
	structured bool
	extractor  Extractor
}

// Normalizer maps file extensions to extraction strategies.
type Normalizer struct {
	mu         sync.RWMutex
	strategies map[string]strategy
}

// NewNormalizer returns a normalizer with every built-in format registered.
func NewNormalizer() *Normalizer {
	n := &Normalizer{strategies: make(map[string]strategy)}
	n.Register(".txt", FormatText, false, ExtractorFunc(ExtractText))
	n.Register(".md", FormatMarkdown, false, ExtractorFunc(ExtractText))
	n.Register(".markdown", FormatMarkdown, false, ExtractorFunc(ExtractText))
	n.Register(".pdf", FormatPDF, false, ExtractorFunc(ExtractPDF))
	n.Register(".docx", FormatDOCX, false, ExtractorFunc(ExtractDOCX))
	n.Register(".xlsx", FormatXLSX, true, ExtractorFunc(ExtractXLSX))
	n.Register(".xls", FormatXLS, true, ExtractorFunc(ExtractXLS))
	n.Register(".csv", FormatCSV, true, ExtractorFunc(ExtractCSV))
	return n
}

// Register adds or replaces the strategy for ext. The extension is matched
// case-insensitively and may be given with or without the leading dot.
func (n *Normalizer) Register(ext string, format DocumentFormat, structured bool, extractor Extractor) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.strategies[ext] = strategy{format: format, structured: structured, extractor: extractor}
}

// Supported lists the registered extensions in sorted order.
func (n *Normalizer) Supported() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	exts := make([]string, 0, len(n.strategies))
	for ext := range n.strategies {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Normalize extracts the non-blank text records of the file at path. Records
// come back in file order: pages for PDFs, rows for tabular formats.
func (n *Normalizer) Normalize(ctx context.Context, path string) ([]Document, error) {
	ext := Extension(path)

	n.mu.RLock()
	s, ok := n.strategies[ext]
	n.mu.RUnlock()
	if !ok {
		return nil, &UnsupportedFormatError{Ext: ext}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrReadFailure, path)
	}

	records, err := safeExtract(ctx, s.extractor, path)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}

	docs := make([]Document, 0, len(records))
	for _, record := range records {
		if strings.TrimSpace(record) == "" {
			continue
		}
		docs = append(docs, Document{
			SourcePath: path,
			Format:     s.format,
			Text:       record,
			Structured: s.structured,
		})
	}
	if len(docs) == 0 {
		return nil, ErrEmptyExtraction
	}
	return docs, nil
}

// Parser libraries panic on some malformed inputs.
func safeExtract(ctx context.Context, extractor Extractor, path string) (records []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			records = nil
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()
	return extractor.Extract(ctx, path)
}
