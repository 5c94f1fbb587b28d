// Package ingestion normalizes uploaded files into text documents, splits them
// into overlapping chunks and hands them to the index builder.
package ingestion

import (
	"path/filepath"
	"strings"
)

// DocumentFormat enumerates supported document payload formats.
type DocumentFormat string

const (
	// FormatUnknown represents an unsupported or undetected format.
	FormatUnknown DocumentFormat = ""
	// FormatText represents plain UTF-8 text.
	FormatText DocumentFormat = "text"
	// FormatMarkdown represents Markdown documents, read as plain text.
	FormatMarkdown DocumentFormat = "markdown"
	// FormatPDF represents PDF documents.
	FormatPDF DocumentFormat = "pdf"
	// FormatDOCX represents Office Open XML word-processor documents.
	FormatDOCX DocumentFormat = "docx"
	// FormatXLSX represents Office Open XML spreadsheets.
	FormatXLSX DocumentFormat = "xlsx"
	// FormatXLS represents legacy BIFF spreadsheets.
	FormatXLS DocumentFormat = "xls"
	// FormatCSV represents comma separated values documents.
	FormatCSV DocumentFormat = "csv"
)

// Document is one plain-text record extracted from a source file. Structured
// documents (spreadsheet and CSV rows) are already atomic and are indexed
// without further splitting.
type Document struct {
	SourcePath string
	Format     DocumentFormat
	Text       string
	Structured bool
}

// Extension returns the lower-cased extension of path including the dot.
func Extension(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
