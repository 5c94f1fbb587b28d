package ingestion

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrReadFailure       = errors.New("read failure")
	ErrEmptyExtraction   = errors.New("empty extraction")
)

// UnsupportedFormatError carries the extension that has no registered extractor.
type UnsupportedFormatError struct {
	Ext string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Ext == "" {
		return "unsupported file type: (no extension)"
	}
	return fmt.Sprintf("unsupported file type: %s", e.Ext)
}

func (e *UnsupportedFormatError) Unwrap() error {
	return ErrUnsupportedFormat
}
