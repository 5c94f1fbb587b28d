package ingestion

import (
	"fmt"
	"strings"

	"github.com/fabfab/docqa-agent/index"
)

// Splitter cuts text into fixed-size character windows that overlap by a
// fixed amount. Sizes are counted in runes.
type Splitter struct {
	size    int
	overlap int
}

func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("chunk overlap must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", overlap, size)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

func (s *Splitter) Size() int    { return s.size }
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns the windows of text in order. Text no longer than the window
// comes back as a single chunk, even when empty. Every window starts
// size-overlap runes after the previous one and the last window ends at the
// end of the text.
func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	if len(runes) <= s.size {
		return []string{text}
	}

	step := s.size - s.overlap
	chunks := make([]string, 0, (len(runes)-s.overlap+step-1)/step)
	for start := 0; ; start += step {
		end := start + s.size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// Units turns normalized documents into index units. Structured records stay
// whole; everything else goes through the splitter. Blank pieces are dropped.
func Units(docs []Document, splitter *Splitter) []index.Unit {
	units := make([]index.Unit, 0, len(docs))
	for _, doc := range docs {
		pieces := []string{doc.Text}
		if !doc.Structured {
			pieces = splitter.Split(doc.Text)
		}
		for _, piece := range pieces {
			if strings.TrimSpace(piece) == "" {
				continue
			}
			units = append(units, index.Unit{Text: piece, Source: doc.SourcePath})
		}
	}
	return units
}
