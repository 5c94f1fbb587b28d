package ingestion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSplitterRejectsInvalidSettings(t *testing.T) {
	cases := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"negative overlap", 10, -1},
		{"overlap equals size", 10, 10},
		{"overlap exceeds size", 10, 20},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSplitter(tc.size, tc.overlap)
			require.Error(t, err)
		})
	}
}

func TestSplitShortTextIsOneChunk(t *testing.T) {
	s, err := NewSplitter(500, 50)
	require.NoError(t, err)

	assert.Equal(t, []string{""}, s.Split(""))
	assert.Equal(t, []string{"short"}, s.Split("short"))

	exact := strings.Repeat("x", 500)
	assert.Equal(t, []string{exact}, s.Split(exact))
}

func TestSplitChunkCount(t *testing.T) {
	cases := []struct{ size, overlap, length int }{
		{500, 50, 501},
		{500, 50, 1200},
		{500, 50, 5000},
		{10, 0, 100},
		{10, 3, 11},
		{10, 9, 25},
		{7, 2, 64},
	}
	for _, tc := range cases {
		s, err := NewSplitter(tc.size, tc.overlap)
		require.NoError(t, err)

		chunks := s.Split(strings.Repeat("a", tc.length))
		step := tc.size - tc.overlap
		want := (tc.length - tc.overlap + step - 1) / step
		assert.Len(t, chunks, want, "size=%d overlap=%d length=%d", tc.size, tc.overlap, tc.length)
	}
}

func TestSplitWindowsOverlapAndCoverText(t *testing.T) {
	s, err := NewSplitter(4, 1)
	require.NoError(t, err)

	chunks := s.Split("abcdefghij")
	assert.Equal(t, []string{"abcd", "defg", "ghij"}, chunks)

	chunks = s.Split("abcdefghijk")
	assert.Equal(t, []string{"abcd", "defg", "ghij", "jk"}, chunks)
}

func TestSplitCountsRunes(t *testing.T) {
	s, err := NewSplitter(3, 1)
	require.NoError(t, err)

	chunks := s.Split("héllö wörld")
	require.NotEmpty(t, chunks)
	assert.Equal(t, "hél", chunks[0])
	assert.Equal(t, "llö", chunks[1])
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), 3)
	}
}

func TestUnitsKeepsStructuredRecordsWhole(t *testing.T) {
	s, err := NewSplitter(5, 0)
	require.NoError(t, err)

	units := Units([]Document{
		{SourcePath: "a.txt", Text: "0123456789"},
		{SourcePath: "b.csv", Text: "name: a long row value", Structured: true},
		{SourcePath: "c.txt", Text: "abcde     "},
	}, s)

	texts := make([]string, 0, len(units))
	for _, unit := range units {
		texts = append(texts, unit.Text)
	}
	assert.Equal(t, []string{"01234", "56789", "name: a long row value", "abcde"}, texts)
	assert.Equal(t, "b.csv", units[2].Source)
}
