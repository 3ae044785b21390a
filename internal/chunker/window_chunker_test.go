package chunker

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragqa/internal/domain"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a b c", Normalize("  a \t\n b\r\n\n   c  "))
	assert.Equal(t, "", Normalize(" \n\t "))
}

func TestSplit_ReconstructsNormalizedText(t *testing.T) {
	texts := []string{
		"short",
		strings.Repeat("lorem ipsum dolor sit amet,\n\tconsectetur adipiscing elit. ", 40),
		strings.Repeat("x", 500),
		strings.Repeat("y", 1001),
		"héllo wörld ñ ünïcode   text\n" + strings.Repeat("ß", 777),
	}
	for _, text := range texts {
		chunks, err := Split(text, "doc.txt", 500, 0)
		require.NoError(t, err)

		var b strings.Builder
		for _, c := range chunks {
			b.WriteString(c.Text)
		}
		assert.Equal(t, Normalize(text), b.String())
	}
}

func TestSplit_WindowBoundsAndStride(t *testing.T) {
	text := strings.Repeat("abcdefghij ", 97)
	normalized := []rune(Normalize(text))

	cases := []Options{
		{ChunkSize: 1, Overlap: 0},
		{ChunkSize: 10, Overlap: 0},
		{ChunkSize: 10, Overlap: 3},
		{ChunkSize: 64, Overlap: 63},
		{ChunkSize: 500, Overlap: 100},
	}
	for _, opts := range cases {
		chunks, err := Split(text, "src", opts.ChunkSize, opts.Overlap)
		require.NoError(t, err)
		require.NotEmpty(t, chunks)

		step := opts.ChunkSize - opts.Overlap
		for i, c := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), opts.ChunkSize)
			assert.Equal(t, i, c.SequenceIndex)
			start := i * step
			assert.Equal(t, string(normalized[start:start+utf8.RuneCountInString(c.Text)]), c.Text,
				"chunk %d must start at offset %d", i, start)
		}
		last := chunks[len(chunks)-1]
		assert.True(t, strings.HasSuffix(string(normalized), last.Text))
	}
}

func TestSplit_StopsAtFirstWindowReachingEnd(t *testing.T) {
	chunks, err := Split("abcdefghij", "src", 6, 3)
	require.NoError(t, err)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	// a start at offset 9 would only repeat "j"
	assert.Equal(t, []string{"abcdef", "defghi", "ghij"}, texts)
}

func TestSplit_EmptyInput(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t\r\n"} {
		chunks, err := Split(text, "empty.txt", 10, 0)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	}
}

func TestSplit_InvalidConfiguration(t *testing.T) {
	cases := []Options{
		{ChunkSize: 10, Overlap: 10},
		{ChunkSize: 10, Overlap: 11},
		{ChunkSize: 0, Overlap: 0},
		{ChunkSize: 10, Overlap: -1},
	}
	for _, opts := range cases {
		_, err := Split("some text", "src", opts.ChunkSize, opts.Overlap)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

		_, err = NewWindowChunker(opts)
		assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	}
}

func TestWindowChunker_QuickBrownFox(t *testing.T) {
	c, err := NewWindowChunker(Options{ChunkSize: 10, Overlap: 0})
	require.NoError(t, err)

	chunks, err := c.Chunk(domain.Document{
		ID:         "doc-1",
		RawText:    "The quick brown fox jumps over the lazy dog",
		SourceName: "fox.txt",
	})
	require.NoError(t, err)
	require.Len(t, chunks, 5)

	want := []string{"The quick ", "brown fox ", "jumps over", " the lazy ", "dog"}
	for i, c := range chunks {
		assert.Equal(t, want[i], c.Text)
		assert.Equal(t, i, c.SequenceIndex)
		assert.Equal(t, "doc-1", c.DocumentID)
		assert.Equal(t, "fox.txt", c.SourceName)
		assert.LessOrEqual(t, len(c.Text), 10)
	}
}

func TestWindowChunker_IDsUniqueAcrossIngestions(t *testing.T) {
	c, err := NewWindowChunker(Options{ChunkSize: 4, Overlap: 1})
	require.NoError(t, err)

	tick := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time {
		tick = tick.Add(time.Nanosecond)
		return tick
	}

	doc := domain.Document{ID: "d", RawText: "the same source twice", SourceName: "same.txt"}
	first, err := c.Chunk(doc)
	require.NoError(t, err)
	second, err := c.Chunk(doc)
	require.NoError(t, err)

	seen := map[string]struct{}{}
	for _, ch := range append(first, second...) {
		_, dup := seen[ch.ID]
		assert.False(t, dup, "duplicate id %s", ch.ID)
		seen[ch.ID] = struct{}{}
		assert.True(t, strings.HasPrefix(ch.ID, "same.txt:"))
	}
}
