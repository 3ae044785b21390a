package summarizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentences(t *testing.T) {
	got := Sentences("First one. Second!  Third?  trailing fragment")
	assert.Equal(t, []string{"First one.", "Second!", "Third?", "trailing fragment"}, got)
	assert.Empty(t, Sentences("   "))
}

func TestSummarize_PicksFrequentSentencesInOrder(t *testing.T) {
	text := "Foxes hunt at night. The weather was mild. Foxes are quick and foxes are clever. Bread is baked daily."
	got, err := NewFrequencySummarizer().Summarize(text, 2)
	require.NoError(t, err)
	assert.Equal(t, "Foxes hunt at night. Foxes are quick and foxes are clever.", got)
}

func TestSummarize_FewerSentencesThanRequested(t *testing.T) {
	got, err := NewFrequencySummarizer().Summarize("Only one sentence here.", 5)
	require.NoError(t, err)
	assert.Equal(t, "Only one sentence here.", got)
}

func TestSummarize_DefaultCount(t *testing.T) {
	text := "One fox. Two foxes. Three foxes. Four foxes. Five foxes."
	got, err := NewFrequencySummarizer().Summarize(text, 0)
	require.NoError(t, err)
	assert.Len(t, Sentences(got), DefaultMaxSentences)
}

func TestSummarize_Empty(t *testing.T) {
	got, err := NewFrequencySummarizer().Summarize("", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBestSentence(t *testing.T) {
	s := NewFrequencySummarizer()
	text := "The dog sleeps. The quick brown fox jumps. Nothing else happens."
	assert.Equal(t, "The quick brown fox jumps.", s.BestSentence(text, "where is the fox?"))
	assert.Empty(t, s.BestSentence(text, "the"))
}
