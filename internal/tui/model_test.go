package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragqa/internal/domain"
	"ragqa/internal/summarizer"
)

type fakePort struct {
	answer domain.Answer
	err    error
	got    domain.RetrievalQuery
}

func (f *fakePort) Ask(_ context.Context, q domain.RetrievalQuery) (domain.Answer, error) {
	f.got = q
	return f.answer, f.err
}

func submit(t *testing.T, m Model, text string) Model {
	t.Helper()
	m.input.SetValue(text)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	m = next.(Model)
	assert.True(t, m.busy)
	next, _ = m.Update(cmd())
	return next.(Model)
}

func sized(m Model) Model {
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(Model)
}

func TestModel_ShowsGroundedAnswer(t *testing.T) {
	port := &fakePort{answer: domain.Answer{
		Text:     "Foxes are brown.",
		Grounded: true,
		SourceUnits: []domain.RetrievedUnit{
			{ChunkText: "The fox is brown. Dogs sleep.", SimilarityScore: 0.9, Source: domain.SourceMetadata{SourceName: "fox.txt"}},
			{ChunkText: "Another fox.", SimilarityScore: 0.8, Source: domain.SourceMetadata{SourceName: "more.txt", SequenceIndex: 2}},
		},
	}}
	m := sized(New(port, summarizer.NewFrequencySummarizer(), "summary"))
	m = submit(t, m, "  what colour is the fox  ")

	assert.Equal(t, "what colour is the fox", port.got.Text)
	assert.False(t, m.busy)
	assert.Contains(t, m.status, "2 source(s)")
	out := m.render()
	assert.Contains(t, out, "Foxes are brown.")
	assert.Contains(t, out, "Source 1/2")
	assert.Contains(t, out, "fox.txt#0")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Contains(t, m.render(), "more.txt#2")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Contains(t, m.render(), "Source 1/2", "cursor wraps")
}

func TestModel_NoMatch(t *testing.T) {
	port := &fakePort{answer: domain.Answer{Text: "No matches found."}}
	m := submit(t, sized(New(port, nil, "")), "zebra")

	assert.Contains(t, m.status, "No relevant sources")
	assert.Equal(t, "No matches found.", stripANSI(m.render()))
	assert.Zero(t, m.sourceCount())
}

func TestModel_Error(t *testing.T) {
	port := &fakePort{err: errors.New("synthesis: synthesis failed")}
	m := submit(t, sized(New(port, nil, "")), "fox")
	assert.Equal(t, "Error: synthesis: synthesis failed", m.status)
	assert.Equal(t, "No answer yet.", m.render())
}

func TestModel_EmptyInputDoesNothing(t *testing.T) {
	m := sized(New(&fakePort{}, nil, ""))
	m.input.SetValue("   ")
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.False(t, next.(Model).busy)
}

func TestModel_HighlightKeepsText(t *testing.T) {
	m := New(&fakePort{}, summarizer.NewFrequencySummarizer(), "")
	m.lastQuery = "dogs"
	out := stripANSI(m.highlight("The fox is brown. Dogs sleep."))
	assert.Equal(t, "The fox is brown. Dogs sleep.", out)
}

func stripANSI(s string) string {
	var out []rune
	esc := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			esc = true
		case esc && r == 'm':
			esc = false
		case !esc:
			out = append(out, r)
		}
	}
	return string(out)
}
