package synthesizer

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragqa/internal/assembler"
	"ragqa/internal/domain"
)

type fakeModel struct {
	reply string
	err   error

	calls    int
	messages []domain.ChatMessage
	opts     domain.ChatOptions
}

func (f *fakeModel) Chat(_ context.Context, messages []domain.ChatMessage, opts domain.ChatOptions) (string, error) {
	f.calls++
	f.messages, f.opts = messages, opts
	return f.reply, f.err
}

func (f *fakeModel) ModelName() string { return "fake" }

func TestSynthesize_NoContextSkipsModel(t *testing.T) {
	model := &fakeModel{reply: "should not be used"}
	ans, err := New(model, 0, zerolog.Nop()).Synthesize(context.Background(), "q", assembler.Assemble(nil))
	require.NoError(t, err)
	assert.Equal(t, domain.Answer{Text: "No matches found.", Grounded: false}, ans)
	assert.Zero(t, model.calls)
}

func TestSynthesize_Grounded(t *testing.T) {
	units := []domain.RetrievedUnit{{ChunkText: "brown fox ", SimilarityScore: 0.95}}
	model := &fakeModel{reply: "  A brown fox.\n"}
	ans, err := New(model, 128, zerolog.Nop()).Synthesize(context.Background(), "fox", assembler.Assemble(units))
	require.NoError(t, err)

	assert.True(t, ans.Grounded)
	assert.Equal(t, "A brown fox.", ans.Text)
	assert.Equal(t, units, ans.SourceUnits)

	require.Equal(t, 1, model.calls)
	assert.Equal(t, domain.ChatOptions{MaxTokens: 128, Temperature: 0}, model.opts)
	require.Len(t, model.messages, 2)
	assert.Equal(t, "system", model.messages[0].Role)
	assert.Equal(t, SystemPrompt, model.messages[0].Content)
	assert.Equal(t, "user", model.messages[1].Role)
	assert.Equal(t, "Context:\nbrown fox \n\nQuestion: fox", model.messages[1].Content)
}

func TestSynthesize_ModelFailure(t *testing.T) {
	cause := errors.New("rate limited")
	model := &fakeModel{err: cause}
	units := []domain.RetrievedUnit{{ChunkText: "x"}}
	ans, err := New(model, 0, zerolog.Nop()).Synthesize(context.Background(), "q", assembler.Assemble(units))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSynthesisFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, domain.StageSynthesis, domain.StageOf(err))
	assert.Equal(t, domain.Answer{}, ans)
}

func TestSynthesize_EmptyCompletionFails(t *testing.T) {
	model := &fakeModel{reply: " \n"}
	units := []domain.RetrievedUnit{{ChunkText: "x"}}
	_, err := New(model, 0, zerolog.Nop()).Synthesize(context.Background(), "q", assembler.Assemble(units))
	assert.ErrorIs(t, err, domain.ErrSynthesisFailed)
}

func TestMessages_ContextBeforeQuestion(t *testing.T) {
	msgs := Messages("what?", domain.AssembledContext{Text: "Context:\nA\n"})
	assert.Equal(t, "Context:\nA\n\nQuestion: what?", msgs[1].Content)
}
