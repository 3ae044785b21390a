package synthesizer

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"ragqa/internal/domain"
)

// NoMatchText is returned, ungrounded, when there is no context to answer from.
const NoMatchText = "No matches found."

// SystemPrompt constrains the model to the supplied context.
const SystemPrompt = "You are a question answering assistant. Answer the question using only the " +
	"information in the provided context. If the context does not contain the answer, say that " +
	"you do not know. Do not use any outside knowledge."

// Synthesizer turns an assembled context and a question into an Answer.
type Synthesizer struct {
	model     domain.ChatModel
	maxTokens int
	log       zerolog.Logger
}

// New creates a synthesizer. maxTokens of zero leaves the limit to the model.
func New(model domain.ChatModel, maxTokens int, log zerolog.Logger) *Synthesizer {
	return &Synthesizer{
		model:     model,
		maxTokens: maxTokens,
		log:       log.With().Str("component", "synthesizer").Logger(),
	}
}

// Messages builds the system and user messages for question over the assembled context.
func Messages(question string, assembled domain.AssembledContext) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: SystemPrompt},
		{Role: "user", Content: assembled.Text + "\nQuestion: " + question},
	}
}

// Synthesize answers question from the assembled context. An empty context yields the
// ungrounded no-match answer without calling the model.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, assembled domain.AssembledContext) (domain.Answer, error) {
	if assembled.IsEmpty() {
		return domain.Answer{Text: NoMatchText, Grounded: false}, nil
	}
	out, err := s.model.Chat(ctx, Messages(question, assembled), domain.ChatOptions{
		MaxTokens:   s.maxTokens,
		Temperature: 0,
	})
	if err != nil {
		return domain.Answer{}, domain.NewError(domain.StageSynthesis, domain.ErrSynthesisFailed, "model "+s.model.ModelName(), err)
	}
	text := strings.TrimSpace(out)
	if text == "" {
		return domain.Answer{}, domain.NewError(domain.StageSynthesis, domain.ErrSynthesisFailed, "model "+s.model.ModelName(), errors.New("empty completion"))
	}
	s.log.Debug().
		Str("model", s.model.ModelName()).
		Int("units", len(assembled.Units)).
		Int("answer_chars", len(text)).
		Msg("synthesized answer")
	return domain.Answer{Text: text, Grounded: true, SourceUnits: assembled.Units}, nil
}
