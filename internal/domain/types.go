package domain

import "context"

// Document is a raw text submitted for ingestion. The pipeline never mutates it.
type Document struct {
	ID          string `json:"id"`
	RawText     string `json:"text"`
	SourceName  string `json:"source_name"`
	ContentType string `json:"content_type,omitempty"`
}

// Chunk is a bounded-size retrievable unit cut from a Document.
type Chunk struct {
	ID            string `json:"id"`
	DocumentID    string `json:"document_id"`
	Text          string `json:"text"`
	SequenceIndex int    `json:"sequence_index"`
	SourceName    string `json:"source_name"`
}

// RetrievalQuery is a request-scoped similarity query.
// A zero Limit means "use the default"; a nil SimilarityThreshold disables filtering.
type RetrievalQuery struct {
	Text                string   `json:"query"`
	Limit               int      `json:"limit,omitempty"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
}

// SourceMetadata identifies where a retrieved unit came from.
type SourceMetadata struct {
	ChunkID       string `json:"chunk_id,omitempty"`
	DocumentID    string `json:"document_id,omitempty"`
	SourceName    string `json:"source_name,omitempty"`
	SequenceIndex int    `json:"sequence_index"`
}

// RetrievedUnit is a chunk returned by the vector store together with its similarity.
type RetrievedUnit struct {
	ChunkText       string         `json:"chunk_text"`
	SimilarityScore float64        `json:"similarity_score"`
	Source          SourceMetadata `json:"source"`
}

// AssembledContext is the prompt context built from retrieved units.
// The zero value is the empty-context sentinel.
type AssembledContext struct {
	Text  string
	Units []RetrievedUnit
}

// IsEmpty reports whether the context carries no relevant units.
func (c AssembledContext) IsEmpty() bool { return len(c.Units) == 0 }

// Answer is the synthesized response. Grounded is false only for the no-match case.
type Answer struct {
	Text        string          `json:"text"`
	Grounded    bool            `json:"grounded"`
	SourceUnits []RetrievedUnit `json:"source_units"`
}

// ChatMessage is a single message sent to a language model.
type ChatMessage struct {
	// Role is one of "system", "user", or "assistant".
	Role    string
	Content string
}

// ChatOptions configures a completion call. Temperature is always sent, zero included.
type ChatOptions struct {
	MaxTokens   int
	Temperature float64
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// VectorStore persists chunks and answers similarity queries. The store embeds
// text itself; callers never pass vectors.
type VectorStore interface {
	Upsert(ctx context.Context, chunks []Chunk) (int, error)
	Query(ctx context.Context, text string, limit int, threshold *float64) ([]RetrievedUnit, error)
	Close() error
}

// CollectionLister is implemented by stores that can enumerate their collections.
type CollectionLister interface {
	Collections(ctx context.Context) ([]string, error)
}

// DocumentDeleter is implemented by stores that can drop every chunk of a
// document, so a re-ingested document replaces its previous version.
type DocumentDeleter interface {
	DeleteDocument(ctx context.Context, documentID string) error
}

// ChatModel is a single-turn chat completion service.
type ChatModel interface {
	Chat(ctx context.Context, messages []ChatMessage, opts ChatOptions) (string, error)
	ModelName() string
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
