package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"ragqa/internal/domain"
	"ragqa/internal/embedding"
)

// DuplicatePolicy decides what Upsert does with a chunk id that is already stored.
type DuplicatePolicy string

const (
	// PolicyOverwrite replaces the stored chunk.
	PolicyOverwrite DuplicatePolicy = "overwrite"
	// PolicyReject fails the whole batch with domain.ErrDuplicateID before writing anything.
	PolicyReject DuplicatePolicy = "reject"
)

// ParseDuplicatePolicy maps a config value to a policy. Empty selects overwrite.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyOverwrite:
		return PolicyOverwrite, nil
	case PolicyReject:
		return PolicyReject, nil
	default:
		return "", fmt.Errorf("%w: unknown duplicate policy %q", domain.ErrInvalidConfiguration, s)
	}
}

// Store adapts an Embedder and an Index to domain.VectorStore: it embeds chunk
// text on upsert and query text on query, so callers never handle vectors.
type Store struct {
	embedder embedding.Embedder
	index    Index
	policy   DuplicatePolicy
	log      zerolog.Logger

	mu        sync.Mutex
	dimension int
}

var (
	_ domain.VectorStore      = (*Store)(nil)
	_ domain.CollectionLister = (*Store)(nil)
	_ domain.DocumentDeleter  = (*Store)(nil)
)

// NewStore creates a store over index using embedder for all vectors.
func NewStore(embedder embedding.Embedder, index Index, policy DuplicatePolicy, log zerolog.Logger) *Store {
	if policy == "" {
		policy = PolicyOverwrite
	}
	return &Store{
		embedder: embedder,
		index:    index,
		policy:   policy,
		log:      log.With().Str("component", "vectorstore").Str("index", index.Name()).Logger(),
	}
}

// Upsert embeds and persists chunks, returning the number written.
func (s *Store) Upsert(ctx context.Context, chunks []domain.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	ids := make([]string, len(chunks))
	seen := make(map[string]struct{}, len(chunks))
	for i, c := range chunks {
		if _, dup := seen[c.ID]; dup {
			return 0, fmt.Errorf("%w: %s repeated within batch", domain.ErrDuplicateID, c.ID)
		}
		seen[c.ID] = struct{}{}
		ids[i] = c.ID
	}

	if s.policy == PolicyReject {
		existing, err := s.index.Existing(ctx, ids)
		if err != nil {
			return 0, fmt.Errorf("check existing ids: %w", err)
		}
		if len(existing) > 0 {
			return 0, fmt.Errorf("%w: %s", domain.ErrDuplicateID, strings.Join(existing, ", "))
		}
	}

	records := make([]Record, len(chunks))
	for i, c := range chunks {
		vec, err := s.embedder.Embed(ctx, c.Text)
		if err != nil {
			return 0, fmt.Errorf("embed chunk %s: %w", c.ID, err)
		}
		records[i] = Record{Chunk: c, Vector: vec}
	}
	if err := s.ensureInit(ctx, len(records[0].Vector)); err != nil {
		return 0, err
	}
	if err := s.index.Upsert(ctx, records); err != nil {
		return 0, fmt.Errorf("upsert: %w", err)
	}
	s.log.Debug().Int("chunks", len(records)).Msg("upserted chunks")
	return len(records), nil
}

// Query embeds text and returns at most limit units ordered by descending
// similarity. Units scoring below threshold are dropped.
func (s *Store) Query(ctx context.Context, text string, limit int, threshold *float64) ([]domain.RetrievedUnit, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if err := s.ensureInit(ctx, len(vec)); err != nil {
		return nil, err
	}
	hits, err := s.index.Search(ctx, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	units := make([]domain.RetrievedUnit, 0, len(hits))
	for _, h := range hits {
		if threshold != nil && !(h.Score >= *threshold) {
			continue
		}
		units = append(units, domain.RetrievedUnit{
			ChunkText:       h.Chunk.Text,
			SimilarityScore: h.Score,
			Source: domain.SourceMetadata{
				ChunkID:       h.Chunk.ID,
				DocumentID:    h.Chunk.DocumentID,
				SourceName:    h.Chunk.SourceName,
				SequenceIndex: h.Chunk.SequenceIndex,
			},
		})
	}
	return units, nil
}

// DeleteDocument removes every chunk stored for documentID.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	if err := s.index.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete document %s: %w", documentID, err)
	}
	return nil
}

// Collections returns the name of the backing index.
func (s *Store) Collections(context.Context) ([]string, error) {
	return []string{s.index.Name()}, nil
}

// Close releases the index.
func (s *Store) Close() error {
	return s.index.Close()
}

func (s *Store) ensureInit(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("embedder returned an empty vector")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == dimension {
		return nil
	}
	if s.dimension != 0 {
		return fmt.Errorf("vector dimension changed from %d to %d", s.dimension, dimension)
	}
	if err := s.index.Init(ctx, dimension); err != nil {
		return fmt.Errorf("init index: %w", err)
	}
	s.dimension = dimension
	return nil
}
