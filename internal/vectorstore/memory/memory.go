package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"ragqa/internal/vectorstore"
)

// Storage is a simple in-memory vector index using brute-force cosine similarity.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	records   []vectorstore.Record
	byID      map[string]int
}

var _ vectorstore.Index = (*Storage)(nil)

// NewStorage creates an empty in-memory index.
func NewStorage() *Storage { return &Storage{byID: make(map[string]int)} }

// Name returns the index name.
func (s *Storage) Name() string { return "memory" }

// Init sets the vector dimension. Records already stored are kept.
func (s *Storage) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimension = dimension
	return nil
}

// Upsert stores records, replacing any with the same chunk id.
func (s *Storage) Upsert(_ context.Context, records []vectorstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if len(r.Vector) != s.dimension {
			return errors.New("vector dimension mismatch")
		}
	}
	for _, r := range records {
		if i, ok := s.byID[r.Chunk.ID]; ok {
			s.records[i] = r
			continue
		}
		s.byID[r.Chunk.ID] = len(s.records)
		s.records = append(s.records, r)
	}
	return nil
}

// Search returns the topK records most similar to vector.
func (s *Storage) Search(ctx context.Context, vector []float32, topK int) ([]vectorstore.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if topK <= 0 {
		topK = 5
	}
	hits := make([]vectorstore.Hit, len(s.records))
	for i, r := range s.records {
		hits[i] = vectorstore.Hit{Chunk: r.Chunk, Score: vectorstore.Cosine(r.Vector, vector)}
	}
	// stable so equal scores keep insertion order
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > len(hits) {
		topK = len(hits)
	}
	return hits[:topK], nil
}

// Existing returns the ids that are already stored.
func (s *Storage) Existing(_ context.Context, ids []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, id := range ids {
		if _, ok := s.byID[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// DeleteDocument drops the records of documentID and reindexes the rest.
func (s *Storage) DeleteDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	for _, r := range s.records {
		if r.Chunk.DocumentID != documentID {
			kept = append(kept, r)
		}
	}
	clear(s.records[len(kept):])
	s.records = kept
	s.byID = make(map[string]int, len(kept))
	for i, r := range kept {
		s.byID[r.Chunk.ID] = i
	}
	return nil
}

// Len returns the number of stored records.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close drops all records.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.byID = make(map[string]int)
	return nil
}
