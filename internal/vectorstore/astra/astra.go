package astra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ragqa/internal/domain"
	"ragqa/internal/vectorstore"
)

// Config points the store at an Astra DB Data API endpoint.
type Config struct {
	Endpoint   string        `yaml:"endpoint"`
	Token      string        `yaml:"token"`
	Keyspace   string        `yaml:"keyspace"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Store talks to a vector-enabled Astra DB collection whose embedding
// provider computes vectors server-side from $vectorize.
type Store struct {
	base       string
	token      string
	collection string
	policy     vectorstore.DuplicatePolicy
	client     *http.Client
	log        zerolog.Logger
}

var (
	_ domain.VectorStore      = (*Store)(nil)
	_ domain.CollectionLister = (*Store)(nil)
	_ domain.DocumentDeleter  = (*Store)(nil)
)

// maxBatch is the Data API limit on documents per insertMany and on
// values per $in filter.
const maxBatch = 100

// New creates a Data API client. Endpoint and Token are required.
func New(cfg Config, policy vectorstore.DuplicatePolicy, log zerolog.Logger) (*Store, error) {
	if cfg.Endpoint == "" || cfg.Token == "" {
		return nil, fmt.Errorf("%w: astra endpoint and token are required", domain.ErrInvalidConfiguration)
	}
	if cfg.Keyspace == "" {
		cfg.Keyspace = "default_keyspace"
	}
	if cfg.Collection == "" {
		cfg.Collection = "chunks"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if policy == "" {
		policy = vectorstore.PolicyOverwrite
	}
	return &Store{
		base:       fmt.Sprintf("%s/api/json/v1/%s", strings.TrimRight(cfg.Endpoint, "/"), cfg.Keyspace),
		token:      cfg.Token,
		collection: cfg.Collection,
		policy:     policy,
		client:     &http.Client{Timeout: cfg.Timeout},
		log:        log.With().Str("component", "vectorstore").Str("index", "astra").Logger(),
	}, nil
}

type apiError struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

type response struct {
	Status struct {
		Collections  []string `json:"collections"`
		InsertedIDs  []any    `json:"insertedIds"`
		DeletedCount int      `json:"deletedCount"`
		MoreData     bool     `json:"moreData"`
	} `json:"status"`
	Data struct {
		Documents []document `json:"documents"`
	} `json:"data"`
	Errors []apiError `json:"errors"`
}

type document struct {
	ID            string   `json:"_id"`
	Text          string   `json:"text"`
	DocumentID    string   `json:"document_id"`
	SourceName    string   `json:"source_name"`
	SequenceIndex int      `json:"sequence_index"`
	Vectorize     string   `json:"$vectorize,omitempty"`
	Similarity    *float64 `json:"$similarity,omitempty"`
}

func toDocument(c domain.Chunk) document {
	return document{
		ID:            c.ID,
		Text:          c.Text,
		DocumentID:    c.DocumentID,
		SourceName:    c.SourceName,
		SequenceIndex: c.SequenceIndex,
		Vectorize:     c.Text,
	}
}

// Upsert writes chunks. Under the reject policy an id already stored fails the
// batch with domain.ErrDuplicateID.
func (s *Store) Upsert(ctx context.Context, chunks []domain.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	seen := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		if _, dup := seen[c.ID]; dup {
			return 0, fmt.Errorf("%w: %s repeated within batch", domain.ErrDuplicateID, c.ID)
		}
		seen[c.ID] = struct{}{}
	}

	if s.policy == vectorstore.PolicyReject {
		existing, err := s.existing(ctx, chunks)
		if err != nil {
			return 0, err
		}
		if len(existing) > 0 {
			return 0, fmt.Errorf("%w: %s", domain.ErrDuplicateID, strings.Join(existing, ", "))
		}
		inserted := 0
		for start := 0; start < len(chunks); start += maxBatch {
			batch := chunks[start:min(start+maxBatch, len(chunks))]
			docs := make([]document, len(batch))
			for i, c := range batch {
				docs[i] = toDocument(c)
			}
			cmd := map[string]any{"insertMany": map[string]any{
				"documents": docs,
				"options":   map[string]any{"ordered": true},
			}}
			resp, err := s.command(ctx, s.collection, cmd)
			if err != nil {
				return inserted, err
			}
			inserted += len(resp.Status.InsertedIDs)
		}
		s.log.Debug().Int("chunks", inserted).Msg("inserted chunks")
		return inserted, nil
	}

	for i, c := range chunks {
		cmd := map[string]any{"findOneAndReplace": map[string]any{
			"filter":      map[string]any{"_id": c.ID},
			"replacement": toDocument(c),
			"options":     map[string]any{"upsert": true},
		}}
		if _, err := s.command(ctx, s.collection, cmd); err != nil {
			return i, err
		}
	}
	s.log.Debug().Int("chunks", len(chunks)).Msg("upserted chunks")
	return len(chunks), nil
}

func (s *Store) existing(ctx context.Context, chunks []domain.Chunk) ([]string, error) {
	var out []string
	for start := 0; start < len(chunks); start += maxBatch {
		batch := chunks[start:min(start+maxBatch, len(chunks))]
		ids := make([]string, len(batch))
		for i, c := range batch {
			ids[i] = c.ID
		}
		cmd := map[string]any{"find": map[string]any{
			"filter":     map[string]any{"_id": map[string]any{"$in": ids}},
			"projection": map[string]any{"_id": 1},
			"options":    map[string]any{"limit": len(ids)},
		}}
		resp, err := s.command(ctx, s.collection, cmd)
		if err != nil {
			return nil, err
		}
		for _, d := range resp.Data.Documents {
			out = append(out, d.ID)
		}
	}
	return out, nil
}

// DeleteDocument removes the chunks of documentID. deleteMany reports
// moreData when it stopped early, so it is repeated until done.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	cmd := map[string]any{"deleteMany": map[string]any{
		"filter": map[string]any{"document_id": documentID},
	}}
	deleted := 0
	for {
		resp, err := s.command(ctx, s.collection, cmd)
		if err != nil {
			return err
		}
		deleted += resp.Status.DeletedCount
		if !resp.Status.MoreData {
			break
		}
	}
	s.log.Debug().Str("document_id", documentID).Int("chunks", deleted).Msg("deleted document")
	return nil
}

// Query runs a $vectorize similarity search.
func (s *Store) Query(ctx context.Context, text string, limit int, threshold *float64) ([]domain.RetrievedUnit, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	cmd := map[string]any{"find": map[string]any{
		"sort":       map[string]any{"$vectorize": text},
		"projection": map[string]any{"$vector": 0},
		"options":    map[string]any{"limit": limit, "includeSimilarity": true},
	}}
	resp, err := s.command(ctx, s.collection, cmd)
	if err != nil {
		return nil, err
	}
	units := make([]domain.RetrievedUnit, 0, len(resp.Data.Documents))
	for _, d := range resp.Data.Documents {
		score := 0.0
		if d.Similarity != nil {
			score = *d.Similarity
		}
		if threshold != nil && !(score >= *threshold) {
			continue
		}
		units = append(units, domain.RetrievedUnit{
			ChunkText:       d.Text,
			SimilarityScore: score,
			Source: domain.SourceMetadata{
				ChunkID:       d.ID,
				DocumentID:    d.DocumentID,
				SourceName:    d.SourceName,
				SequenceIndex: d.SequenceIndex,
			},
		})
	}
	return units, nil
}

// Collections lists the collections in the keyspace.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	resp, err := s.command(ctx, "", map[string]any{"findCollections": map[string]any{}})
	if err != nil {
		return nil, err
	}
	return resp.Status.Collections, nil
}

func (s *Store) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Store) command(ctx context.Context, collection string, cmd any) (*response, error) {
	url := s.base
	if collection != "" {
		url += "/" + collection
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Token", s.token)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("astra: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("astra: decode response: %w", err)
	}
	if len(out.Errors) > 0 {
		return &out, commandError(out.Errors)
	}
	return &out, nil
}

func commandError(errs []apiError) error {
	msgs := make([]string, 0, len(errs))
	duplicate := false
	for _, e := range errs {
		if e.ErrorCode == "DOCUMENT_ALREADY_EXISTS" {
			duplicate = true
		}
		msgs = append(msgs, e.ErrorCode+": "+e.Message)
	}
	err := errors.New("astra: " + strings.Join(msgs, "; "))
	if duplicate {
		return fmt.Errorf("%w: %w", domain.ErrDuplicateID, err)
	}
	return err
}
