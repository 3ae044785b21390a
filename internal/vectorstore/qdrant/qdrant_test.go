package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragqa/internal/domain"
	"ragqa/internal/vectorstore"
)

// fakeQdrant implements the handful of endpoints the client uses.
type fakeQdrant struct {
	mu      sync.Mutex
	created bool
	points  map[string]map[string]any
	apiKeys []string
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKeys = append(f.apiKeys, r.Header.Get("api-key"))

	route := r.Method + " " + r.URL.Path
	switch route {
	case "GET /collections/docs":
		if !f.created {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"result":{}}`))
	case "PUT /collections/docs":
		f.created = true
		_, _ = w.Write([]byte(`{"result":true}`))
	case "PUT /collections/docs/points":
		var body struct {
			Points []struct {
				ID      string         `json:"id"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, p := range body.Points {
			f.points[p.ID] = p.Payload
		}
		_, _ = w.Write([]byte(`{"result":{"status":"completed"}}`))
	case "POST /collections/docs/points":
		if !f.created {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body struct {
			IDs []string `json:"ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		var result []map[string]any
		for _, id := range body.IDs {
			if p, ok := f.points[id]; ok {
				result = append(result, map[string]any{"id": id, "payload": p})
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": result})
	case "POST /collections/docs/points/search":
		if !f.created {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var result []map[string]any
		for _, p := range f.points {
			result = append(result, map[string]any{"score": 0.8, "payload": p})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": result})
	case "POST /collections/docs/points/delete":
		if !f.created {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body struct {
			Filter struct {
				Must []struct {
					Key   string `json:"key"`
					Match struct {
						Value string `json:"value"`
					} `json:"match"`
				} `json:"must"`
			} `json:"filter"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Filter.Must) != 1 || body.Filter.Must[0].Key != "document_id" {
			http.Error(w, "unexpected filter", http.StatusBadRequest)
			return
		}
		for id, p := range f.points {
			if p["document_id"] == body.Filter.Must[0].Match.Value {
				delete(f.points, id)
			}
		}
		_, _ = w.Write([]byte(`{"result":{"status":"completed"}}`))
	default:
		http.Error(w, route, http.StatusBadRequest)
	}
}

func TestStorage_RoundTrip(t *testing.T) {
	fake := &fakeQdrant{points: map[string]map[string]any{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()
	ctx := context.Background()

	s := NewStorage(Config{URL: srv.URL + "/", APIKey: "secret", Collection: "docs"})
	assert.Equal(t, "docs", s.Name())

	hits, err := s.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err, "missing collection searches as empty")
	assert.Empty(t, hits)

	existing, err := s.Existing(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, existing)

	require.NoError(t, s.Init(ctx, 2))
	assert.True(t, fake.created)
	require.NoError(t, s.Init(ctx, 2), "existing collection is reused")

	chunk := domain.Chunk{ID: "doc.txt:abc:0", DocumentID: "d1", SourceName: "doc.txt", SequenceIndex: 0, Text: "hello"}
	require.NoError(t, s.Upsert(ctx, []vectorstore.Record{{Chunk: chunk, Vector: []float32{1, 0}}}))

	existing, err = s.Existing(ctx, []string{chunk.ID, "other"})
	require.NoError(t, err)
	assert.Equal(t, []string{chunk.ID}, existing)

	hits, err = s.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, chunk, hits[0].Chunk)
	assert.Equal(t, 0.8, hits[0].Score)

	for _, k := range fake.apiKeys {
		assert.Equal(t, "secret", k)
	}
}

func TestStorage_DeleteDocument(t *testing.T) {
	fake := &fakeQdrant{points: map[string]map[string]any{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()
	ctx := context.Background()

	s := NewStorage(Config{URL: srv.URL, Collection: "docs"})
	require.NoError(t, s.DeleteDocument(ctx, "d1"), "missing collection has nothing to delete")

	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Upsert(ctx, []vectorstore.Record{
		{Chunk: domain.Chunk{ID: "a:0", DocumentID: "d1", Text: "one"}, Vector: []float32{1, 0}},
		{Chunk: domain.Chunk{ID: "a:1", DocumentID: "d1", Text: "two"}, Vector: []float32{0, 1}},
		{Chunk: domain.Chunk{ID: "b:0", DocumentID: "d2", Text: "three"}, Vector: []float32{1, 1}},
	}))

	require.NoError(t, s.DeleteDocument(ctx, "d1"))
	existing, err := s.Existing(ctx, []string{"a:0", "a:1", "b:0"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b:0"}, existing)
}

func TestStorage_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewStorage(Config{URL: srv.URL})
	_, err := s.Search(context.Background(), []float32{1}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestPointID(t *testing.T) {
	id := PointID("doc.txt:abc:0")
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, PointID("doc.txt:abc:0"))
	assert.NotEqual(t, id, PointID("doc.txt:abc:1"))
}
