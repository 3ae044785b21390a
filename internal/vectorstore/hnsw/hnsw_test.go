package hnsw

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragqa/internal/domain"
	"ragqa/internal/embedding"
	"ragqa/internal/vectorstore"
)

func rec(id string, vec ...float32) vectorstore.Record {
	return vectorstore.Record{Chunk: domain.Chunk{ID: id, Text: "text " + id}, Vector: vec}
}

func openInit(t *testing.T, cfg Config) *Index {
	t.Helper()
	idx, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, idx.Init(context.Background(), 3))
	return idx
}

func TestIndex_SearchOrdersByCosine(t *testing.T) {
	idx := openInit(t, Config{})
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, []vectorstore.Record{
		rec("x", 1, 0, 0),
		rec("y", 0, 1, 0),
		rec("xy", 1, 1, 0),
	}))

	hits, err := idx.Search(ctx, []float32{1, 0.1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "x", hits[0].Chunk.ID)
	assert.Equal(t, "xy", hits[1].Chunk.ID)
	assert.InDelta(t, vectorstore.Cosine([]float32{1, 0.1, 0}, []float32{1, 0, 0}), hits[0].Score, 1e-5)
}

func TestIndex_EmptySearch(t *testing.T) {
	idx := openInit(t, Config{})
	hits, err := idx.Search(context.Background(), []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndex_OverwriteOrphansOldNode(t *testing.T) {
	idx := openInit(t, Config{})
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, []vectorstore.Record{rec("a", 1, 0, 0), rec("b", 0, 0, 1)}))
	require.NoError(t, idx.Upsert(ctx, []vectorstore.Record{rec("a", 0, 1, 0)}))
	assert.Equal(t, 2, idx.Len())

	hits, err := idx.Search(ctx, []float32{0, 1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].Chunk.ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)

	existing, err := idx.Existing(ctx, []string{"a", "z"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, existing)
}

func TestIndex_DimensionMismatch(t *testing.T) {
	idx := openInit(t, Config{})
	err := idx.Upsert(context.Background(), []vectorstore.Record{rec("a", 1, 0)})
	assert.Error(t, err)
	assert.Zero(t, idx.Len())
}

func TestIndex_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.hnsw")
	ctx := context.Background()

	idx := openInit(t, Config{Path: path})
	require.NoError(t, idx.Upsert(ctx, []vectorstore.Record{rec("a", 1, 0, 0), rec("b", 0, 1, 0)}))
	require.NoError(t, idx.Close())

	reopened := openInit(t, Config{Path: path})
	assert.Equal(t, 2, reopened.Len())
	hits, err := reopened.Search(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].Chunk.ID)
	assert.Equal(t, "text b", hits[0].Chunk.Text)
}

func TestIndex_ClosedRejectsWrites(t *testing.T) {
	idx := openInit(t, Config{})
	require.NoError(t, idx.Close())
	assert.Error(t, idx.Upsert(context.Background(), []vectorstore.Record{rec("a", 1, 0, 0)}))
}

func TestIndex_ZeroQueryHasNoHits(t *testing.T) {
	idx := openInit(t, Config{})
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, []vectorstore.Record{rec("a", 1, 0, 0), rec("b", 0, 1, 0)}))

	hits, err := idx.Search(ctx, []float32{0, 0, 0}, 2)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndex_ZeroVectorScoresZero(t *testing.T) {
	idx := openInit(t, Config{})
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, []vectorstore.Record{rec("a", 1, 0, 0), rec("empty", 0, 0, 0)}))

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	for _, h := range hits {
		assert.False(t, math.IsNaN(h.Score), "hit %s", h.Chunk.ID)
	}
}

func TestStore_StopwordQueryReturnsNothing(t *testing.T) {
	idx, err := Open(Config{})
	require.NoError(t, err)
	s := vectorstore.NewStore(embedding.NewHashEmbedder(64), idx, vectorstore.PolicyOverwrite, zerolog.Nop())
	ctx := context.Background()

	texts := []string{"The quick ", "brown fox ", "jumps over", " the lazy ", "dog."}
	batch := make([]domain.Chunk, len(texts))
	for i, text := range texts {
		batch[i] = domain.Chunk{ID: string(rune('a' + i)), DocumentID: "fox", Text: text, SequenceIndex: i, SourceName: "fox.txt"}
	}
	_, err = s.Upsert(ctx, batch)
	require.NoError(t, err)

	threshold := 0.7
	units, err := s.Query(ctx, "the", 3, &threshold)
	require.NoError(t, err)
	assert.Empty(t, units)

	units, err = s.Query(ctx, "the", 3, nil)
	require.NoError(t, err)
	_, err = json.Marshal(units)
	assert.NoError(t, err)
}

func TestIndex_DeleteDocument(t *testing.T) {
	idx := openInit(t, Config{})
	ctx := context.Background()
	keep := rec("c", 0, 0, 1)
	keep.Chunk.DocumentID = "keep"
	drop := []vectorstore.Record{rec("a", 1, 0, 0), rec("b", 0, 1, 0)}
	for i := range drop {
		drop[i].Chunk.DocumentID = "drop"
	}
	require.NoError(t, idx.Upsert(ctx, append(drop, keep)))

	require.NoError(t, idx.DeleteDocument(ctx, "drop"))
	assert.Equal(t, 1, idx.Len())
	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c", hits[0].Chunk.ID)

	// a deleted id can be written again
	require.NoError(t, idx.Upsert(ctx, []vectorstore.Record{rec("a", 1, 0, 0)}))
	assert.Equal(t, 2, idx.Len())
}
