package vectorstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragqa/internal/domain"
	"ragqa/internal/embedding"
	"ragqa/internal/vectorstore"
	"ragqa/internal/vectorstore/memory"
)

func newStore(t *testing.T, policy vectorstore.DuplicatePolicy) (*vectorstore.Store, *memory.Storage) {
	t.Helper()
	idx := memory.NewStorage()
	return vectorstore.NewStore(embedding.NewHashEmbedder(128), idx, policy, zerolog.Nop()), idx
}

func chunks(ids ...string) []domain.Chunk {
	texts := map[string]string{
		"a": "foxes are quick brown animals",
		"b": "dogs are lazy and sleep all day",
		"c": "databases store vectors for retrieval",
	}
	out := make([]domain.Chunk, 0, len(ids))
	for i, id := range ids {
		out = append(out, domain.Chunk{ID: id, DocumentID: "doc", Text: texts[id], SequenceIndex: i, SourceName: "s.txt"})
	}
	return out
}

func TestStore_UpsertAndQuery(t *testing.T) {
	s, idx := newStore(t, vectorstore.PolicyOverwrite)
	ctx := context.Background()

	n, err := s.Upsert(ctx, chunks("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, idx.Len())

	units, err := s.Query(ctx, "quick brown foxes", 2, nil)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "a", units[0].Source.ChunkID)
	assert.Equal(t, "s.txt", units[0].Source.SourceName)
	assert.GreaterOrEqual(t, units[0].SimilarityScore, units[1].SimilarityScore)
}

func TestStore_QueryAppliesThreshold(t *testing.T) {
	s, _ := newStore(t, vectorstore.PolicyOverwrite)
	ctx := context.Background()
	_, err := s.Upsert(ctx, chunks("a", "b", "c"))
	require.NoError(t, err)

	threshold := 0.5
	units, err := s.Query(ctx, "quick brown foxes", 3, &threshold)
	require.NoError(t, err)
	for _, u := range units {
		assert.GreaterOrEqual(t, u.SimilarityScore, threshold)
	}

	high := 1.01
	units, err = s.Query(ctx, "quick brown foxes", 3, &high)
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestStore_EmptyStoreQuery(t *testing.T) {
	s, _ := newStore(t, vectorstore.PolicyOverwrite)
	units, err := s.Query(context.Background(), "anything", 3, nil)
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestStore_OverwritePolicy(t *testing.T) {
	s, idx := newStore(t, vectorstore.PolicyOverwrite)
	ctx := context.Background()

	_, err := s.Upsert(ctx, chunks("a"))
	require.NoError(t, err)
	replacement := chunks("a")
	replacement[0].Text = "entirely new text"
	n, err := s.Upsert(ctx, replacement)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, idx.Len())

	units, err := s.Query(ctx, "entirely new text", 1, nil)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "entirely new text", units[0].ChunkText)
}

func TestStore_RejectPolicy(t *testing.T) {
	s, idx := newStore(t, vectorstore.PolicyReject)
	ctx := context.Background()

	_, err := s.Upsert(ctx, chunks("a"))
	require.NoError(t, err)

	n, err := s.Upsert(ctx, chunks("b", "a"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
	assert.Zero(t, n)
	assert.Equal(t, 1, idx.Len(), "rejected batch writes nothing")
}

func TestStore_DuplicateWithinBatch(t *testing.T) {
	s, _ := newStore(t, vectorstore.PolicyOverwrite)
	_, err := s.Upsert(context.Background(), chunks("a", "a"))
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
}

func TestStore_EmptyBatch(t *testing.T) {
	s, idx := newStore(t, vectorstore.PolicyReject)
	n, err := s.Upsert(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, idx.Len())
}

type failingEmbedder struct{ err error }

func (f failingEmbedder) Name() string   { return "failing" }
func (f failingEmbedder) Dimension() int { return 0 }
func (f failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, f.err
}

func TestStore_EmbedderFailure(t *testing.T) {
	boom := errors.New("boom")
	s := vectorstore.NewStore(failingEmbedder{err: boom}, memory.NewStorage(), "", zerolog.Nop())

	_, err := s.Upsert(context.Background(), chunks("a"))
	assert.ErrorIs(t, err, boom)
	_, err = s.Query(context.Background(), "q", 1, nil)
	assert.ErrorIs(t, err, boom)
}

func TestStore_DeleteDocument(t *testing.T) {
	s, idx := newStore(t, vectorstore.PolicyReject)
	ctx := context.Background()
	_, err := s.Upsert(ctx, chunks("a", "b"))
	require.NoError(t, err)
	other := chunks("c")
	other[0].DocumentID = "other"
	_, err = s.Upsert(ctx, other)
	require.NoError(t, err)

	require.NoError(t, s.DeleteDocument(ctx, "doc"))
	assert.Equal(t, 1, idx.Len())
	units, err := s.Query(ctx, "quick brown foxes", 3, nil)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "c", units[0].Source.ChunkID)

	_, err = s.Upsert(ctx, chunks("a"))
	assert.NoError(t, err, "deleted ids no longer count as duplicates")
}

func TestParseDuplicatePolicy(t *testing.T) {
	p, err := vectorstore.ParseDuplicatePolicy("")
	require.NoError(t, err)
	assert.Equal(t, vectorstore.PolicyOverwrite, p)

	p, err = vectorstore.ParseDuplicatePolicy(" Reject ")
	require.NoError(t, err)
	assert.Equal(t, vectorstore.PolicyReject, p)

	_, err = vectorstore.ParseDuplicatePolicy("version")
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, vectorstore.Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, vectorstore.Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, vectorstore.Cosine([]float32{0, 0}, []float32{1, 1}))
}
