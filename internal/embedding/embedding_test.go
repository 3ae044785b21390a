package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func norm(v []float32) float64 {
	s := 0.0
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestHashEmbedder_DeterministicAndNormalized(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "The quick brown fox")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "the   QUICK brown fox")
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, norm(a), 1e-6)
}

func TestHashEmbedder_StopwordsOnlyIsZero(t *testing.T) {
	e := NewHashEmbedder(0)
	v, err := e.Embed(context.Background(), "the and of")
	require.NoError(t, err)
	assert.Len(t, v, DefaultHashDimension)
	assert.Zero(t, norm(v))
}

func TestHashEmbedder_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHashEmbedder(8).Embed(ctx, "fox")
	assert.ErrorIs(t, err, context.Canceled)
}

type countingEmbedder struct {
	calls int
}

func (c *countingEmbedder) Name() string   { return "counting" }
func (c *countingEmbedder) Dimension() int { return 2 }
func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.calls++
	return []float32{float32(len(text)), 1}, nil
}

func TestCached_ReusesVectors(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCached(inner, 2)
	ctx := context.Background()

	v1, err := c.Embed(ctx, "fox")
	require.NoError(t, err)
	v2, err := c.Embed(ctx, "fox")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, "counting", c.Name())
	assert.Equal(t, 2, c.Dimension())

	_, _ = c.Embed(ctx, "dog")
	_, _ = c.Embed(ctx, "cat")
	assert.Equal(t, 2, c.Len())
	_, _ = c.Embed(ctx, "fox")
	assert.Equal(t, 4, inner.calls, "evicted entry is recomputed")
}
