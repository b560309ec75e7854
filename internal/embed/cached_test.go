package embed_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vector-index-mcp/vector-index-mcp/internal/embed"
)

// countingEmbedder wraps an Embedder and counts calls, so tests can assert
// the cache actually avoided recomputation.
type countingEmbedder struct {
	embed.Embedder
	calls atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.Embedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(int64(len(texts)))
	return c.Embedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedderAvoidsRecomputationOnHit(t *testing.T) {
	inner := &countingEmbedder{Embedder: embed.NewStaticEmbedder(16)}
	cached := embed.NewCachedEmbedderWithDefaults(inner)
	ctx := context.Background()

	v1, err := cached.Embed(ctx, "alpha")
	require.NoError(t, err)
	v2, err := cached.Embed(ctx, "alpha")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestCachedEmbedderBatchOnlyComputesUncached(t *testing.T) {
	inner := &countingEmbedder{Embedder: embed.NewStaticEmbedder(16)}
	cached := embed.NewCachedEmbedderWithDefaults(inner)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "alpha")
	require.NoError(t, err)

	results, err := cached.EmbedBatch(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.EqualValues(t, 2, inner.calls.Load()) // one for "alpha" Embed, one for "beta" batch miss
}

func TestCachedEmbedderPassesThroughMetadata(t *testing.T) {
	inner := embed.NewStaticEmbedder(24)
	cached := embed.NewCachedEmbedderWithDefaults(inner)

	assert.Equal(t, inner.Dimensions(), cached.Dimensions())
	assert.Equal(t, inner.ModelName(), cached.ModelName())
	assert.Same(t, inner, cached.Inner())
}
