package embed

import (
	"context"
	"math"
)

// Batch size bounds accepted by Embedder implementations.
const (
	MinBatchSize     = 1
	MaxBatchSize     = 256
	DefaultBatchSize = 32
)

// DefaultDimensions is the output width of the default model,
// sentence-transformers/all-MiniLM-L6-v2.
const DefaultDimensions = 384

// Embedder turns text into fixed-width vectors. Implementations must be
// safe for concurrent use by multiple goroutines: the indexer's worker pool
// calls Embed/EmbedBatch from several goroutines at once during a full scan.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call. Order
	// of the result matches the order of texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns D, the fixed embedding width this instance produces.
	Dimensions() int

	// ModelName returns the model identifier, persisted alongside the index
	// so a later run can detect a model/dimension mismatch.
	ModelName() string

	// Available reports whether the embedder is ready to serve requests.
	Available(ctx context.Context) bool

	Close() error
}

// normalizeVector returns v scaled to unit length. The zero vector is
// returned unchanged rather than producing NaNs.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
