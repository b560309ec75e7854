// Package store provides the persistence layer for the semantic index: a
// SQLite-backed row table for chunk metadata and a pure-Go HNSW graph for
// approximate nearest-neighbor vector search.
package store

import (
	"context"
	"fmt"
)

// Row is one chunk record as described by the index's data model: a single
// unit of extracted, embedded text tied back to the file it came from.
type Row struct {
	DocumentID             string
	FilePath               string // project-relative, forward-slash normalized
	ContentHash            string
	LastModifiedTimestamp  float64 // unix seconds, mtime of the source file at extraction time
	ChunkIndex             uint32
	TotalChunks            uint32
	ExtractedTextChunk     string
	OriginalPath           string
	Vector                 []float32
}

// IndexStateEntry is the per-file summary ScanIndexState returns for
// reconciliation: enough to decide, without reading the file again, whether
// a tracked file's on-disk content still matches what's indexed.
type IndexStateEntry struct {
	ContentHash string
	TotalChunks uint32
}

// SearchResult pairs a stored row with its distance from a query vector.
type SearchResult struct {
	Row
	Distance float32
	Score    float32
}

// ErrDimensionMismatch is returned when a vector's length disagrees with the
// store's configured dimensionality.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// VectorStoreConfig configures the HNSW graph underlying a Store.
type VectorStoreConfig struct {
	Dimensions int
	Metric     string // "cos" or "l2"
	M          int
	EfSearch   int
}

// VectorResult is a single HNSW neighbor hit, keyed by the store's string ID.
type VectorResult struct {
	ID       string
	Distance float32
	Score    float32
}

// VectorStore is the narrow ANN interface the HNSW graph adapter satisfies.
// Kept separate from Store so the graph implementation can be swapped or
// tested independently of the SQLite row table.
type VectorStore interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() []string
	Contains(id string) bool
	Count() int
	Stats() HNSWStats
	Save(path string) error
	Load(path string) error
	Close() error
}

// Store is the vector index adapter the indexer depends on. It owns both
// the scalar chunk rows and the vector graph, and keeps them consistent.
type Store interface {
	// Upsert writes rows, replacing any existing row with the same DocumentID.
	Upsert(ctx context.Context, rows []Row) error

	// DeleteWhereFilePathEq removes every row belonging to path.
	DeleteWhereFilePathEq(ctx context.Context, path string) error

	// DeleteWhereFilePathIn removes every row belonging to any of paths.
	DeleteWhereFilePathIn(ctx context.Context, paths []string) error

	// ScanIndexState returns, for every file_path currently indexed, the
	// content hash and chunk count last recorded for it. Used by
	// reconciliation to find files that changed, were removed, or are new.
	ScanIndexState(ctx context.Context) (map[string]IndexStateEntry, error)

	// LookupFileState returns the single-file equivalent of ScanIndexState,
	// used by index_file so the watcher's per-file path doesn't have to
	// read back the whole table for one hash comparison.
	LookupFileState(ctx context.Context, filePath string) (entry IndexStateEntry, found bool, err error)

	// Search returns the k nearest rows to query by vector distance.
	Search(ctx context.Context, query []float32, k int) ([]SearchResult, error)

	// Count returns the number of rows currently stored.
	Count(ctx context.Context) (int, error)

	// DeleteAll clears every row and vector. Used when the schema or
	// embedding configuration no longer matches what's on disk.
	DeleteAll(ctx context.Context) error

	Close() error
}
