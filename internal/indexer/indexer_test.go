package indexer_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amanerr "github.com/vector-index-mcp/vector-index-mcp/internal/errors"
	"github.com/vector-index-mcp/vector-index-mcp/internal/embed"
	"github.com/vector-index-mcp/vector-index-mcp/internal/indexer"
	"github.com/vector-index-mcp/vector-index-mcp/internal/progress"
	"github.com/vector-index-mcp/vector-index-mcp/internal/status"
	"github.com/vector-index-mcp/vector-index-mcp/internal/store"
)

const testDims = 32

func newIndexer(t *testing.T, root string) (*indexer.Indexer, *status.Registry) {
	t.Helper()
	s, err := store.OpenOrCreate(filepath.Join(t.TempDir(), "idx"), testDims, "static-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	reg := status.New(root)
	reg.MarkIdleInitialScanRequired()

	ix := indexer.New(indexer.Config{
		ProjectRoot:    root,
		IgnorePatterns: []string{"node_modules/*"},
		Store:          s,
		Embedder:       embed.NewStaticEmbedder(testDims),
		Registry:       reg,
		Workers:        4,
	})
	return ix, reg
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestIndexFileThenSearchFindsIt(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n\nfunc Hello() string { return \"hi\" }")

	ix, reg := newIndexer(t, root)
	ctx := context.Background()

	require.NoError(t, ix.IndexFile(ctx, "a.go"))
	reg.FinishScanning(1)

	results, err := ix.Search(ctx, "Hello function", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a.go", results[0].FilePath)
}

func TestIndexFileIsIdempotentOnUnchangedContent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")

	ix, reg := newIndexer(t, root)
	ctx := context.Background()
	reg.FinishScanning(0)

	require.NoError(t, ix.IndexFile(ctx, "a.go"))
	require.NoError(t, ix.IndexFile(ctx, "a.go"))

	results, err := ix.Search(ctx, "package", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1, "re-indexing unchanged content must not duplicate rows")
}

func TestIndexFileReindexesOnContentChange(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")

	ix, reg := newIndexer(t, root)
	ctx := context.Background()
	reg.FinishScanning(0)

	require.NoError(t, ix.IndexFile(ctx, "a.go"))
	writeFile(t, root, "a.go", "package a\n\nfunc Changed() {}")
	require.NoError(t, ix.IndexFile(ctx, "a.go"))

	results, err := ix.Search(ctx, "Changed", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestRemoveFileDeletesAllItsChunks(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n\nfunc Hello() {}")

	ix, reg := newIndexer(t, root)
	ctx := context.Background()
	reg.FinishScanning(0)

	require.NoError(t, ix.IndexFile(ctx, "a.go"))
	require.NoError(t, ix.RemoveFile(ctx, "a.go"))

	results, err := ix.Search(ctx, "Hello", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndexFileOnNewlyIgnoredPathRemovesExistingRows(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.log", "not code, but indexable until the pattern is added")

	s, err := store.OpenOrCreate(filepath.Join(t.TempDir(), "idx"), testDims, "static-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	reg := status.New(root)
	reg.FinishScanning(0)
	ctx := context.Background()

	before := indexer.New(indexer.Config{ProjectRoot: root, Store: s, Embedder: embed.NewStaticEmbedder(testDims), Registry: reg})
	require.NoError(t, before.IndexFile(ctx, "a.log"))
	results, err := before.Search(ctx, "indexable", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	// A new config now excludes *.log; re-indexing the same path must
	// remove the rows instead of leaving them behind.
	after := indexer.New(indexer.Config{
		ProjectRoot:    root,
		IgnorePatterns: []string{"*.log"},
		Store:          s,
		Embedder:       embed.NewStaticEmbedder(testDims),
		Registry:       reg,
	})
	require.NoError(t, after.IndexFile(ctx, "a.log"))

	results, err = after.Search(ctx, "indexable", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFullScanIndexesAllEligibleFilesAndReconciles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.go", "package keep")
	writeFile(t, root, "also.go", "package also")
	writeFile(t, root, "node_modules/pkg/index.js", "module.exports = {}")

	ix, reg := newIndexer(t, root)
	ctx := context.Background()

	require.NoError(t, ix.FullScan(ctx, false))
	assert.Equal(t, status.StateWatching, reg.State())

	results, err := ix.Search(ctx, "package", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestFullScanRemovesRowsForDeletedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")
	writeFile(t, root, "b.go", "package b")

	ix, _ := newIndexer(t, root)
	ctx := context.Background()
	require.NoError(t, ix.FullScan(ctx, false))

	require.NoError(t, os.Remove(filepath.Join(root, "b.go")))
	require.NoError(t, ix.FullScan(ctx, false))

	results, err := ix.Search(ctx, "package", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, "a.go", results[0].FilePath)
}

// countingEmbedder wraps an Embedder and tallies EmbedBatch calls, so a test
// can tell whether a file's content was actually re-embedded versus skipped
// by the unchanged-content shortcut.
type countingEmbedder struct {
	embed.Embedder
	batches atomic.Int64
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.batches.Add(1)
	return e.Embedder.EmbedBatch(ctx, texts)
}

func TestFullScanWithForceReembedsUnchangedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")
	writeFile(t, root, "b.go", "package b")

	s, err := store.OpenOrCreate(filepath.Join(t.TempDir(), "idx"), testDims, "static-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	reg := status.New(root)
	reg.MarkIdleInitialScanRequired()

	ce := &countingEmbedder{Embedder: embed.NewStaticEmbedder(testDims)}
	ix := indexer.New(indexer.Config{ProjectRoot: root, Store: s, Embedder: ce, Registry: reg, Workers: 4})
	ctx := context.Background()

	require.NoError(t, ix.FullScan(ctx, false))
	afterFirst := ce.batches.Load()
	assert.Positive(t, afterFirst, "initial scan must embed the discovered files")

	// Nothing on disk changed, so a plain rescan should skip re-embedding
	// via the content-hash shortcut.
	require.NoError(t, ix.FullScan(ctx, false))
	assert.Equal(t, afterFirst, ce.batches.Load(), "unforced rescan of an unchanged tree must not re-embed")

	// A forced rescan must empty the table and repopulate it from scratch,
	// bypassing the hash shortcut even though nothing changed on disk.
	require.NoError(t, ix.FullScan(ctx, true))
	assert.Greater(t, ce.batches.Load(), afterFirst, "forced rescan of an unchanged tree must still re-embed every file")

	results, err := ix.Search(ctx, "package", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2, "forced rescan must repopulate rows for every eligible file, not leave the table empty")
}

func TestFullScanRejectsReentrantCall(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")

	ix, reg := newIndexer(t, root)
	ctx := context.Background()

	// Simulate a scan already in flight: full_scan must refuse to start a
	// second one rather than interleaving two reconciliation passes.
	require.NoError(t, reg.TryBeginScan())

	err := ix.FullScan(ctx, false)
	require.Error(t, err)
	assert.Equal(t, amanerr.ErrCodeAlreadyScanning, amanerr.GetCode(err))
}

func TestSearchReturnsNotReadyDuringInitializing(t *testing.T) {
	root := t.TempDir()
	s, err := store.OpenOrCreate(filepath.Join(t.TempDir(), "idx"), testDims, "static-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	reg := status.New(root) // still Initializing
	ix := indexer.New(indexer.Config{
		ProjectRoot: root,
		Store:       s,
		Embedder:    embed.NewStaticEmbedder(testDims),
		Registry:    reg,
	})

	_, err = ix.Search(context.Background(), "anything", 5)
	require.Error(t, err)
	assert.Equal(t, amanerr.ErrCodeNotReady, amanerr.GetCode(err))
}

// recordingRenderer is a progress.Renderer fake that records every call it
// receives, for asserting on FullScan's reporting without a real terminal.
type recordingRenderer struct {
	mu        sync.Mutex
	events    []progress.ProgressEvent
	errEvents []progress.ErrorEvent
	completed []progress.CompletionStats
	started   bool
	stopped   bool
}

func (r *recordingRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
	return nil
}

func (r *recordingRenderer) UpdateProgress(event progress.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingRenderer) AddError(event progress.ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errEvents = append(r.errEvents, event)
}

func (r *recordingRenderer) Complete(stats progress.CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, stats)
}

func (r *recordingRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	return nil
}

func TestFullScanReportsProgressWhenRendererConfigured(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")
	writeFile(t, root, "b.go", "package b")

	s, err := store.OpenOrCreate(filepath.Join(t.TempDir(), "idx"), testDims, "static-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	reg := status.New(root)
	reg.MarkIdleInitialScanRequired()
	renderer := &recordingRenderer{}

	ix := indexer.New(indexer.Config{
		ProjectRoot:     root,
		Store:           s,
		Embedder:        embed.NewStaticEmbedder(testDims),
		Registry:        reg,
		Workers:         2,
		EmbedderBackend: "static",
		Progress:        renderer,
	})

	require.NoError(t, ix.FullScan(context.Background(), false))

	renderer.mu.Lock()
	defer renderer.mu.Unlock()
	require.NotEmpty(t, renderer.events)
	require.Len(t, renderer.completed, 1)
	assert.Equal(t, 2, renderer.completed[0].Files)
	assert.Equal(t, "static", renderer.completed[0].Embedder.Backend)
}

func TestFullScanWorksWithNilRenderer(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")

	ix, _ := newIndexer(t, root)
	require.NoError(t, ix.FullScan(context.Background(), false))
}
