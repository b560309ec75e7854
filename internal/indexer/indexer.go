// Package indexer is the orchestrator tying the path filter, content
// extractor, embedder, and store together into the index's three
// operations: index_file, remove_file, and full_scan. It owns the single
// writer lock that serializes all store mutations.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	amanerr "github.com/vector-index-mcp/vector-index-mcp/internal/errors"
	"github.com/vector-index-mcp/vector-index-mcp/internal/embed"
	"github.com/vector-index-mcp/vector-index-mcp/internal/extract"
	"github.com/vector-index-mcp/vector-index-mcp/internal/filter"
	"github.com/vector-index-mcp/vector-index-mcp/internal/progress"
	"github.com/vector-index-mcp/vector-index-mcp/internal/scanner"
	"github.com/vector-index-mcp/vector-index-mcp/internal/status"
	"github.com/vector-index-mcp/vector-index-mcp/internal/store"
)

// embedRetry governs the single retry §7 grants an EmbedError, with a
// 250ms backoff before the retry attempt.
var embedRetry = amanerr.RetryConfig{MaxRetries: 1, InitialDelay: 250 * time.Millisecond, MaxDelay: 250 * time.Millisecond, Multiplier: 1}

// storeRetry governs the single retry §7 grants a StoreError before the
// operation is treated as fatal for the current scan.
var storeRetry = amanerr.RetryConfig{MaxRetries: 1, InitialDelay: 100 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Multiplier: 1}

// embedCircuitMaxFailures/embedCircuitResetTimeout bound how much a dead
// embedder backend (ONNX/MLX process unreachable) can slow down a full_scan
// fan-out: after 5 consecutive batch failures the breaker opens and every
// file in flight fails fast for 30s instead of each one paying its own
// retry+timeout before giving up.
const (
	embedCircuitMaxFailures  = 5
	embedCircuitResetTimeout = 30 * time.Second
)

// Config bundles everything an Indexer needs to operate on one project.
type Config struct {
	ProjectRoot    string
	IgnorePatterns []string
	Store          store.Store
	Embedder       embed.Embedder
	Tokenizer      extract.Tokenizer // nil uses extract.DefaultTokenizer
	Registry       *status.Registry
	ChunkMaxTokens int
	ChunkOverlap   int
	Workers        int

	// EmbedderBackend names the embedder backend ("onnx", "mlx", "static")
	// shown in the progress completion summary. Purely cosmetic.
	EmbedderBackend string

	// Progress, if non-nil, receives stage/file progress during full_scan.
	// The indexer works identically with Progress == nil.
	Progress progress.Renderer
}

// Indexer implements the §4.5 component: index_file, remove_file,
// full_scan, and search. Every store mutation is serialized against a
// single writer mutex so the store never observes two concurrent
// mutations; search takes no lock.
type Indexer struct {
	projectRoot     string
	ignorePatterns  []string
	store           store.Store
	embedder        embed.Embedder
	tokenizer       extract.Tokenizer
	registry        *status.Registry
	chunkMaxTokens  int
	chunkOverlap    int
	workers         int
	embedderBackend string
	progress        progress.Renderer
	embedCircuit    *amanerr.CircuitBreaker

	writerMu sync.Mutex
}

// New builds an Indexer from cfg.
func New(cfg Config) *Indexer {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Indexer{
		projectRoot:     cfg.ProjectRoot,
		ignorePatterns:  cfg.IgnorePatterns,
		store:           cfg.Store,
		embedder:        cfg.Embedder,
		tokenizer:       cfg.Tokenizer,
		registry:        cfg.Registry,
		chunkMaxTokens:  cfg.ChunkMaxTokens,
		chunkOverlap:    cfg.ChunkOverlap,
		workers:         workers,
		embedderBackend: cfg.EmbedderBackend,
		progress:        cfg.Progress,
		embedCircuit: amanerr.NewCircuitBreaker("embedder",
			amanerr.WithMaxFailures(embedCircuitMaxFailures),
			amanerr.WithResetTimeout(embedCircuitResetTimeout)),
	}
}

// reportProgress forwards event to the configured renderer, if any.
func (ix *Indexer) reportProgress(event progress.ProgressEvent) {
	if ix.progress != nil {
		ix.progress.UpdateProgress(event)
	}
}

// reportError forwards event to the configured renderer, if any.
func (ix *Indexer) reportError(event progress.ErrorEvent) {
	if ix.progress != nil {
		ix.progress.AddError(event)
	}
}

// IndexFile (re)indexes the single file at relPath (project-relative,
// forward-slash path). It is idempotent: if the file's content hash
// matches what's already stored, no work is done. A file that no longer
// passes the path filter, or that yields zero chunks, is removed instead.
func (ix *Indexer) IndexFile(ctx context.Context, relPath string) error {
	return ix.indexFile(ctx, relPath, false)
}

// indexFile is IndexFile's implementation. When force is true, the content
// hash shortcut below is skipped so a forced full_scan actually re-embeds
// every file rather than treating unchanged content as already done.
func (ix *Indexer) indexFile(ctx context.Context, relPath string, force bool) error {
	absPath := filepath.Join(ix.projectRoot, filepath.FromSlash(relPath))

	eligible, err := filter.Eligible(absPath, ix.projectRoot, ix.ignorePatterns)
	if err != nil {
		slog.Warn("index_file: eligibility check failed", slog.String("path", relPath), slog.String("error", err.Error()))
		return nil
	}
	if !eligible {
		return ix.RemoveFile(ctx, relPath)
	}

	hash, mtime, err := extract.HashFile(absPath)
	if err != nil {
		slog.Warn("index_file: hash failed, skipping", slog.String("path", relPath), slog.String("error", err.Error()))
		return nil
	}

	if !force {
		if entry, found, err := ix.store.LookupFileState(ctx, relPath); err == nil && found && entry.ContentHash == hash {
			return nil // idempotent shortcut: content unchanged since last index
		}
	}

	chunks, err := extract.ExtractChunksWithBounds(absPath, ix.tokenizer, ix.chunkMaxTokens, ix.chunkOverlap)
	if err != nil {
		slog.Warn("index_file: extraction failed, skipping", slog.String("path", relPath), slog.String("error", err.Error()))
		return nil
	}
	if len(chunks) == 0 {
		return ix.RemoveFile(ctx, relPath)
	}

	vectors, err := ix.embedChunks(ctx, chunks)
	if err != nil {
		slog.Warn("index_file: embedding failed after retry, skipping", slog.String("path", relPath), slog.String("error", err.Error()))
		return nil
	}

	rows := make([]store.Row, len(chunks))
	for i, chunk := range chunks {
		rows[i] = store.Row{
			DocumentID:            fmt.Sprintf("%s::%d", relPath, i),
			FilePath:              relPath,
			ContentHash:           hash,
			LastModifiedTimestamp: mtime,
			ChunkIndex:            uint32(i),
			TotalChunks:           uint32(len(chunks)),
			ExtractedTextChunk:    chunk,
			OriginalPath:          relPath,
			Vector:                vectors[i],
		}
	}

	ix.writerMu.Lock()
	defer ix.writerMu.Unlock()

	// Clear any previously stored rows for this file first: a shrinking
	// file must not leave stale trailing chunk_index rows behind (I2).
	writeErr := amanerr.Retry(ctx, storeRetry, func() error {
		if err := ix.store.DeleteWhereFilePathEq(ctx, relPath); err != nil {
			return err
		}
		return ix.store.Upsert(ctx, rows)
	})
	if writeErr != nil {
		wrapped := amanerr.StoreError(fmt.Sprintf("write rows for %s", relPath), writeErr)
		ix.registry.SetError(wrapped.Error())
		return wrapped
	}
	return nil
}

// RemoveFile deletes every chunk row belonging to relPath. Safe to call
// for a path that was never indexed.
func (ix *Indexer) RemoveFile(ctx context.Context, relPath string) error {
	ix.writerMu.Lock()
	defer ix.writerMu.Unlock()

	err := amanerr.Retry(ctx, storeRetry, func() error {
		return ix.store.DeleteWhereFilePathEq(ctx, relPath)
	})
	if err != nil {
		wrapped := amanerr.StoreError(fmt.Sprintf("remove rows for %s", relPath), err)
		ix.registry.SetError(wrapped.Error())
		return wrapped
	}
	return nil
}

// embedChunks embeds a batch of chunk texts, retrying once on failure after
// a 250ms backoff per §7's EmbedError policy. Calls are also routed through
// embedCircuit: once embedCircuitMaxFailures consecutive batches fail (the
// embedder backend is down), the breaker opens and every subsequent batch
// fails immediately with ErrCircuitOpen instead of each one separately
// waiting out the retry backoff against a backend that isn't coming back.
func (ix *Indexer) embedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	var vectors [][]float32
	err := amanerr.Retry(ctx, embedRetry, func() error {
		cbErr := ix.embedCircuit.Execute(func() error {
			v, err := ix.embedder.EmbedBatch(ctx, chunks)
			if err != nil {
				return err
			}
			vectors = v
			return nil
		})
		if cbErr != nil {
			return amanerr.EmbedError("embed chunk batch", cbErr)
		}
		return nil
	})
	return vectors, err
}

// FullScan walks the project tree and reconciles the store against it:
// files that changed or are new are (re)indexed, files that disappeared or
// are now filtered out are removed. force empties the table first (step 1
// of §4.5's forced path) and then repopulates it from every discovered
// file, bypassing the per-file content hash shortcut so an unchanged tree
// is still fully re-embedded rather than left alone.
//
// full_scan is not re-entrant: a call made while a scan is already in
// progress returns AlreadyScanningError without touching anything.
func (ix *Indexer) FullScan(ctx context.Context, force bool) error {
	if err := ix.registry.TryBeginScan(); err != nil {
		return err
	}

	scanStart := time.Now()
	ix.reportProgress(progress.ProgressEvent{Stage: progress.StageScanning, Message: "discovering files"})

	discovered, err := scanner.Walk(ctx, scanner.Options{
		ProjectRoot:    ix.projectRoot,
		IgnorePatterns: ix.ignorePatterns,
		Workers:        ix.workers,
	})
	scanDuration := time.Since(scanStart)
	if err != nil {
		wrapped := amanerr.IOError("walk project tree", err)
		ix.registry.SetError(wrapped.Error())
		return wrapped
	}

	var indexed map[string]store.IndexStateEntry
	if force {
		// Step 1 of the forced path: empty the table entirely before
		// repopulating it, rather than relying on the per-file content hash
		// shortcut to no-op its way through an unchanged tree.
		ix.writerMu.Lock()
		delErr := amanerr.Retry(ctx, storeRetry, func() error {
			return ix.store.DeleteAll(ctx)
		})
		ix.writerMu.Unlock()
		if delErr != nil {
			wrapped := amanerr.StoreError("delete all rows for forced rescan", delErr)
			ix.registry.SetError(wrapped.Error())
			return wrapped
		}
	} else {
		present := make(map[string]struct{}, len(discovered))
		for _, r := range discovered {
			present[r.RelPath] = struct{}{}
		}

		var scanErr error
		indexed, scanErr = ix.store.ScanIndexState(ctx)
		if scanErr != nil {
			wrapped := amanerr.StoreError("scan index state", scanErr)
			ix.registry.SetError(wrapped.Error())
			return wrapped
		}

		var stale []string
		for relPath := range indexed {
			if _, ok := present[relPath]; !ok {
				stale = append(stale, relPath)
			}
		}
		if len(stale) > 0 {
			ix.writerMu.Lock()
			delErr := amanerr.Retry(ctx, storeRetry, func() error {
				return ix.store.DeleteWhereFilePathIn(ctx, stale)
			})
			ix.writerMu.Unlock()
			if delErr != nil {
				wrapped := amanerr.StoreError("delete stale rows", delErr)
				ix.registry.SetError(wrapped.Error())
				return wrapped
			}
		}
	}

	var toProcess []string
	for _, r := range discovered {
		relPath := r.RelPath
		if !force {
			if entry, ok := indexed[relPath]; ok {
				if hash, _, hErr := extract.HashFile(r.AbsPath); hErr == nil && hash == entry.ContentHash {
					continue // P2: unchanged content, skip re-extraction entirely
				}
			}
		}
		toProcess = append(toProcess, relPath)
	}

	embedStart := time.Now()
	ix.reportProgress(progress.ProgressEvent{Stage: progress.StageEmbedding, Total: len(toProcess)})

	var processed atomic.Int64
	var warnings atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(ix.workers))

	for _, relPath := range toProcess {
		relPath := relPath
		if err := sem.Acquire(gctx, 1); err != nil {
			break // gctx already cancelled; g.Wait() below surfaces the cause
		}
		g.Go(func() error {
			defer sem.Release(1)
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if err := ix.indexFile(gctx, relPath, force); err != nil {
				if amanerr.GetCategory(err) == amanerr.CategoryStore {
					return err // store failures abort the scan
				}
				warnings.Add(1)
				ix.reportError(progress.ErrorEvent{File: relPath, Err: err, IsWarn: true})
				slog.Warn("full_scan: skipping file", slog.String("path", relPath), slog.String("error", err.Error()))
			}
			n := processed.Add(1)
			ix.reportProgress(progress.ProgressEvent{
				Stage: progress.StageEmbedding, Current: int(n), Total: len(toProcess), CurrentFile: relPath,
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		wrapped := amanerr.StoreError("full scan aborted", err)
		ix.registry.SetError(wrapped.Error())
		return wrapped
	}
	embedDuration := time.Since(embedStart)

	count, err := ix.store.Count(ctx)
	if err != nil {
		wrapped := amanerr.StoreError("count rows after scan", err)
		ix.registry.SetError(wrapped.Error())
		return wrapped
	}
	ix.registry.FinishScanning(count)

	ix.reportProgress(progress.ProgressEvent{Stage: progress.StageComplete})
	if ix.progress != nil {
		ix.progress.Complete(progress.CompletionStats{
			Files:    len(toProcess),
			Chunks:   int(count),
			Duration: time.Since(scanStart),
			Warnings: int(warnings.Load()),
			Stages:   progress.StageTimings{Scan: scanDuration, Embed: embedDuration},
			Embedder: progress.EmbedderInfo{
				Backend:    ix.embedderBackend,
				Model:      ix.embedder.ModelName(),
				Dimensions: ix.embedder.Dimensions(),
			},
		})
	}
	return nil
}

// Quiesce blocks until no writer holds writerMu, or timeout elapses first.
// Used during shutdown to let an in-flight index_file/full_scan write land
// before the store is closed. On timeout it returns an error without
// waiting further; the holder (if any) is left to finish on its own.
func (ix *Indexer) Quiesce(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		ix.writerMu.Lock()
		close(done)
	}()

	select {
	case <-done:
		ix.writerMu.Unlock()
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("writer did not quiesce within %s", timeout)
	}
}

// Search embeds query and returns the topK nearest chunks. Returns
// NotReadyError while the registry is still Initializing; returns an
// empty result (not an error) if the store has no rows yet.
func (ix *Indexer) Search(ctx context.Context, query string, topK int) ([]store.SearchResult, error) {
	if ix.registry.State() == status.StateInitializing {
		return nil, amanerr.NotReadyError()
	}

	count, err := ix.store.Count(ctx)
	if err != nil {
		return nil, amanerr.StoreError("count rows", err)
	}
	if count == 0 {
		return nil, nil
	}

	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, amanerr.EmbedError("embed query", err)
	}

	results, err := ix.store.Search(ctx, vec, topK)
	if err != nil {
		return nil, amanerr.StoreError("vector search", err)
	}
	return results, nil
}
