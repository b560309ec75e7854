// Package lifecycle wires the store, embedder, indexer, and watcher into a
// single running service for one project, and owns the startup and
// shutdown sequencing: acquire the instance lock, open the store, run the
// first full scan, start the watcher, and on Shutdown drain the writer
// before closing anything.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/vector-index-mcp/vector-index-mcp/internal/config"
	amanerr "github.com/vector-index-mcp/vector-index-mcp/internal/errors"
	"github.com/vector-index-mcp/vector-index-mcp/internal/embed"
	"github.com/vector-index-mcp/vector-index-mcp/internal/indexer"
	"github.com/vector-index-mcp/vector-index-mcp/internal/progress"
	"github.com/vector-index-mcp/vector-index-mcp/internal/status"
	"github.com/vector-index-mcp/vector-index-mcp/internal/store"
	"github.com/vector-index-mcp/vector-index-mcp/internal/watcher"
)

// lockFileName is the instance lock for a project's data directory. A
// second process pointed at the same project fails fast rather than
// corrupting a store already owned by a running instance.
const lockFileName = "vector-index-mcp.lock"

// shutdownDrain is how long Shutdown waits for an in-flight writer before
// giving up and closing the store anyway.
const shutdownDrain = 30 * time.Second

// Service is one running project's indexer, watcher, and status registry,
// plus the resources (store, embedder, instance lock) they're built on.
type Service struct {
	Settings *config.Settings
	Registry *status.Registry
	Indexer  *indexer.Indexer

	store    store.Store
	embedder embed.Embedder
	watcher  *watcher.HybridWatcher
	lock     *flock.Flock
	progress progress.Renderer

	cancelWatch context.CancelFunc
	watchDone   chan struct{}

	lastDropped atomic.Uint64
}

// Start acquires the instance lock, opens the store and embedder, runs the
// first full scan, and starts the background watcher. The returned Service
// is ready to serve trigger_index/search/get_status once constructed;
// Shutdown must be called to release its resources.
func Start(ctx context.Context, settings *config.Settings) (*Service, error) {
	if err := os.MkdirAll(settings.LanceDBURI, 0o755); err != nil {
		return nil, amanerr.ConfigError("create data directory", err)
	}

	lock := flock.New(filepath.Join(settings.LanceDBURI, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, amanerr.ConfigError("acquire instance lock", err)
	}
	if !locked {
		return nil, amanerr.ConfigError(
			fmt.Sprintf("another instance is already indexing %s", settings.ProjectPath), nil)
	}

	st, err := store.OpenOrCreate(settings.LanceDBURI, settings.EmbeddingDims, settings.EmbeddingModelName)
	if err != nil {
		releaseLock(lock)
		return nil, err
	}

	embedder, err := embed.NewEmbedder(ctx, embed.Config{
		Provider:   embed.ParseProvider(settings.EmbeddingProvider),
		ModelName:  settings.EmbeddingModelName,
		Dimensions: settings.EmbeddingDims,
	})
	if err != nil {
		_ = st.Close()
		releaseLock(lock)
		return nil, err
	}

	// Progress is rendered to stderr, never stdout: stdout carries MCP
	// JSON-RPC frames when the stdio transport is active, and writing
	// anything else there would corrupt the protocol stream.
	renderer := progress.NewRenderer(progress.NewConfig(os.Stderr, progress.WithProjectDir(settings.ProjectPath)))
	if err := renderer.Start(ctx); err != nil {
		slog.Warn("progress renderer failed to start", slog.String("error", err.Error()))
	}

	registry := status.New(settings.ProjectPath)
	ix := indexer.New(indexer.Config{
		ProjectRoot:     settings.ProjectPath,
		IgnorePatterns:  settings.IgnorePatterns,
		Store:           st,
		Embedder:        embedder,
		Registry:        registry,
		ChunkMaxTokens:  settings.ChunkTokenBudget,
		ChunkOverlap:    settings.ChunkOverlap,
		Workers:         settings.IndexWorkers,
		EmbedderBackend: settings.EmbeddingProvider,
		Progress:        renderer,
	})
	registry.MarkIdleInitialScanRequired()

	svc := &Service{
		Settings: settings,
		Registry: registry,
		Indexer:  ix,
		store:    st,
		embedder: embedder,
		lock:     lock,
		progress: renderer,
	}

	// The first reconciliation runs synchronously before Start returns: a
	// caller that successfully gets a *Service back can immediately trust
	// get_status to reflect a completed (or attempted) initial scan rather
	// than a still-initializing one.
	if err := ix.FullScan(ctx, false); err != nil {
		slog.Error("initial full scan failed", slog.String("error", err.Error()))
	}

	watchOpts := watcher.Options{
		PollInterval:    5 * time.Second,
		EventBufferSize: settings.WatchQueueCap,
		IgnorePatterns:  settings.IgnorePatterns,
	}
	if d, perr := time.ParseDuration(settings.WatchDebounce); perr == nil {
		watchOpts.DebounceWindow = d
	}
	watchOpts = watchOpts.WithDefaults()

	hw, err := watcher.NewHybridWatcher(watchOpts)
	if err != nil {
		_ = svc.Shutdown(context.Background())
		return nil, amanerr.ConfigError("construct file watcher", err)
	}
	svc.watcher = hw

	watchCtx, cancel := context.WithCancel(context.Background())
	svc.cancelWatch = cancel

	if err := hw.Start(watchCtx, settings.ProjectPath); err != nil {
		cancel()
		_ = svc.Shutdown(context.Background())
		return nil, amanerr.IOError("start file watcher", err)
	}

	svc.watchDone = make(chan struct{})
	go svc.runWatchLoop(watchCtx, hw)

	return svc, nil
}

// runWatchLoop drains watcher events into the indexer, tracks dropped
// batches as a status-visible error, and polls for the project root
// disappearing and reappearing per §5's degraded-mode handling.
func (s *Service) runWatchLoop(ctx context.Context, hw *watcher.HybridWatcher) {
	defer close(s.watchDone)

	rootTicker := time.NewTicker(5 * time.Second)
	defer rootTicker.Stop()
	rootMissing := false

	for {
		select {
		case <-ctx.Done():
			return

		case batch, ok := <-hw.Events():
			if !ok {
				return
			}
			s.applyBatch(ctx, batch)

		case err, ok := <-hw.Errors():
			if !ok {
				continue
			}
			slog.Warn("watcher error", slog.String("error", err.Error()))

		case <-rootTicker.C:
			if dropped := hw.DroppedBatches(); dropped > s.lastDropped.Load() {
				s.lastDropped.Store(dropped)
				s.Registry.SetError("watcher backlog overflow")
			}

			_, statErr := os.Stat(s.Settings.ProjectPath)
			switch {
			case statErr != nil && !rootMissing:
				rootMissing = true
				s.Registry.SetError("project root unavailable")
			case statErr == nil && rootMissing:
				rootMissing = false
				go func() {
					if err := s.Indexer.FullScan(context.Background(), true); err != nil {
						slog.Error("recovery full scan failed", slog.String("error", err.Error()))
					}
				}()
			}
		}
	}
}

// applyBatch routes each event in a debounced batch to index_file or
// remove_file, then refreshes the registry's chunk count.
func (s *Service) applyBatch(ctx context.Context, batch []watcher.FileEvent) {
	for _, ev := range batch {
		if ev.IsDir {
			continue
		}
		var err error
		switch ev.Operation {
		case watcher.OpDelete, watcher.OpRename:
			err = s.Indexer.RemoveFile(ctx, ev.Path)
		default:
			err = s.Indexer.IndexFile(ctx, ev.Path)
		}
		if err != nil {
			slog.Warn("watcher-driven update failed", slog.String("path", ev.Path), slog.String("error", err.Error()))
		}
	}

	if count, err := s.store.Count(ctx); err == nil {
		s.Registry.SetIndexedChunkCount(count)
	}
}

// Shutdown stops the watcher, waits up to 30s for any in-flight writer to
// finish, closes the store, and releases the instance lock. Safe to call
// once; subsequent calls are no-ops beyond releasing an already-released
// lock.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.watcher != nil {
		_ = s.watcher.Stop()
	}
	if s.cancelWatch != nil {
		s.cancelWatch()
	}
	if s.watchDone != nil {
		select {
		case <-s.watchDone:
		case <-time.After(shutdownDrain):
		}
	}

	if s.Indexer != nil {
		if err := s.Indexer.Quiesce(shutdownDrain); err != nil {
			slog.Warn("shutdown: writer did not quiesce in time", slog.String("error", err.Error()))
		}
	}

	if s.progress != nil {
		_ = s.progress.Stop()
	}

	var firstErr error
	if s.embedder != nil {
		if err := s.embedder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	releaseLock(s.lock)
	return firstErr
}

// releaseLock unlocks and removes the lock file, tolerating a nil lock so
// callers can use it unconditionally during partial-construction cleanup.
func releaseLock(lock *flock.Flock) {
	if lock == nil {
		return
	}
	_ = lock.Unlock()
	_ = os.Remove(lock.Path())
}
