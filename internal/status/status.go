// Package status holds the process-wide project status record: the
// current state, scan timestamps, chunk count, and last error. The
// Indexer and the lifecycle's startup and watch loop write it; any number
// of readers may take a consistent snapshot concurrently.
package status

import (
	"sync"
	"time"

	amanerr "github.com/vector-index-mcp/vector-index-mcp/internal/errors"
)

// State is one node of the status state machine.
type State string

const (
	StateInitializing            State = "initializing"
	StateIdleInitialScanRequired State = "idle_initial_scan_required"
	StateScanning                State = "scanning"
	StateWatching                State = "watching"
	StateError                   State = "error"
)

// Record is an immutable snapshot of the status registry at a point in
// time, safe to pass around and read without synchronization.
type Record struct {
	ProjectPath       string
	State             State
	LastScanStart     time.Time
	LastScanEnd       time.Time
	IndexedChunkCount int
	ErrorMessage      string
}

// Registry is the mutex-protected status record for one project.
type Registry struct {
	mu     sync.RWMutex
	record Record
}

// New creates a Registry in the Initializing state.
func New(projectPath string) *Registry {
	return &Registry{record: Record{
		ProjectPath: projectPath,
		State:       StateInitializing,
	}}
}

// Snapshot returns a copy of the current record.
func (r *Registry) Snapshot() Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.record
}

// MarkIdleInitialScanRequired transitions out of Initializing once
// startup (store open, embedder load) has completed.
func (r *Registry) MarkIdleInitialScanRequired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record.State = StateIdleInitialScanRequired
}

// TryBeginScan check-and-sets the Scanning state. It returns
// AlreadyScanningError without mutating anything if a scan is already in
// progress; this is the mechanism behind full_scan's no-re-entrancy rule.
func (r *Registry) TryBeginScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.record.State == StateScanning {
		return amanerr.AlreadyScanningError()
	}
	r.record.State = StateScanning
	r.record.LastScanStart = time.Now()
	r.record.ErrorMessage = ""
	return nil
}

// FinishScanning transitions Scanning -> Watching, recording the scan end
// time and the freshly counted number of indexed chunks.
func (r *Registry) FinishScanning(indexedChunkCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record.State = StateWatching
	r.record.LastScanEnd = time.Now()
	r.record.IndexedChunkCount = indexedChunkCount
}

// SetError transitions to Error, recording msg. Counts and timestamps
// already on the record are preserved.
func (r *Registry) SetError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record.State = StateError
	r.record.ErrorMessage = msg
}

// SetIndexedChunkCount updates the chunk count without a state
// transition, used by the watcher's incremental updates between scans.
func (r *Registry) SetIndexedChunkCount(count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record.IndexedChunkCount = count
}

// State returns just the current state, for callers that only need to
// branch on it (e.g. the indexer's NotReady check).
func (r *Registry) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.record.State
}
