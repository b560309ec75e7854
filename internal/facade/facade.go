// Package facade is the single entry point both transports bind to:
// trigger_index, search, and get_status, with the argument validation and
// concurrency preconditions that are the same regardless of which
// transport invoked them.
package facade

import (
	"context"

	amanerr "github.com/vector-index-mcp/vector-index-mcp/internal/errors"
	"github.com/vector-index-mcp/vector-index-mcp/internal/indexer"
	"github.com/vector-index-mcp/vector-index-mcp/internal/status"
	"github.com/vector-index-mcp/vector-index-mcp/internal/store"
)

const (
	minTopK     = 1
	maxTopK     = 100
	defaultTopK = 10
)

// TriggerIndexResult is the outcome of a trigger_index call.
type TriggerIndexResult struct {
	Accepted bool
	Reason   string
}

// Facade implements trigger_index, search, and get_status against one
// project's Indexer and status Registry. A scan runs in the background so
// trigger_index returns promptly regardless of how long the scan takes.
type Facade struct {
	indexer  *indexer.Indexer
	registry *status.Registry
}

// New builds a Facade over ix and registry.
func New(ix *indexer.Indexer, registry *status.Registry) *Facade {
	return &Facade{indexer: ix, registry: registry}
}

// TriggerIndex starts a background full_scan. It refuses with
// Accepted=false if a scan is already in progress; the scan already
// running is left untouched and will still complete.
func (f *Facade) TriggerIndex(forceReindex bool) TriggerIndexResult {
	if f.registry.State() == status.StateScanning {
		return TriggerIndexResult{Accepted: false, Reason: "scan in progress"}
	}

	// Indexer.FullScan records any failure on the registry itself; the
	// caller here has already moved on and gets nothing further.
	go func() {
		_ = f.indexer.FullScan(context.Background(), forceReindex)
	}()

	return TriggerIndexResult{Accepted: true}
}

// Search validates query/topK and delegates to the Indexer. topK == 0
// defaults to 10; any other topK outside [1, 100], or an empty query, is
// rejected with InvalidQueryError.
func (f *Facade) Search(ctx context.Context, query string, topK int) ([]store.SearchResult, error) {
	if query == "" {
		return nil, amanerr.InvalidQueryError("query must not be empty")
	}
	if topK == 0 {
		topK = defaultTopK
	}
	if topK < minTopK || topK > maxTopK {
		return nil, amanerr.InvalidQueryError("top_k must be between 1 and 100")
	}

	return f.indexer.Search(ctx, query, topK)
}

// GetStatus returns a consistent snapshot of the current status record.
func (f *Facade) GetStatus() status.Record {
	return f.registry.Snapshot()
}
