package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vector-index-mcp/vector-index-mcp/internal/embed"
	"github.com/vector-index-mcp/vector-index-mcp/internal/facade"
	"github.com/vector-index-mcp/vector-index-mcp/internal/indexer"
	"github.com/vector-index-mcp/vector-index-mcp/internal/status"
	"github.com/vector-index-mcp/vector-index-mcp/internal/store"
	"github.com/vector-index-mcp/vector-index-mcp/internal/transport/httpapi"
)

const testDims = 32

func newTestHandler(t *testing.T, root string) (*httpapi.Handler, *indexer.Indexer, *status.Registry) {
	t.Helper()
	s, err := store.OpenOrCreate(filepath.Join(t.TempDir(), "idx"), testDims, "static-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	reg := status.New(root)
	ix := indexer.New(indexer.Config{
		ProjectRoot: root,
		Store:       s,
		Embedder:    embed.NewStaticEmbedder(testDims),
		Registry:    reg,
		Workers:     2,
	})

	return httpapi.NewHandler(facade.New(ix, reg)), ix, reg
}

func TestGetStatusReturns200WithCurrentState(t *testing.T) {
	h, _, reg := newTestHandler(t, t.TempDir())
	reg.FinishScanning(7)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "watching", body["state"])
	assert.Equal(t, float64(7), body["indexed_chunk_count"])
}

func TestPostIndexReturns202WhenAccepted(t *testing.T) {
	h, _, _ := newTestHandler(t, t.TempDir())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/index", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestPostIndexReturns409WhenScanAlreadyInProgress(t *testing.T) {
	h, _, reg := newTestHandler(t, t.TempDir())
	require.NoError(t, reg.TryBeginScan())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/index", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetSearchReturns503BeforeInitialScan(t *testing.T) {
	h, _, _ := newTestHandler(t, t.TempDir())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?q=hello", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetSearchReturns400ForEmptyQuery(t *testing.T) {
	h, _, reg := newTestHandler(t, t.TempDir())
	reg.FinishScanning(0)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSearchReturns200WithResults(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n\nfunc Hello() {}"), 0o644))

	h, ix, reg := newTestHandler(t, root)
	reg.FinishScanning(0)
	require.NoError(t, ix.IndexFile(context.Background(), "a.go"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?q=Hello&top_k=5", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	results, ok := body["results"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, results)
}
