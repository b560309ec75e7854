package status_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amanerr "github.com/vector-index-mcp/vector-index-mcp/internal/errors"
	"github.com/vector-index-mcp/vector-index-mcp/internal/status"
)

func TestNewStartsInitializing(t *testing.T) {
	r := status.New("/proj")
	assert.Equal(t, status.StateInitializing, r.State())
}

func TestTryBeginScanRejectsReentrancy(t *testing.T) {
	r := status.New("/proj")
	r.MarkIdleInitialScanRequired()

	require.NoError(t, r.TryBeginScan())
	assert.Equal(t, status.StateScanning, r.State())

	err := r.TryBeginScan()
	require.Error(t, err)
	assert.Equal(t, amanerr.ErrCodeAlreadyScanning, amanerr.GetCode(err))
}

func TestFinishScanningTransitionsToWatching(t *testing.T) {
	r := status.New("/proj")
	r.MarkIdleInitialScanRequired()
	require.NoError(t, r.TryBeginScan())

	r.FinishScanning(42)

	snap := r.Snapshot()
	assert.Equal(t, status.StateWatching, snap.State)
	assert.Equal(t, 42, snap.IndexedChunkCount)
	assert.False(t, snap.LastScanEnd.IsZero())
}

func TestSetErrorPreservesCounts(t *testing.T) {
	r := status.New("/proj")
	r.MarkIdleInitialScanRequired()
	require.NoError(t, r.TryBeginScan())
	r.FinishScanning(7)

	r.SetError("disk full")

	snap := r.Snapshot()
	assert.Equal(t, status.StateError, snap.State)
	assert.Equal(t, "disk full", snap.ErrorMessage)
	assert.Equal(t, 7, snap.IndexedChunkCount)
}

func TestScanningClearsPriorError(t *testing.T) {
	r := status.New("/proj")
	r.MarkIdleInitialScanRequired()
	r.SetError("transient")

	require.NoError(t, r.TryBeginScan())

	assert.Empty(t, r.Snapshot().ErrorMessage)
}
