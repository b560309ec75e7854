package errors_test

import (
	"errors"
	"testing"

	amanerr "github.com/vector-index-mcp/vector-index-mcp/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDerivesCategoryAndSeverity(t *testing.T) {
	err := amanerr.New(amanerr.ErrCodeEmbed, "embedding timed out", nil)

	assert.Equal(t, amanerr.CategoryEmbed, err.Category)
	assert.Equal(t, amanerr.SeverityWarning, err.Severity)
	assert.True(t, err.Retryable)
}

func TestSchemaMismatchIsFatal(t *testing.T) {
	err := amanerr.SchemaMismatchError("dimension changed", nil)

	assert.Equal(t, amanerr.SeverityFatal, err.Severity)
	assert.False(t, err.Retryable)
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, amanerr.Wrap(amanerr.ErrCodeIO, nil))
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	base := amanerr.StoreError("disk full", nil)
	wrapped := errors.New("context: " + base.Error())

	assert.False(t, base.Is(wrapped)) // plain errors never match by code
	assert.True(t, base.Is(amanerr.StoreError("different message", nil)))
}

func TestWithDetailAndSuggestionChain(t *testing.T) {
	err := amanerr.IOError("read failed", nil).
		WithDetail("path", "src/main.go").
		WithSuggestion("check file permissions")

	require.Equal(t, "src/main.go", err.Details["path"])
	assert.Equal(t, "check file permissions", err.Suggestion)
}

func TestAlreadyScanningAndNotReady(t *testing.T) {
	assert.Equal(t, amanerr.ErrCodeAlreadyScanning, amanerr.AlreadyScanningError().Code)
	assert.Equal(t, amanerr.ErrCodeNotReady, amanerr.NotReadyError().Code)
}

func TestFormatForLogIncludesCoreFields(t *testing.T) {
	err := amanerr.EmbedError("model unavailable", nil).WithDetail("model", "all-MiniLM-L6-v2")
	fields := amanerr.FormatForLog(err)

	assert.Equal(t, amanerr.ErrCodeEmbed, fields["error_code"])
	assert.Equal(t, true, fields["retryable"])
	assert.Equal(t, "all-MiniLM-L6-v2", fields["detail_model"])
}
