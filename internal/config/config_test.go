package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()

	s, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "all-MiniLM-L6-v2", s.EmbeddingModelName)
	assert.Equal(t, "INFO", s.LogLevel)
	assert.Equal(t, filepath.Join(dir, ".lancedb"), s.LanceDBURI)
	assert.Equal(t, 384, s.EmbeddingDims)
	assert.ElementsMatch(t, defaultIgnorePatterns, s.IgnorePatterns)
}

func TestLoadRejectsMissingDirectory(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}

func TestOverrideFileTakesPrecedenceOverDefaults(t *testing.T) {
	dir := t.TempDir()
	yamlContent := "log_level: \"DEBUG\"\nembedding_model_name: \"custom-model\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".vector-index-mcp.yaml"), []byte(yamlContent), 0o644))

	s, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", s.LogLevel)
	assert.Equal(t, "custom-model", s.EmbeddingModelName)
}

func TestEnvTakesPrecedenceOverOverrideFile(t *testing.T) {
	dir := t.TempDir()
	yamlContent := "log_level: \"DEBUG\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".vector-index-mcp.yaml"), []byte(yamlContent), 0o644))

	t.Setenv("LOG_LEVEL", "ERROR")
	t.Setenv("IGNORE_PATTERNS", "*.log, *.tmp")

	s, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "ERROR", s.LogLevel)
	assert.Equal(t, []string{"*.log", "*.tmp"}, s.IgnorePatterns)
}

func TestValidateRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(dir)
	require.NoError(t, err)

	s.LogLevel = "TRACE"
	assert.Error(t, s.Validate())

	s.LogLevel = "INFO"
	s.ChunkOverlap = s.ChunkTokenBudget
	assert.Error(t, s.Validate())

	s.ChunkOverlap = 60
	s.EmbeddingProvider = "bogus"
	assert.Error(t, s.Validate())
}
