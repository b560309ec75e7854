package scanner_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vector-index-mcp/vector-index-mcp/internal/scanner"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWalkReturnsEligibleFilesInLexicographicOrder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "z.go"), "package z")
	writeFile(t, filepath.Join(root, "a.go"), "package a")
	writeFile(t, filepath.Join(root, "src", "m.go"), "package m")

	results, err := scanner.Walk(context.Background(), scanner.Options{ProjectRoot: root})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a.go", results[0].RelPath)
	assert.Equal(t, "src/m.go", results[1].RelPath)
	assert.Equal(t, "z.go", results[2].RelPath)
}

func TestWalkSkipsIgnoredDirectoriesEntirely(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.go"), "package keep")
	writeFile(t, filepath.Join(root, "node_modules", "pkg", "index.js"), "module.exports = {}")
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "ref: refs/heads/main")

	results, err := scanner.Walk(context.Background(), scanner.Options{
		ProjectRoot:    root,
		IgnorePatterns: []string{"node_modules/*"},
	})
	require.NoError(t, err)

	var paths []string
	for _, r := range results {
		paths = append(paths, r.RelPath)
	}
	assert.Contains(t, paths, "keep.go")
	assert.NotContains(t, paths, "node_modules/pkg/index.js")
	assert.NotContains(t, paths, ".git/HEAD")
}

func TestWalkExcludesBinaryFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "text.go"), "package text")
	require.NoError(t, os.WriteFile(filepath.Join(root, "data.bin"), []byte{0x00, 0x01, 0x02}, 0o644))

	results, err := scanner.Walk(context.Background(), scanner.Options{ProjectRoot: root})
	require.NoError(t, err)

	var paths []string
	for _, r := range results {
		paths = append(paths, r.RelPath)
	}
	assert.Contains(t, paths, "text.go")
	assert.NotContains(t, paths, "data.bin")
}
