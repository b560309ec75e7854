// Package filter decides whether a path under a project root is eligible
// for indexing, given a set of glob-style ignore patterns.
package filter

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// sniffSize is how much of a file's head is inspected for the binary
// heuristic.
const sniffSize = 8192

// Eligible reports whether absPath should be indexed. It is a pure
// function of (absPath, projectRoot, patterns): it touches the filesystem
// only to stat and sniff the candidate file, and returns no side effects.
//
// Rules, applied in order:
//  1. absPath must exist and be a regular file.
//  2. absPath must lie within projectRoot.
//  3. No pattern in patterns may match the project-relative path.
//  4. The file must not look binary (NUL byte in the first 8 KiB).
func Eligible(absPath, projectRoot string, patterns []string) (bool, error) {
	info, err := os.Lstat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", absPath, err)
	}
	if !info.Mode().IsRegular() {
		return false, nil
	}

	relPath, err := RelPath(absPath, projectRoot)
	if err != nil {
		return false, nil
	}

	if MatchesAny(relPath, patterns) {
		return false, nil
	}

	binary, err := looksBinary(absPath)
	if err != nil {
		return false, fmt.Errorf("sniff %s: %w", absPath, err)
	}
	if binary {
		return false, nil
	}

	return true, nil
}

// RelPath returns the project-relative, forward-slash-normalized path of
// absPath under projectRoot. It fails if absPath does not lie within
// projectRoot.
func RelPath(absPath, projectRoot string) (string, error) {
	rel, err := filepath.Rel(projectRoot, absPath)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside project root %s", absPath, projectRoot)
	}
	return filepath.ToSlash(rel), nil
}

// MatchesAny reports whether relPath matches any of the given glob
// patterns. A pattern containing no "/" is also matched against relPath's
// basename, so bare patterns like "*.log" reject a match anywhere in the
// tree rather than only at the root.
func MatchesAny(relPath string, patterns []string) bool {
	base := path.Base(relPath)
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
		if !strings.Contains(pattern, "/") {
			if ok, _ := doublestar.Match(pattern, base); ok {
				return true
			}
		}
	}
	return false
}

// ShouldPruneDir reports whether a directory's subtree can be skipped
// entirely during a tree walk, given its project-relative path. This is an
// optimization, not a correctness boundary: Eligible remains the authority
// on whether any individual file within a subtree is indexed, so under-
// pruning here (e.g. a pattern that only excludes a directory's direct
// children) is harmless, just slower.
func ShouldPruneDir(relPath string, patterns []string) bool {
	if relPath == ".git" || strings.HasPrefix(relPath, ".git/") {
		return true
	}
	if MatchesAny(relPath, patterns) {
		return true
	}
	base := path.Base(relPath)
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		p = strings.TrimSuffix(p, "**")
		p = strings.TrimSuffix(p, "*")
		p = strings.TrimSuffix(p, "/")
		if p != "" && (p == relPath || p == base) {
			return true
		}
	}
	return false
}

func looksBinary(absPath string) (bool, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, sniffSize)
	n, err := f.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return bytes.IndexByte(buf[:n], 0) >= 0, nil
}
