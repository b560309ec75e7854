// Package scanner walks a project tree and returns the files eligible for
// indexing, in lexicographic path order.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/vector-index-mcp/vector-index-mcp/internal/filter"
)

// Result is a single file discovered by Walk.
type Result struct {
	// RelPath is the project-relative, forward-slash-normalized path.
	RelPath string
	// AbsPath is the absolute path on disk.
	AbsPath string
}

// Options configures a scan.
type Options struct {
	// ProjectRoot is the directory to walk.
	ProjectRoot string
	// IgnorePatterns are glob patterns applied the same way the path
	// filter applies them.
	IgnorePatterns []string
	// Workers bounds the concurrency of the eligibility check (binary
	// sniffing requires an open+read per candidate file). 0 = NumCPU.
	Workers int
}

// Walk discovers every eligible file under opts.ProjectRoot and returns
// them in lexicographic order by relative path. The directory tree is
// walked serially (cheap: stat only); eligibility checks, which sniff file
// contents, run with bounded parallelism.
func Walk(ctx context.Context, opts Options) ([]Result, error) {
	root, err := filepath.Abs(opts.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}

	var candidates []string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if path == root {
			return nil
		}
		relPath, relErr := filter.RelPath(path, root)
		if relErr != nil {
			return nil
		}
		if d.IsDir() {
			if filter.ShouldPruneDir(relPath, opts.IgnorePatterns) {
				return fs.SkipDir
			}
			return nil
		}
		candidates = append(candidates, path)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk project tree: %w", walkErr)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers < 1 {
		workers = 1
	}

	results := make([]*Result, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, workers)

	for i, path := range candidates {
		i, path := i, path
		select {
		case sem <- struct{}{}:
		case <-gctx.Done():
			break
		}
		g.Go(func() error {
			defer func() { <-sem }()
			if gctx.Err() != nil {
				return gctx.Err()
			}
			ok, err := filter.Eligible(path, root, opts.IgnorePatterns)
			if err != nil {
				return fmt.Errorf("check eligibility of %s: %w", path, err)
			}
			if !ok {
				return nil
			}
			relPath, err := filter.RelPath(path, root)
			if err != nil {
				return nil
			}
			results[i] = &Result{RelPath: relPath, AbsPath: path}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })
	return out, nil
}
