// Package scan discovers DMI files below a set of root directories.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxDepth bounds recursion below each root.
const DefaultMaxDepth = 20

// Scanner walks root directories and yields matching file paths. A Scanner
// holds no cursor, so every call to Paths starts an independent walk.
type Scanner struct {
	Roots      []string
	Extensions []string // lowercase, with leading dot; defaults to ".dmi"
	MaxDepth   int      // 0 means DefaultMaxDepth
}

// New creates a scanner for the given roots matching .dmi files.
func New(roots ...string) *Scanner {
	return &Scanner{Roots: roots}
}

// Paths returns a lazy sequence of absolute file paths. Entries that cannot
// be read are yielded with a non-nil error and an empty or partial path;
// the walk continues past them. Symlinked directories are followed, but
// every real directory is visited at most once per walk. The walk stops
// between entries once ctx is done; the context error is yielded last.
func (s *Scanner) Paths(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		w := &walker{
			ctx:      ctx,
			exts:     s.extensions(),
			maxDepth: s.MaxDepth,
			visited:  make(map[string]bool),
			yield:    yield,
		}
		if w.maxDepth <= 0 {
			w.maxDepth = DefaultMaxDepth
		}
		for _, root := range s.Roots {
			abs, err := filepath.Abs(root)
			if err != nil {
				if !yield(root, fmt.Errorf("resolving root: %w", err)) {
					return
				}
				continue
			}
			if !w.walkRoot(abs) {
				return
			}
		}
	}
}

// Collect runs a full walk and returns matching paths and skipped entries.
func (s *Scanner) Collect(ctx context.Context) (paths []string, skipped map[string]error) {
	skipped = make(map[string]error)
	for path, err := range s.Paths(ctx) {
		if err != nil {
			skipped[path] = err
			continue
		}
		paths = append(paths, path)
	}
	return paths, skipped
}

func (s *Scanner) extensions() []string {
	if len(s.Extensions) == 0 {
		return []string{".dmi"}
	}
	out := make([]string, len(s.Extensions))
	for i, e := range s.Extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out[i] = e
	}
	return out
}

type walker struct {
	ctx      context.Context
	exts     []string
	maxDepth int
	visited  map[string]bool
	yield    func(string, error) bool
}

func (w *walker) walkRoot(root string) bool {
	info, err := os.Stat(root)
	if err != nil {
		return w.yield(root, err)
	}
	if !info.IsDir() {
		if w.matches(root) {
			return w.yield(root, nil)
		}
		return true
	}
	return w.walkDir(root, 0)
}

// walkDir returns false when the consumer asked to stop or ctx is done.
func (w *walker) walkDir(dir string, depth int) bool {
	if err := w.ctx.Err(); err != nil {
		w.yield(dir, err)
		return false
	}

	canonical, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return w.yield(dir, err)
	}
	if w.visited[canonical] {
		return true
	}
	w.visited[canonical] = true

	entries, err := os.ReadDir(dir)
	if err != nil {
		// ReadDir returns what it could read alongside the error.
		if !w.yield(dir, err) {
			return false
		}
	}

	for _, e := range entries {
		if err := w.ctx.Err(); err != nil {
			w.yield(dir, err)
			return false
		}
		path := filepath.Join(dir, e.Name())

		typ := e.Type()
		if typ&fs.ModeSymlink != 0 {
			info, err := os.Stat(path)
			if err != nil {
				if !w.yield(path, err) {
					return false
				}
				continue
			}
			typ = info.Mode().Type()
		}

		switch {
		case typ.IsDir():
			if depth+1 > w.maxDepth {
				continue
			}
			if !w.walkDir(path, depth+1) {
				return false
			}
		case typ.IsRegular():
			if w.matches(path) && !w.yield(path, nil) {
				return false
			}
		}
	}
	return true
}

func (w *walker) matches(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.exts {
		if ext == e {
			return true
		}
	}
	return false
}
