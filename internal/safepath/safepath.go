// Package safepath guards every recursive delete the program performs.
//
// A directory may only be purged when it exists, is a directory, and does
// not resolve to the filesystem root, the home directory, or a directory
// that is (or contains) one of the protected roots.
package safepath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is wrapped by every validation failure.
var ErrUnsafePath = errors.New("unsafe path configuration")

// Error is a configuration error raised by the deletion guard.
type Error struct {
	Path   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: refusing to delete %q: %s", ErrUnsafePath, e.Path, e.Reason)
}

func (e *Error) Unwrap() error { return ErrUnsafePath }

// Resolve returns the absolute, symlink-free form of path.
func Resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// Validate checks that dir is safe to purge. protected lists directories
// that must survive the purge (asset roots, for instance). Protected
// entries that do not exist are compared by their cleaned absolute path.
func Validate(dir string, protected []string) error {
	if strings.TrimSpace(dir) == "" {
		return &Error{Path: dir, Reason: "path is empty"}
	}

	info, err := os.Stat(dir)
	if err != nil {
		return &Error{Path: dir, Reason: fmt.Sprintf("cannot stat: %v", err)}
	}
	if !info.IsDir() {
		return &Error{Path: dir, Reason: "not a directory"}
	}

	resolved, err := Resolve(dir)
	if err != nil {
		return &Error{Path: dir, Reason: fmt.Sprintf("cannot resolve: %v", err)}
	}

	if isFilesystemRoot(resolved) {
		return &Error{Path: dir, Reason: "resolves to the filesystem root"}
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		if h, err := resolveLoose(home); err == nil && h == resolved {
			return &Error{Path: dir, Reason: "resolves to the home directory"}
		}
	}

	for _, p := range protected {
		if strings.TrimSpace(p) == "" {
			continue
		}
		rp, err := resolveLoose(p)
		if err != nil {
			return &Error{Path: dir, Reason: fmt.Sprintf("cannot resolve protected path %q: %v", p, err)}
		}
		if Contains(resolved, rp) {
			return &Error{Path: dir, Reason: fmt.Sprintf("contains protected path %q", p)}
		}
	}
	return nil
}

// Contains reports whether child is parent itself or lies beneath it.
// Both paths must be absolute and clean.
func Contains(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// resolveLoose resolves symlinks when the path exists and falls back to the
// cleaned absolute path otherwise.
func resolveLoose(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if r, err := filepath.EvalSymlinks(abs); err == nil {
		return r, nil
	}
	return abs, nil
}

func isFilesystemRoot(path string) bool {
	return filepath.Dir(path) == path
}
