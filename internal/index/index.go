// Package index aggregates decoded DMI files into a searchable in-memory
// structure.
package index

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/dmiscope/internal/report"
	"github.com/Faultbox/dmiscope/pkg/dmi"
	"github.com/Faultbox/dmiscope/pkg/encoding"
)

// Index errors.
var (
	ErrNotIndexed = errors.New("file not indexed")
	ErrBadRef     = errors.New("invalid thumbnail reference")
)

// Entry is the indexed view of one decoded file. The File carries metadata
// only; pixels are decoded on demand by the caller.
type Entry struct {
	Path    string
	Size    int64
	ModTime time.Time
	File    *dmi.File

	base string   // folded basename without extension
	name string   // folded basename
	keys []string // folded state names
}

// Fingerprint returns the content fingerprint the entry was built from.
func (e *Entry) Fingerprint() string {
	return e.File.Fingerprint
}

// Options configures an Index.
type Options struct {
	// Workers bounds concurrent decodes during Build. 0 means GOMAXPROCS.
	Workers int

	// Reporter receives a record for every file that fails to decode.
	Reporter report.Reporter

	// OnInvalidate is called with a fingerprint that no longer matches any
	// live file, after the replacing entry set is visible.
	OnInvalidate func(fingerprint string)
}

// Index is safe for concurrent use. Readers see either the old or the new
// entry for a path, never a partially built one.
type Index struct {
	opts Options

	mu       sync.RWMutex
	entries  map[string]*Entry
	failures map[string]error
}

// New creates an empty index.
func New(opts Options) *Index {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Reporter == nil {
		opts.Reporter = report.Discard
	}
	return &Index{
		opts:     opts,
		entries:  make(map[string]*Entry),
		failures: make(map[string]error),
	}
}

// Build creates an index and fills it from paths.
func Build(ctx context.Context, paths iter.Seq2[string, error], opts Options) (*Index, error) {
	ix := New(opts)
	return ix, ix.Add(ctx, paths)
}

// Add decodes every path in the sequence and records the result. Decode
// failures and scan errors are recorded as failures and never abort the
// batch. When ctx is done, Add stops between files and returns the context
// error; entries added so far stay usable.
func (ix *Index) Add(ctx context.Context, paths iter.Seq2[string, error]) error {
	var g errgroup.Group
	g.SetLimit(ix.opts.Workers)

	for path, err := range paths {
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				break
			}
			ix.fail(path, err)
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			ix.load(path)
			return nil
		})
	}
	g.Wait()
	return ctx.Err()
}

// Refresh re-decodes a single file and replaces its entry. When the file is
// gone or no longer decodes, its entry is dropped and the failure recorded.
// Cache artifacts of a replaced fingerprint are invalidated.
func (ix *Index) Refresh(path string) (*Entry, error) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return ix.load(path)
}

// Fresh returns the entry for path, refreshing it first when the file's
// size or modification time differs from what was indexed.
func (ix *Index) Fresh(path string) (*Entry, error) {
	e, ok := ix.Lookup(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotIndexed, path)
	}
	info, err := os.Stat(e.Path)
	if err == nil && info.Size() == e.Size && info.ModTime().Equal(e.ModTime) {
		return e, nil
	}
	return ix.Refresh(e.Path)
}

// Remove drops the entry and any failure recorded for path.
func (ix *Index) Remove(path string) {
	ix.mu.Lock()
	old := ix.entries[path]
	delete(ix.entries, path)
	delete(ix.failures, path)
	ix.mu.Unlock()

	if old != nil {
		ix.invalidate(old.Fingerprint())
	}
}

// Lookup returns the entry for an absolute path.
func (ix *Index) Lookup(path string) (*Entry, bool) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entries[path]
	return e, ok
}

// ByFingerprint returns the first entry, in path order, whose content has
// the given fingerprint.
func (ix *Index) ByFingerprint(fp string) (*Entry, bool) {
	for _, e := range ix.Entries() {
		if e.Fingerprint() == fp {
			return e, true
		}
	}
	return nil, false
}

// Entries returns all entries sorted by path.
func (ix *Index) Entries() []*Entry {
	ix.mu.RLock()
	out := make([]*Entry, 0, len(ix.entries))
	for _, e := range ix.entries {
		out = append(out, e)
	}
	ix.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Failures returns a copy of the path to error side channel.
func (ix *Index) Failures() map[string]error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[string]error, len(ix.failures))
	for k, v := range ix.failures {
		out[k] = v
	}
	return out
}

// Len returns the number of indexed files.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Stats summarizes the index.
type Stats struct {
	Files    int
	States   int
	Failures int
}

// Stats returns entry and failure counts.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	s := Stats{Files: len(ix.entries), Failures: len(ix.failures)}
	for _, e := range ix.entries {
		s.States += len(e.File.States)
	}
	return s
}

// load decodes path outside the lock and publishes the result under it.
func (ix *Index) load(path string) (*Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		ix.drop(path, err)
		return nil, err
	}
	f, err := dmi.DecodeInfoFile(path)
	if err != nil {
		ix.drop(path, err)
		return nil, err
	}
	e := newEntry(f, info)

	ix.mu.Lock()
	old := ix.entries[e.Path]
	ix.entries[e.Path] = e
	delete(ix.failures, e.Path)
	ix.mu.Unlock()

	if old != nil && old.Fingerprint() != e.Fingerprint() {
		ix.invalidate(old.Fingerprint())
	}
	return e, nil
}

func (ix *Index) drop(path string, err error) {
	ix.mu.Lock()
	old := ix.entries[path]
	delete(ix.entries, path)
	ix.failures[path] = err
	ix.mu.Unlock()

	ix.opts.Reporter.Report(report.New(path, err))
	if old != nil {
		ix.invalidate(old.Fingerprint())
	}
}

func (ix *Index) fail(path string, err error) {
	ix.mu.Lock()
	ix.failures[path] = err
	ix.mu.Unlock()
	ix.opts.Reporter.Report(report.New(path, err))
}

// invalidate notifies the hook unless another live entry still shares the
// fingerprint.
func (ix *Index) invalidate(fp string) {
	if ix.opts.OnInvalidate == nil {
		return
	}
	if _, ok := ix.ByFingerprint(fp); ok {
		return
	}
	ix.opts.OnInvalidate(fp)
}

func newEntry(f *dmi.File, info os.FileInfo) *Entry {
	name := filepath.Base(f.Path)
	e := &Entry{
		Path:    f.Path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		File:    f,
		name:    encoding.FoldKey(name),
		base:    encoding.FoldKey(strings.TrimSuffix(name, filepath.Ext(name))),
		keys:    make([]string, len(f.States)),
	}
	for i := range f.States {
		e.keys[i] = encoding.FoldKey(f.States[i].Name)
	}
	return e
}

// ThumbnailRef identifies the preview image of one state of one file
// content. It stays valid across renames and goes stale when the content
// changes.
type ThumbnailRef struct {
	Fingerprint string
	State       int
}

// String encodes the reference as "<fingerprint>:<state>".
func (r ThumbnailRef) String() string {
	return r.Fingerprint + ":" + strconv.Itoa(r.State)
}

// ParseThumbnailRef decodes a reference produced by ThumbnailRef.String.
func ParseThumbnailRef(s string) (ThumbnailRef, error) {
	fp, state, ok := strings.Cut(s, ":")
	if !ok || fp == "" {
		return ThumbnailRef{}, fmt.Errorf("%w: %q", ErrBadRef, s)
	}
	n, err := strconv.Atoi(state)
	if err != nil || n < 0 {
		return ThumbnailRef{}, fmt.Errorf("%w: %q", ErrBadRef, s)
	}
	return ThumbnailRef{Fingerprint: fp, State: n}, nil
}
