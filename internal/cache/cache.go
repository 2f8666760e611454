// Package cache stores rendered artifacts on disk, keyed by the content
// fingerprint of their source file.
//
// The cache is bounded by a byte budget and evicts least recently accessed
// artifacts first. Concurrent requests for the same key share one render.
// Purging the whole cache goes through the safepath gate and refuses to
// touch anything when the directory is misconfigured.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Faultbox/dmiscope/internal/report"
	"github.com/Faultbox/dmiscope/internal/safepath"
)

// DefaultMaxBytes is the budget used when none is configured.
const DefaultMaxBytes = 256 << 20

const artifactExt = ".bin"

// errCacheMiss signals that a key has no stored artifact. It never leaves
// the package; GetOrRender turns it into a render.
var errCacheMiss = errors.New("cache miss")

// Key identifies an artifact. Kind names the render (gif, png, thumb...),
// Params holds the render parameters in a stable textual form.
type Key struct {
	Fingerprint string
	Kind        string
	Params      string
}

func (k Key) String() string {
	return k.Fingerprint + "/" + k.Kind + "?" + k.Params
}

// name returns the artifact's path relative to the cache root.
func (k Key) name() string {
	sum := sha256.Sum256([]byte(k.Params))
	fp := sanitize(k.Fingerprint)
	shard := "00"
	if len(fp) >= 2 {
		shard = fp[:2]
	}
	return filepath.Join(shard, fp+"-"+sanitize(k.Kind)+"-"+hex.EncodeToString(sum[:8])+artifactExt)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '_'
	}, s)
}

// Options configures a Cache.
type Options struct {
	Dir      string
	MaxBytes int64

	// Protected lists directories PurgeAll must never delete or contain,
	// typically the asset roots.
	Protected []string

	Reporter report.Reporter
}

// Cache is safe for concurrent use.
type Cache struct {
	dir       string
	maxBytes  int64
	protected []string
	reporter  report.Reporter

	group singleflight.Group

	mu    sync.Mutex
	lru   *list.List // front is most recently used
	items map[string]*list.Element
	size  int64

	// Stats
	hits      int64
	misses    int64
	renders   int64
	evictions int64
}

type item struct {
	name        string
	fingerprint string
	size        int64
	access      time.Time
}

// Open creates the cache directory if needed and adopts artifacts left by
// a previous run, ordered by their modification time. Adoption may evict,
// so the directory is validated against opts.Protected the same way
// PurgeAll validates it, and an unsafe directory is refused before any
// file under it is read.
func Open(opts Options) (*Cache, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, &safepath.Error{Path: opts.Dir, Reason: "cache directory is empty"}
	}
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolving cache dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	c := &Cache{
		dir:       dir,
		maxBytes:  opts.MaxBytes,
		protected: opts.Protected,
		reporter:  opts.Reporter,
		lru:       list.New(),
		items:     make(map[string]*list.Element),
	}
	if c.maxBytes <= 0 {
		c.maxBytes = DefaultMaxBytes
	}
	if c.reporter == nil {
		c.reporter = report.Discard
	}
	if err := safepath.Validate(dir, c.protected); err != nil {
		c.reporter.Report(report.Record{
			Path:    dir,
			Kind:    report.KindConfig,
			Message: "cache directory refused: " + err.Error(),
			Err:     err,
		})
		return nil, err
	}
	if err := c.adopt(); err != nil {
		return nil, err
	}
	return c, nil
}

// Dir returns the absolute cache root.
func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) adopt() error {
	shards, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("reading cache dir: %w", err)
	}

	var found []*item
	for _, shard := range shards {
		if !shard.IsDir() || !isShard(shard.Name()) {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(c.dir, shard.Name()))
		if err != nil {
			c.reporter.Report(report.New(filepath.Join(c.dir, shard.Name()), err))
			continue
		}
		for _, e := range entries {
			if !e.Type().IsRegular() || filepath.Ext(e.Name()) != artifactExt {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			fp, _, _ := strings.Cut(e.Name(), "-")
			found = append(found, &item{
				name:        filepath.Join(shard.Name(), e.Name()),
				fingerprint: fp,
				size:        info.Size(),
				access:      info.ModTime(),
			})
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].access.Before(found[j].access) })

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range found {
		c.items[it.name] = c.lru.PushFront(it)
		c.size += it.size
	}
	c.evictLocked("")
	return nil
}

// isShard reports whether name is a two-character lowercase hex directory.
func isShard(name string) bool {
	if len(name) != 2 {
		return false
	}
	for _, r := range name {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}

// Get returns the stored artifact for key and marks it as recently used.
func (c *Cache) Get(key Key) ([]byte, bool) {
	data, err := c.lookup(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Contains reports whether key is stored without touching its recency.
func (c *Cache) Contains(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key.name()]
	return ok
}

func (c *Cache) lookup(key Key) ([]byte, error) {
	name := key.name()

	c.mu.Lock()
	el, ok := c.items[name]
	c.mu.Unlock()
	if !ok {
		return nil, errCacheMiss
	}

	path := filepath.Join(c.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		// Removed behind our back; forget it.
		c.mu.Lock()
		if cur, ok := c.items[name]; ok && cur == el {
			c.removeLocked(el)
		}
		c.mu.Unlock()
		return nil, errCacheMiss
	}

	now := time.Now()
	c.mu.Lock()
	if cur, ok := c.items[name]; ok && cur == el {
		el.Value.(*item).access = now
		c.lru.MoveToFront(el)
	}
	c.mu.Unlock()
	// Persist recency for the next Open.
	os.Chtimes(path, now, now)

	return data, nil
}

// RenderFunc produces an artifact payload.
type RenderFunc func(ctx context.Context) ([]byte, error)

// GetOrRender returns the stored artifact for key, or calls render, stores
// the result and returns it. Concurrent callers with the same key wait for
// a single render; different keys render in parallel.
func (c *Cache) GetOrRender(ctx context.Context, key Key, render RenderFunc) ([]byte, error) {
	data, err := c.lookup(key)
	if err == nil {
		c.count(&c.hits)
		return data, nil
	}
	if !errors.Is(err, errCacheMiss) {
		return nil, err
	}
	c.count(&c.misses)

	v, err, _ := c.group.Do(key.name(), func() (any, error) {
		// A render for this key may have finished since the lookup.
		if data, err := c.lookup(key); err == nil {
			return data, nil
		}
		data, err := render(ctx)
		if err != nil {
			return nil, err
		}
		c.count(&c.renders)
		c.Put(key, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Cache) count(n *int64) {
	c.mu.Lock()
	*n++
	c.mu.Unlock()
}

// Put stores data under key, evicting least recently used artifacts until
// the cache fits its budget. Artifacts larger than the whole budget are not
// stored. Write failures are reported, not returned.
func (c *Cache) Put(key Key, data []byte) {
	size := int64(len(data))
	if size > c.maxBytes {
		return
	}

	name := key.name()
	path := filepath.Join(c.dir, name)
	if err := writeFile(path, data); err != nil {
		r := report.New(path, err)
		r.Key = key.String()
		c.reporter.Report(r)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[name]; ok {
		c.size -= el.Value.(*item).size
		c.lru.Remove(el)
	}
	c.items[name] = c.lru.PushFront(&item{
		name:        name,
		fingerprint: key.Fingerprint,
		size:        size,
		access:      time.Now(),
	})
	c.size += size
	c.evictLocked(name)
}

// writeFile writes through a temporary file so readers never observe a
// partial artifact.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// evictLocked removes least recently used artifacts, never keep, until the
// cache fits its budget.
func (c *Cache) evictLocked(keep string) {
	for el := c.lru.Back(); el != nil && c.size > c.maxBytes; {
		prev := el.Prev()
		if el.Value.(*item).name != keep {
			c.removeLocked(el)
			c.evictions++
		}
		el = prev
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	it := el.Value.(*item)
	c.lru.Remove(el)
	delete(c.items, it.name)
	c.size -= it.size
	if err := os.Remove(filepath.Join(c.dir, it.name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.reporter.Report(report.New(filepath.Join(c.dir, it.name), err))
	}
}

// Invalidate removes every artifact derived from the given fingerprint and
// returns how many were removed.
func (c *Cache) Invalidate(fingerprint string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for el := c.lru.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*item).fingerprint == fingerprint {
			c.removeLocked(el)
			n++
		}
		el = next
	}
	return n
}

// PurgeAll deletes every artifact under the cache root. The root is
// validated first; when it is unsafe (missing, the filesystem root, the
// home directory, or overlapping a protected directory) nothing is deleted,
// a config record is reported and the validation error returned.
func (c *Cache) PurgeAll() error {
	if err := safepath.Validate(c.dir, c.protected); err != nil {
		c.reporter.Report(report.Record{
			Path:    c.dir,
			Kind:    report.KindConfig,
			Message: "cache purge refused: " + err.Error(),
			Err:     err,
		})
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("reading cache dir: %w", err)
	}
	var errs []error
	for _, e := range entries {
		if !e.IsDir() || !isShard(e.Name()) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}

	c.lru.Init()
	c.items = make(map[string]*list.Element)
	c.size = 0
	return errors.Join(errs...)
}

// Stats describes cache usage.
type Stats struct {
	Entries   int
	Bytes     int64
	MaxBytes  int64
	Hits      int64
	Misses    int64
	Renders   int64
	Evictions int64
}

// Stats returns cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   c.lru.Len(),
		Bytes:     c.size,
		MaxBytes:  c.maxBytes,
		Hits:      c.hits,
		Misses:    c.misses,
		Renders:   c.renders,
		Evictions: c.evictions,
	}
}
