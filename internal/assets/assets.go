// Package assets composes the scanner, index, artifact cache and renderers
// into the query and export operations the front ends use.
package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/dmiscope/internal/cache"
	"github.com/Faultbox/dmiscope/internal/config"
	"github.com/Faultbox/dmiscope/internal/index"
	"github.com/Faultbox/dmiscope/internal/logger"
	"github.com/Faultbox/dmiscope/internal/render"
	"github.com/Faultbox/dmiscope/internal/report"
	"github.com/Faultbox/dmiscope/internal/scan"
	"github.com/Faultbox/dmiscope/pkg/dmi"
)

// Manager errors.
var (
	ErrNoState = errors.New("state not found")
	ErrStale   = errors.New("file changed since it was indexed")
)

// Options configures a Manager.
type Options struct {
	Roots      []string
	Extensions []string
	MaxDepth   int
	Workers    int

	CacheDir      string
	CacheMaxBytes int64
	ThumbnailSize int

	GIF render.GIFOptions

	Reporter report.Reporter
}

// OptionsFromConfig maps a validated configuration to manager options.
func OptionsFromConfig(cfg *config.Config, rep report.Reporter) (Options, error) {
	filter, err := render.ParseFilter(cfg.Export.Filter)
	if err != nil {
		return Options{}, err
	}
	q, err := render.ParseQuantizer(cfg.Export.Quantizer)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Roots:         cfg.Assets.Roots,
		Extensions:    cfg.Assets.Extensions,
		MaxDepth:      cfg.Assets.MaxDepth,
		Workers:       cfg.Assets.Workers,
		CacheDir:      cfg.Cache.Dir,
		CacheMaxBytes: cfg.Cache.MaxBytes,
		ThumbnailSize: cfg.Cache.ThumbnailSize,
		GIF: render.GIFOptions{
			MinDelay:  cfg.Export.MinDelayCS,
			Quantizer: q,
			Scale:     cfg.Export.Scale,
			Filter:    filter,
		},
		Reporter: rep,
	}, nil
}

// Manager answers searches from the index and serves rendered artifacts
// through the cache. It is safe for concurrent use.
type Manager struct {
	opts  Options
	index *index.Index
	cache *cache.Cache
}

// NewManager opens the artifact cache and creates an empty index. Call
// Scan to fill it.
func NewManager(opts Options) (*Manager, error) {
	if opts.Reporter == nil {
		opts.Reporter = report.Discard
	}
	if opts.ThumbnailSize <= 0 {
		opts.ThumbnailSize = 64
	}

	c, err := cache.Open(cache.Options{
		Dir:       opts.CacheDir,
		MaxBytes:  opts.CacheMaxBytes,
		Protected: opts.Roots,
		Reporter:  opts.Reporter,
	})
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	m := &Manager{opts: opts, cache: c}
	m.index = index.New(index.Options{
		Workers:  opts.Workers,
		Reporter: opts.Reporter,
		OnInvalidate: func(fp string) {
			if n := c.Invalidate(fp); n > 0 {
				logger.Debug("invalidated artifacts", zap.String("fingerprint", fp), zap.Int("count", n))
			}
		},
	})
	return m, nil
}

// Index returns the underlying index.
func (m *Manager) Index() *index.Index { return m.index }

// Cache returns the underlying artifact cache.
func (m *Manager) Cache() *cache.Cache { return m.cache }

// ScanResult summarizes a scan.
type ScanResult struct {
	Indexed  int
	Failed   int
	Duration time.Duration
}

// Scan walks the configured roots and indexes every DMI file found. A
// cancelled scan keeps what was indexed before cancellation.
func (m *Manager) Scan(ctx context.Context) (ScanResult, error) {
	start := time.Now()
	s := &scan.Scanner{Roots: m.opts.Roots, Extensions: m.opts.Extensions, MaxDepth: m.opts.MaxDepth}
	err := m.index.Add(ctx, s.Paths(ctx))

	res := ScanResult{
		Indexed:  m.index.Len(),
		Failed:   len(m.index.Failures()),
		Duration: time.Since(start),
	}
	logger.Info("scan complete",
		zap.Int("indexed", res.Indexed),
		zap.Int("failed", res.Failed),
		zap.Duration("took", res.Duration))
	return res, err
}

// Search returns ranked matches for query.
func (m *Manager) Search(query string) []index.Match {
	return m.index.Search(query)
}

// Entry returns the current index entry for path. Files outside the
// scanned roots are indexed on first use; changed files are re-decoded.
func (m *Manager) Entry(path string) (*index.Entry, error) {
	e, err := m.index.Fresh(path)
	if errors.Is(err, index.ErrNotIndexed) {
		return m.index.Refresh(path)
	}
	return e, err
}

// States returns the icon states declared by the file at path.
func (m *Manager) States(path string) ([]dmi.State, error) {
	e, err := m.Entry(path)
	if err != nil {
		return nil, err
	}
	return append([]dmi.State(nil), e.File.States...), nil
}

// Refresh re-decodes path and drops cached artifacts of its old content.
func (m *Manager) Refresh(path string) error {
	_, err := m.index.Refresh(path)
	return err
}

// Purge deletes every cached artifact. It refuses when the cache directory
// is unsafe to delete.
func (m *Manager) Purge() error {
	return m.cache.PurgeAll()
}

// Stats combines index and cache statistics.
type Stats struct {
	Index index.Stats
	Cache cache.Stats
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	return Stats{Index: m.index.Stats(), Cache: m.cache.Stats()}
}

// Thumbnail returns the PNG preview a search match refers to.
func (m *Manager) Thumbnail(ctx context.Context, ref index.ThumbnailRef) ([]byte, error) {
	e, ok := m.index.ByFingerprint(ref.Fingerprint)
	if !ok {
		return nil, fmt.Errorf("%w: no file with fingerprint %s", ErrStale, ref.Fingerprint)
	}
	if cur, err := m.index.Fresh(e.Path); err != nil || cur.Fingerprint() != ref.Fingerprint {
		return nil, fmt.Errorf("%w: %s", ErrStale, e.Path)
	}
	if ref.State >= len(e.File.States) {
		return nil, fmt.Errorf("%w: state index %d", ErrNoState, ref.State)
	}

	size := m.opts.ThumbnailSize
	key := cache.Key{
		Fingerprint: ref.Fingerprint,
		Kind:        "thumb",
		Params:      fmt.Sprintf("state=%d;size=%d", ref.State, size),
	}
	return m.cache.GetOrRender(ctx, key, func(ctx context.Context) ([]byte, error) {
		f, err := m.decode(e.Path, ref.Fingerprint)
		if err != nil {
			return nil, err
		}
		fr, err := f.Frame(ref.State, dmi.South, 0)
		if err != nil {
			return nil, err
		}
		thumb, err := render.Thumbnail(fr.Image, size)
		if err != nil {
			return nil, err
		}
		return render.PNGBytes(thumb)
	})
}

// GIFOptions returns the configured GIF export options.
func (m *Manager) GIFOptions() render.GIFOptions { return m.opts.GIF }

// Export renders direction d of state as an animated GIF with the
// configured options.
func (m *Manager) Export(ctx context.Context, path, state string, d dmi.Direction) ([]byte, error) {
	return m.ExportWith(ctx, path, state, d, m.opts.GIF)
}

// ExportWith renders direction d of state as an animated GIF.
func (m *Manager) ExportWith(ctx context.Context, path, state string, d dmi.Direction, opts render.GIFOptions) ([]byte, error) {
	if opts.Scale < 1 {
		opts.Scale = 1
	}
	if opts.MinDelay <= 0 {
		opts.MinDelay = render.DefaultMinDelay
	}
	if opts.Quantizer == "" {
		opts.Quantizer = render.MedianCut
	}
	if opts.Filter == "" {
		opts.Filter = render.Nearest
	}
	params := fmt.Sprintf("dir=%d;scale=%d;filter=%s;quantizer=%s;min=%d", d, opts.Scale, opts.Filter, opts.Quantizer, opts.MinDelay)

	return m.renderState(ctx, path, state, "gif", params, func(f *dmi.File, idx int) ([]byte, error) {
		a, err := render.NewAnimation(f, idx, d)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := render.EncodeGIF(&buf, a, opts); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
}

// ExportFrame renders a single frame of direction d of state as a PNG.
func (m *Manager) ExportFrame(ctx context.Context, path, state string, d dmi.Direction, frame int) ([]byte, error) {
	params := fmt.Sprintf("dir=%d;frame=%d", d, frame)
	return m.renderState(ctx, path, state, "frame", params, func(f *dmi.File, idx int) ([]byte, error) {
		fr, err := f.Frame(idx, d, frame)
		if err != nil {
			return nil, err
		}
		return render.PNGBytes(fr.Image)
	})
}

// ExportStrip renders the playback sequence of direction d of state as a
// horizontal PNG strip.
func (m *Manager) ExportStrip(ctx context.Context, path, state string, d dmi.Direction) ([]byte, error) {
	params := fmt.Sprintf("dir=%d", d)
	return m.renderState(ctx, path, state, "strip", params, func(f *dmi.File, idx int) ([]byte, error) {
		a, err := render.NewAnimation(f, idx, d)
		if err != nil {
			return nil, err
		}
		return render.PNGBytes(render.Strip(a.Frames))
	})
}

// Sheet returns the decoded sprite sheet of the file at path.
func (m *Manager) Sheet(path string) (image.Image, error) {
	e, err := m.Entry(path)
	if err != nil {
		return nil, err
	}
	f, err := m.decode(e.Path, e.Fingerprint())
	if err != nil {
		return nil, err
	}
	return f.Sheet(), nil
}

type renderFunc func(f *dmi.File, state int) ([]byte, error)

// renderState resolves path and state against the live file and serves
// the artifact from the cache, rendering it on a miss.
func (m *Manager) renderState(ctx context.Context, path, state, kind, params string, fn renderFunc) ([]byte, error) {
	e, err := m.Entry(path)
	if err != nil {
		return nil, err
	}
	idx, ok := e.File.State(state)
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrNoState, state, e.Path)
	}

	key := cache.Key{
		Fingerprint: e.Fingerprint(),
		Kind:        kind,
		Params:      fmt.Sprintf("state=%d;%s", idx, params),
	}
	return m.cache.GetOrRender(ctx, key, func(ctx context.Context) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := m.decode(e.Path, e.Fingerprint())
		if err != nil {
			return nil, err
		}
		return fn(f, idx)
	})
}

// decode reads the file with pixels and checks it still has the expected
// fingerprint. On mismatch the index is refreshed and ErrStale returned so
// an artifact is never built from content other than its key's.
func (m *Manager) decode(path, fingerprint string) (*dmi.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		m.index.Refresh(path)
		return nil, fmt.Errorf("reading DMI file: %w", err)
	}
	if dmi.Fingerprint(data) != fingerprint {
		m.index.Refresh(path)
		return nil, fmt.Errorf("%w: %s", ErrStale, path)
	}
	f, err := dmi.Decode(data)
	if err != nil {
		return nil, err
	}
	f.Path = path
	return f, nil
}
