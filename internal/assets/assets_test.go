package assets

import (
	"bytes"
	"context"
	"errors"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Faultbox/dmiscope/internal/config"
	"github.com/Faultbox/dmiscope/internal/dmitest"
	"github.com/Faultbox/dmiscope/internal/report"
	"github.com/Faultbox/dmiscope/internal/safepath"
	"github.com/Faultbox/dmiscope/pkg/dmi"
)

func newManager(t *testing.T) (*Manager, string, *report.Collector) {
	t.Helper()
	root := t.TempDir()
	icons := dmitest.Tree(t, root)

	rep := &report.Collector{}
	m, err := NewManager(Options{
		Roots:    []string{root},
		CacheDir: filepath.Join(t.TempDir(), "cache"),
		Reporter: rep,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if _, err := m.Scan(context.Background()); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	return m, icons, rep
}

func TestScanAndSearch(t *testing.T) {
	m, icons, _ := newManager(t)

	s := m.Stats()
	if s.Index.Files != 2 || s.Index.Failures != 0 {
		t.Fatalf("unexpected index stats %+v", s.Index)
	}

	matches := m.Search("wal")
	if len(matches) == 0 || matches[0].Path != filepath.Join(icons, "human.dmi") || matches[0].State != "walk" {
		t.Errorf("unexpected matches %+v", matches)
	}
	if len(m.Search("door")) != 1 {
		t.Errorf("expected exactly one door match")
	}
}

func TestExport_CachedAndValid(t *testing.T) {
	m, icons, _ := newManager(t)
	human := filepath.Join(icons, "human.dmi")

	data, err := m.Export(context.Background(), human, "walk", dmi.West)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("exported GIF does not decode: %v", err)
	}
	if len(g.Image) != 4 || g.LoopCount != 0 {
		t.Errorf("expected 4 frames looping forever, got %d frames loop %d", len(g.Image), g.LoopCount)
	}

	again, err := m.Export(context.Background(), human, "walk", dmi.West)
	if err != nil || !bytes.Equal(again, data) {
		t.Fatalf("second export differs: %v", err)
	}
	if s := m.Stats().Cache; s.Renders != 1 || s.Hits != 1 {
		t.Errorf("expected one render and one hit, got %+v", s)
	}
}

func TestExport_Errors(t *testing.T) {
	m, icons, _ := newManager(t)
	human := filepath.Join(icons, "human.dmi")

	if _, err := m.Export(context.Background(), human, "run", dmi.South); !errors.Is(err, ErrNoState) {
		t.Errorf("expected ErrNoState, got %v", err)
	}
	if _, err := m.Export(context.Background(), human, "idle", dmi.East); err == nil {
		t.Error("expected error for a direction idle does not have")
	}
	if _, err := m.Export(context.Background(), filepath.Join(icons, "missing.dmi"), "idle", dmi.South); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestExport_UnscannedFile(t *testing.T) {
	m, _, _ := newManager(t)
	outside := dmitest.WriteFile(t, filepath.Join(t.TempDir(), "extra.dmi"), dmitest.Door)

	if _, err := m.ExportFrame(context.Background(), outside, "closed", dmi.South, 0); err != nil {
		t.Fatalf("ExportFrame() error = %v", err)
	}
	if _, ok := m.Index().Lookup(outside); !ok {
		t.Error("expected file to be indexed on first use")
	}
}

func TestExport_ChangedFileNotServedFromCache(t *testing.T) {
	m, icons, _ := newManager(t)
	path := filepath.Join(icons, "sub", "door.dmi")

	first, err := m.ExportFrame(context.Background(), path, "closed", dmi.South, 0)
	if err != nil {
		t.Fatalf("ExportFrame() error = %v", err)
	}
	old, _ := m.Index().Lookup(path)

	// Same state name, different geometry and pixels.
	dmitest.WriteFile(t, path, `# BEGIN DMI
version = 4.0
	width = 8
	height = 8
state = "closed"
	dirs = 1
	frames = 1
# END DMI
`)
	later := time.Now().Add(time.Minute)
	os.Chtimes(path, later, later)

	second, err := m.ExportFrame(context.Background(), path, "closed", dmi.South, 0)
	if err != nil {
		t.Fatalf("ExportFrame() error = %v", err)
	}
	if bytes.Equal(first, second) {
		t.Fatal("expected a fresh render after the file changed")
	}
	img, err := png.Decode(bytes.NewReader(second))
	if err != nil || img.Bounds().Dx() != 8 {
		t.Errorf("expected 8px frame, got %v, %v", img.Bounds(), err)
	}
	if n := m.Cache().Invalidate(old.Fingerprint()); n != 0 {
		t.Errorf("expected artifacts of the old content to be gone, %d left", n)
	}
}

func TestThumbnail(t *testing.T) {
	m, _, _ := newManager(t)
	matches := m.Search("door")
	if len(matches) != 1 || matches[0].Thumbnail == nil {
		t.Fatalf("expected a thumbnail reference, got %+v", matches)
	}

	data, err := m.Thumbnail(context.Background(), *matches[0].Thumbnail)
	if err != nil {
		t.Fatalf("Thumbnail() error = %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("thumbnail does not decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
		t.Errorf("expected 64x64 thumbnail, got %v", b)
	}

	ref := *matches[0].Thumbnail
	ref.Fingerprint = "deadbeef"
	if _, err := m.Thumbnail(context.Background(), ref); !errors.Is(err, ErrStale) {
		t.Errorf("expected ErrStale for unknown content, got %v", err)
	}
}

func TestExportStripAndStates(t *testing.T) {
	m, icons, _ := newManager(t)
	human := filepath.Join(icons, "human.dmi")

	states, err := m.States(human)
	if err != nil || len(states) != 2 || states[1].Name != "walk" || states[1].Dirs != 4 {
		t.Fatalf("States() = %+v, %v", states, err)
	}

	data, err := m.ExportStrip(context.Background(), human, "idle", dmi.South)
	if err != nil {
		t.Fatalf("ExportStrip() error = %v", err)
	}
	img, _ := png.Decode(bytes.NewReader(data))
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 4 {
		t.Errorf("expected 8x4 strip, got %v", b)
	}

	sheet, err := m.Sheet(human)
	if err != nil || sheet.Bounds().Dx() != 20 {
		t.Errorf("Sheet() = %v, %v", sheet.Bounds(), err)
	}
}

func TestPurge(t *testing.T) {
	m, icons, _ := newManager(t)
	m.Export(context.Background(), filepath.Join(icons, "human.dmi"), "idle", dmi.South)

	if err := m.Purge(); err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if m.Stats().Cache.Entries != 0 {
		t.Error("expected empty cache after purge")
	}
}

func TestNewManager_RefusesCacheInAssetRoot(t *testing.T) {
	root := t.TempDir()
	dmitest.Tree(t, root)
	// A leftover artifact that adoption would evict under a tiny budget.
	stray := filepath.Join(root, "ab", "savegame.bin")
	os.MkdirAll(filepath.Dir(stray), 0755)
	os.WriteFile(stray, make([]byte, 100), 0644)

	rep := &report.Collector{}
	_, err := NewManager(Options{Roots: []string{root}, CacheDir: root, CacheMaxBytes: 10, Reporter: rep})
	if !errors.Is(err, safepath.ErrUnsafePath) {
		t.Fatalf("expected ErrUnsafePath, got %v", err)
	}
	if rep.Count(report.KindConfig) != 1 {
		t.Errorf("expected a config record, got %v", rep.Records())
	}
	for _, f := range []string{stray, filepath.Join(root, "icons", "human.dmi")} {
		if _, err := os.Stat(f); err != nil {
			t.Errorf("%s must survive: %v", f, err)
		}
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Export.Filter = "catmullrom"
	cfg.Export.Scale = 2

	opts, err := OptionsFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("OptionsFromConfig() error = %v", err)
	}
	if opts.GIF.Filter != "catmullrom" || opts.GIF.Scale != 2 || opts.CacheMaxBytes != cfg.Cache.MaxBytes {
		t.Errorf("unexpected options %+v", opts)
	}

	cfg.Export.Quantizer = "octree"
	if _, err := OptionsFromConfig(cfg, nil); err == nil {
		t.Error("expected error for unknown quantizer")
	}
}
