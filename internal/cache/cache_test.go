package cache

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Faultbox/dmiscope/internal/report"
	"github.com/Faultbox/dmiscope/internal/safepath"
)

func openCache(t *testing.T, maxBytes int64) *Cache {
	t.Helper()
	c, err := Open(Options{Dir: t.TempDir(), MaxBytes: maxBytes})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return c
}

func key(fp, params string) Key {
	return Key{Fingerprint: fp, Kind: "gif", Params: params}
}

func TestGetOrRender_SingleRenderPerKey(t *testing.T) {
	c := openCache(t, 1<<20)
	k := key("aabbcc", "state=walk")

	var calls atomic.Int32
	render := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return []byte("payload"), nil
	}

	const n = 32
	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make([][]byte, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = c.GetOrRender(context.Background(), k, render)
		}(i)
	}
	close(start)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 render, got %d", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil || string(results[i]) != "payload" {
			t.Errorf("caller %d got %q, %v", i, results[i], errs[i])
		}
	}

	// A later call is served from disk.
	if _, err := c.GetOrRender(context.Background(), k, render); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Error("expected cached artifact to be reused")
	}
	if s := c.Stats(); s.Renders != 1 || s.Entries != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestGetOrRender_DifferentKeysInParallel(t *testing.T) {
	c := openCache(t, 1<<20)
	aStarted := make(chan struct{})
	bStarted := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.GetOrRender(context.Background(), key("aa", "1"), func(context.Context) ([]byte, error) {
			close(aStarted)
			select {
			case <-bStarted:
			case <-time.After(2 * time.Second):
				t.Error("render for the second key never started")
			}
			return []byte("a"), nil
		})
	}()
	go func() {
		defer wg.Done()
		<-aStarted
		c.GetOrRender(context.Background(), key("bb", "1"), func(context.Context) ([]byte, error) {
			close(bStarted)
			return []byte("b"), nil
		})
	}()
	wg.Wait()
}

func TestGetOrRender_ErrorNotCached(t *testing.T) {
	c := openCache(t, 1<<20)
	k := key("aa", "1")
	boom := errors.New("boom")

	if _, err := c.GetOrRender(context.Background(), k, func(context.Context) ([]byte, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected render error, got %v", err)
	}
	if c.Contains(k) {
		t.Error("failed render must not be stored")
	}
}

func TestEviction_LeastRecentlyUsedFirst(t *testing.T) {
	c := openCache(t, 30)
	a, b, cc, d := key("aa", "a"), key("bb", "b"), key("cc", "c"), key("dd", "d")
	payload := bytes.Repeat([]byte("x"), 10)

	c.Put(a, payload)
	c.Put(b, payload)
	c.Put(cc, payload)
	if _, ok := c.Get(a); !ok {
		t.Fatal("expected a to be cached")
	}
	c.Put(d, payload)

	if c.Contains(b) {
		t.Error("expected b, the least recently used, to be evicted")
	}
	for _, k := range []Key{a, cc, d} {
		if !c.Contains(k) {
			t.Errorf("expected %s to survive", k)
		}
	}
	if _, err := os.Stat(filepath.Join(c.Dir(), b.name())); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected evicted file to be removed, stat err = %v", err)
	}
	if s := c.Stats(); s.Bytes != 30 || s.Evictions != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestPut_OversizeNotStored(t *testing.T) {
	c := openCache(t, 5)
	k := key("aa", "big")

	data, err := c.GetOrRender(context.Background(), k, func(context.Context) ([]byte, error) {
		return []byte("0123456789"), nil
	})
	if err != nil || string(data) != "0123456789" {
		t.Fatalf("GetOrRender() = %q, %v", data, err)
	}
	if c.Contains(k) {
		t.Error("artifact larger than the budget must not be stored")
	}
}

func TestOpen_AdoptsExistingArtifacts(t *testing.T) {
	dir := t.TempDir()
	c, _ := Open(Options{Dir: dir, MaxBytes: 100})
	c.Put(key("aa", "1"), []byte("one"))
	c.Put(key("bb", "2"), []byte("two"))

	reopened, err := Open(Options{Dir: dir, MaxBytes: 100})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if s := reopened.Stats(); s.Entries != 2 || s.Bytes != 6 {
		t.Errorf("expected 2 adopted artifacts, got %+v", s)
	}
	if data, ok := reopened.Get(key("bb", "2")); !ok || string(data) != "two" {
		t.Errorf("Get() = %q, %v", data, ok)
	}

	if n := reopened.Invalidate("aa"); n != 1 {
		t.Errorf("expected adopted artifact to keep its fingerprint, removed %d", n)
	}
}

func TestGet_FileRemovedExternally(t *testing.T) {
	c := openCache(t, 100)
	k := key("aa", "1")
	c.Put(k, []byte("data"))
	os.Remove(filepath.Join(c.Dir(), k.name()))

	if _, ok := c.Get(k); ok {
		t.Error("expected miss after external removal")
	}
	if c.Stats().Entries != 0 {
		t.Error("expected stale entry to be forgotten")
	}
}

func TestInvalidate(t *testing.T) {
	c := openCache(t, 1000)
	c.Put(Key{Fingerprint: "aa", Kind: "gif", Params: "walk"}, []byte("1"))
	c.Put(Key{Fingerprint: "aa", Kind: "thumb", Params: "0"}, []byte("2"))
	c.Put(Key{Fingerprint: "bb", Kind: "gif", Params: "walk"}, []byte("3"))

	if n := c.Invalidate("aa"); n != 2 {
		t.Errorf("Invalidate() = %d, want 2", n)
	}
	if c.Contains(Key{Fingerprint: "aa", Kind: "gif", Params: "walk"}) {
		t.Error("expected invalidated artifact to be gone")
	}
	if !c.Contains(Key{Fingerprint: "bb", Kind: "gif", Params: "walk"}) {
		t.Error("expected unrelated artifact to survive")
	}
}

func TestOpen_RefusesUnsafeDir(t *testing.T) {
	base := t.TempDir()
	assetRoot := filepath.Join(base, "icons")
	// Adoption would evict this file under a 10 byte budget.
	save := filepath.Join(assetRoot, "ab", "savegame.bin")
	os.MkdirAll(filepath.Dir(save), 0755)
	os.WriteFile(save, make([]byte, 100), 0644)
	asset := filepath.Join(assetRoot, "human.dmi")
	os.WriteFile(asset, []byte("icon"), 0644)

	home := filepath.Join(base, "home")
	os.MkdirAll(filepath.Join(home, "ab"), 0755)
	homeSave := filepath.Join(home, "ab", "notes.bin")
	os.WriteFile(homeSave, make([]byte, 100), 0644)
	t.Setenv("HOME", home)

	link := filepath.Join(base, "link")
	if err := os.Symlink(assetRoot, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	rootLink := filepath.Join(base, "rootlink")
	os.Symlink("/", rootLink)

	tests := []struct {
		name string
		dir  string
	}{
		{"asset root", assetRoot},
		{"filesystem root", "/"},
		{"home directory", home},
		{"symlink to asset root", link},
		{"symlink to filesystem root", rootLink},
		{"ancestor of asset root", base},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := &report.Collector{}
			c, err := Open(Options{Dir: tt.dir, MaxBytes: 10, Protected: []string{assetRoot}, Reporter: rep})
			if !errors.Is(err, safepath.ErrUnsafePath) {
				t.Fatalf("expected ErrUnsafePath, got %v", err)
			}
			var perr *safepath.Error
			if !errors.As(err, &perr) {
				t.Errorf("expected *safepath.Error, got %T", err)
			}
			if c != nil {
				t.Error("refused Open must not return a cache")
			}
			if rep.Count(report.KindConfig) != 1 {
				t.Errorf("expected a config record, got %v", rep.Records())
			}
			for _, f := range []string{save, asset, homeSave} {
				if _, err := os.Stat(f); err != nil {
					t.Errorf("%s must survive a refused Open: %v", f, err)
				}
			}
		})
	}
}

func TestPurgeAll_Refuses(t *testing.T) {
	base := t.TempDir()
	assetRoot := filepath.Join(base, "icons")
	os.MkdirAll(filepath.Join(assetRoot, "ab"), 0755)
	asset := filepath.Join(assetRoot, "ab", "human.bin")
	os.WriteFile(asset, []byte("icon"), 0644)

	tests := []struct {
		name    string
		replace func(t *testing.T, dir string)
	}{
		{"retargeted to asset root", func(t *testing.T, dir string) {
			if err := os.Symlink(assetRoot, dir); err != nil {
				t.Skipf("symlinks unsupported: %v", err)
			}
		}},
		{"retargeted to filesystem root", func(t *testing.T, dir string) {
			if err := os.Symlink("/", dir); err != nil {
				t.Skipf("symlinks unsupported: %v", err)
			}
		}},
		{"removed", func(t *testing.T, dir string) {}},
		{"replaced by a file", func(t *testing.T, dir string) {
			os.WriteFile(dir, []byte("x"), 0644)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "cache")
			rep := &report.Collector{}
			c, err := Open(Options{Dir: dir, Protected: []string{assetRoot}, Reporter: rep})
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			c.Put(key("aa", "1"), []byte("one"))
			before := c.Stats().Entries

			os.RemoveAll(dir)
			tt.replace(t, dir)

			err = c.PurgeAll()
			if !errors.Is(err, safepath.ErrUnsafePath) {
				t.Fatalf("expected ErrUnsafePath, got %v", err)
			}
			if rep.Count(report.KindConfig) != 1 {
				t.Errorf("expected a config record, got %v", rep.Records())
			}
			if _, err := os.Stat(asset); err != nil {
				t.Errorf("asset must survive a refused purge: %v", err)
			}
			if c.Stats().Entries != before {
				t.Error("refused purge must not change cache state")
			}
		})
	}
}

func TestPurgeAll(t *testing.T) {
	assetRoot := t.TempDir()
	c, _ := Open(Options{Dir: t.TempDir(), Protected: []string{assetRoot}})
	c.Put(key("aa", "1"), []byte("one"))
	c.Put(key("bb", "2"), []byte("two"))
	foreign := filepath.Join(c.Dir(), "notes.txt")
	os.WriteFile(foreign, []byte("keep"), 0644)

	if err := c.PurgeAll(); err != nil {
		t.Fatalf("PurgeAll() error = %v", err)
	}
	if s := c.Stats(); s.Entries != 0 || s.Bytes != 0 {
		t.Errorf("expected empty cache, got %+v", s)
	}
	if _, err := os.Stat(filepath.Join(c.Dir(), "aa")); !errors.Is(err, os.ErrNotExist) {
		t.Error("expected shard directory to be removed")
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Error("files the cache does not own must survive")
	}
}

func TestOpen_EmptyDir(t *testing.T) {
	if _, err := Open(Options{Dir: " "}); !errors.Is(err, safepath.ErrUnsafePath) {
		t.Errorf("expected ErrUnsafePath, got %v", err)
	}
}
