// Package config handles dmiscope configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Faultbox/dmiscope/internal/render"
	"github.com/Faultbox/dmiscope/internal/safepath"
)

// ErrInvalid is wrapped by every validation failure that is not a path
// safety problem.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all dmiscope settings.
type Config struct {
	Assets  AssetsConfig  `yaml:"assets"`
	Cache   CacheConfig   `yaml:"cache"`
	Export  ExportConfig  `yaml:"export"`
	Logging LoggingConfig `yaml:"logging"`
	Server  ServerConfig  `yaml:"server"`
}

// AssetsConfig holds the directories to scan.
type AssetsConfig struct {
	Roots      []string `yaml:"roots"`
	Extensions []string `yaml:"extensions"`
	MaxDepth   int      `yaml:"max_depth"`
	Workers    int      `yaml:"workers"` // 0 = GOMAXPROCS
}

// CacheConfig holds artifact cache settings.
type CacheConfig struct {
	Dir           string `yaml:"dir"`
	MaxBytes      int64  `yaml:"max_bytes"`
	ThumbnailSize int    `yaml:"thumbnail_size"`
}

// ExportConfig holds rendering defaults.
type ExportConfig struct {
	MinDelayCS int    `yaml:"min_delay_cs"` // GIF delay floor in 1/100 s
	Filter     string `yaml:"filter"`
	Quantizer  string `yaml:"quantizer"`
	Scale      int    `yaml:"scale"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Dir      string `yaml:"dir"`
	MaxFiles int    `yaml:"max_files"`
}

// ServerConfig holds preview server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Assets: AssetsConfig{
			Roots:      []string{"."},
			Extensions: []string{".dmi"},
			MaxDepth:   20,
			Workers:    0,
		},
		Cache: CacheConfig{
			Dir:           CacheDir(),
			MaxBytes:      256 << 20,
			ThumbnailSize: 64,
		},
		Export: ExportConfig{
			MinDelayCS: render.DefaultMinDelay,
			Filter:     string(render.Nearest),
			Quantizer:  string(render.MedianCut),
			Scale:      1,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Dir:      filepath.Join(DataDir(), "logs"),
			MaxFiles: 10,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8787",
		},
	}
}

// Validate checks values and path layout. It never touches the
// filesystem beyond resolving paths: a cache or log directory overlapping
// an asset root is rejected here so misconfiguration surfaces at startup
// rather than at the first purge.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if len(c.Assets.Roots) == 0 {
		invalid("assets.roots is empty")
	}
	if c.Assets.MaxDepth < 0 {
		invalid("assets.max_depth must not be negative")
	}
	if c.Assets.Workers < 0 {
		invalid("assets.workers must not be negative")
	}
	if strings.TrimSpace(c.Cache.Dir) == "" {
		invalid("cache.dir is empty")
	}
	if c.Cache.MaxBytes <= 0 {
		invalid("cache.max_bytes must be positive")
	}
	if c.Cache.ThumbnailSize <= 0 {
		invalid("cache.thumbnail_size must be positive")
	}
	if c.Export.MinDelayCS < 1 {
		invalid("export.min_delay_cs must be at least 1")
	}
	if c.Export.Scale < 1 {
		invalid("export.scale must be at least 1")
	}
	if _, err := render.ParseFilter(c.Export.Filter); err != nil {
		invalid("export.filter: %v", err)
	}
	if _, err := render.ParseQuantizer(c.Export.Quantizer); err != nil {
		invalid("export.quantizer: %v", err)
	}
	if c.Logging.MaxFiles < 0 {
		invalid("logging.max_files must not be negative")
	}

	for _, dir := range []struct{ key, path string }{
		{"cache.dir", c.Cache.Dir},
		{"logging.dir", c.Logging.Dir},
	} {
		if err := c.checkOverlap(dir.key, dir.path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// checkOverlap rejects a deletable directory that resolves to the
// filesystem root or the home directory, or that equals or contains an
// asset root.
func (c *Config) checkOverlap(key, dir string) error {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	d, err := filepath.Abs(dir)
	if err != nil {
		return nil
	}
	if r, err := filepath.EvalSymlinks(d); err == nil {
		d = r
	}
	if filepath.Dir(d) == d {
		return &safepath.Error{Path: dir, Reason: key + " resolves to the filesystem root"}
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		if h, err := filepath.EvalSymlinks(home); err == nil {
			home = h
		}
		if filepath.Clean(home) == d {
			return &safepath.Error{Path: dir, Reason: key + " resolves to the home directory"}
		}
	}
	for _, root := range c.Assets.Roots {
		r, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if rr, err := filepath.EvalSymlinks(r); err == nil {
			r = rr
		}
		if safepath.Contains(d, r) {
			return &safepath.Error{Path: dir, Reason: fmt.Sprintf("%s contains asset root %q", key, root)}
		}
	}
	return nil
}

// ProtectedDirs returns the directories destructive operations must never
// remove: every asset root.
func (c *Config) ProtectedDirs() []string {
	return append([]string(nil), c.Assets.Roots...)
}
