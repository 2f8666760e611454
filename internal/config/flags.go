package config

import "github.com/spf13/pflag"

// Flags holds command-line overrides. Zero values leave the loaded
// configuration untouched.
type Flags struct {
	Config        string
	Debug         bool
	Roots         []string
	CacheDir      string
	CacheMaxBytes int64
	LogDir        string
	Workers       int
}

// BindFlags registers the configuration flags on fs.
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.Config, "config", "", "Path to config file")
	fs.BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	fs.StringArrayVar(&f.Roots, "root", nil, "Asset root directory (repeatable)")
	fs.StringVar(&f.CacheDir, "cache-dir", "", "Artifact cache directory")
	fs.Int64Var(&f.CacheMaxBytes, "cache-max-bytes", 0, "Artifact cache size limit in bytes")
	fs.StringVar(&f.LogDir, "log-dir", "", "Log directory")
	fs.IntVar(&f.Workers, "workers", 0, "Concurrent decoders (0 = number of CPUs)")
	return f
}

// apply applies CLI flag overrides to the config.
func (f *Flags) apply(cfg *Config) {
	if f.Debug {
		cfg.Logging.Level = "debug"
	}
	if len(f.Roots) > 0 {
		cfg.Assets.Roots = append([]string(nil), f.Roots...)
	}
	if f.CacheDir != "" {
		cfg.Cache.Dir = f.CacheDir
	}
	if f.CacheMaxBytes > 0 {
		cfg.Cache.MaxBytes = f.CacheMaxBytes
	}
	if f.LogDir != "" {
		cfg.Logging.Dir = f.LogDir
	}
	if f.Workers > 0 {
		cfg.Assets.Workers = f.Workers
	}
}
