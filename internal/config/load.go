package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads configuration with priority: defaults < file < flags.
// flags may be nil.
func Load(flags *Flags) (*Config, error) {
	// Start with defaults
	cfg := Default()

	// Try to load from file (explicit path takes priority)
	configPath := ""
	if flags != nil {
		configPath = flags.Config
	}
	if configPath == "" {
		configPath = findConfigFile()
	}

	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", configPath, err)
		}
	}

	// Apply CLI flags (highest priority)
	if flags != nil {
		flags.apply(cfg)
	}

	cfg.expandPaths()
	return cfg, nil
}

// findConfigFile looks for config in standard locations.
func findConfigFile() string {
	candidates := []string{
		"./dmiscope.yaml",
		filepath.Join(ConfigDir(), "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ConfigDir returns the OS-appropriate config directory.
func ConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "dmiscope")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "dmiscope")
	default: // Linux and others
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "dmiscope")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "dmiscope")
	}
}

// CacheDir returns the OS-appropriate artifact cache directory.
func CacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "dmiscope")
	}
	return filepath.Join(os.TempDir(), "dmiscope-cache")
}

// DataDir returns the OS-appropriate data directory, used for logs.
func DataDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Logs", "dmiscope")
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "dmiscope")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "dmiscope")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "dmiscope")
	}
}

// loadFromFile loads config from a YAML file, merging with existing values.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// expandPaths replaces a leading ~ with the home directory.
func (c *Config) expandPaths() {
	for i, r := range c.Assets.Roots {
		c.Assets.Roots[i] = expandHome(r)
	}
	c.Cache.Dir = expandHome(c.Cache.Dir)
	c.Logging.Dir = expandHome(c.Logging.Dir)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
