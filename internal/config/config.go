// Package config resolves the tunables a production embedding of the store
// would want adjustable but the storage engine itself leaves as constants:
// the immutable cache's capacity, the meta log's rewrite threshold, and the
// object table's initial page count. Resolution is two-tier (global then
// project config file, both JWCC-via-hujson) with CLI overrides applied
// last.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
)

// Config holds every tunable a database directory can override.
type Config struct {
	// ImmutCacheCapacity is the bounded LRU capacity for the immutable
	// object cache. Zero means "use the package default".
	ImmutCacheCapacity int `json:"immut_cache_capacity,omitempty"` //nolint:tagliatelle // snake_case for config file

	// MetaLogMaxSizeBytes overrides the meta log rewrite threshold (default
	// 2 MiB). Zero means "use the package default".
	MetaLogMaxSizeBytes uint64 `json:"meta_log_max_size_bytes,omitempty"` //nolint:tagliatelle

	// TableInitialPages pre-extends the object table to this many pages at
	// Open. Zero means "grow lazily".
	TableInitialPages int `json:"table_initial_pages,omitempty"` //nolint:tagliatelle
}

// ConfigFileName is the default project config file name.
const ConfigFileName = ".tdb.json"

// DefaultConfig returns the configuration used when no config file is
// present anywhere in the resolution chain.
func DefaultConfig() Config {
	return Config{}
}

// ConfigSources tracks which config files were loaded.
type ConfigSources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project config if loaded, empty otherwise
}

// getGlobalConfigPath returns the path to the global config file.
// Uses $XDG_CONFIG_HOME/tdb/config.json if set, otherwise
// ~/.config/tdb/config.json. Returns empty string if the home directory
// cannot be determined.
func getGlobalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok {
			return filepath.Join(after, "tdb", "config.json")
		}
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "tdb", "config.json")
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "tdb", "config.json")
	}

	return ""
}

// LoadConfig loads configuration with the following precedence (highest
// wins):
//  1. Defaults
//  2. Global user config (~/.config/tdb/config.json or
//     $XDG_CONFIG_HOME/tdb/config.json)
//  3. Project config file at dir/.tdb.json, or an explicit configPath
//  4. CLI overrides
func LoadConfig(dir, configPath string, cliOverrides Config, env []string) (Config, ConfigSources, error) {
	cfg := DefaultConfig()

	var sources ConfigSources

	globalCfg, globalPath, err := loadGlobalConfig(env)
	if err != nil {
		return Config{}, ConfigSources{}, err
	}
	sources.Global = globalPath
	cfg = mergeConfig(cfg, globalCfg)

	projectCfg, projectPath, err := loadProjectConfig(dir, configPath)
	if err != nil {
		return Config{}, ConfigSources{}, err
	}
	sources.Project = projectPath
	cfg = mergeConfig(cfg, projectCfg)

	cfg = mergeConfig(cfg, cliOverrides)

	if err := validateConfig(cfg); err != nil {
		return Config{}, ConfigSources{}, err
	}

	return cfg, sources, nil
}

func loadGlobalConfig(env []string) (Config, string, error) {
	path := getGlobalConfigPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadConfigFile(path, false)
	if err != nil {
		return Config{}, "", err
	}
	if !loaded {
		return Config{}, "", nil
	}

	return cfg, path, nil
}

func loadProjectConfig(dir, configPath string) (Config, string, error) {
	var cfgFile string
	var mustExist bool

	if configPath != "" {
		cfgFile = configPath
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(dir, cfgFile)
		}
		mustExist = true

		if _, statErr := os.Stat(cfgFile); statErr != nil {
			return Config{}, "", fmt.Errorf("%w: %s", errConfigFileNotFound, configPath)
		}
	} else {
		cfgFile = filepath.Join(dir, ConfigFileName)
		mustExist = false
	}

	cfg, loaded, err := loadConfigFile(cfgFile, mustExist)
	if err != nil {
		return Config{}, "", err
	}
	if !loaded {
		return Config{}, "", nil
	}

	return cfg, cfgFile, nil
}

// loadConfigFile loads a config file. If mustExist is false, a missing file
// is not an error and returns a zero config.
func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}
		if mustExist {
			return Config{}, false, fmt.Errorf("%w: %s", errConfigFileRead, path)
		}
		return Config{}, false, nil
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func parseConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.ImmutCacheCapacity != 0 {
		base.ImmutCacheCapacity = overlay.ImmutCacheCapacity
	}
	if overlay.MetaLogMaxSizeBytes != 0 {
		base.MetaLogMaxSizeBytes = overlay.MetaLogMaxSizeBytes
	}
	if overlay.TableInitialPages != 0 {
		base.TableInitialPages = overlay.TableInitialPages
	}

	return base
}

func validateConfig(cfg Config) error {
	if cfg.ImmutCacheCapacity < 0 {
		return errNegativeCacheCapacity
	}
	if cfg.TableInitialPages < 0 {
		return errNegativeTablePages
	}

	return nil
}

// FormatConfig returns cfg as formatted JSON, the way a "print effective
// config" command would display it.
func FormatConfig(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("formatting config: %w", err)
	}

	return string(data), nil
}
