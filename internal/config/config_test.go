package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaultsWhenNothingPresent(t *testing.T) {
	dir := t.TempDir()

	cfg, sources, err := LoadConfig(dir, "", Config{}, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
	require.Empty(t, sources.Global)
	require.Empty(t, sources.Project)
}

func TestLoadConfigReadsProjectFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ConfigFileName), `{
		// immutable cache capacity
		"immut_cache_capacity": 8192,
	}`)

	cfg, sources, err := LoadConfig(dir, "", Config{}, nil)
	require.NoError(t, err)
	require.Equal(t, 8192, cfg.ImmutCacheCapacity)
	require.Equal(t, filepath.Join(dir, ConfigFileName), sources.Project)
}

func TestLoadConfigExplicitPathMustExist(t *testing.T) {
	dir := t.TempDir()

	_, _, err := LoadConfig(dir, "missing.json", Config{}, nil)
	require.ErrorIs(t, err, errConfigFileNotFound)
}

func TestLoadConfigGlobalThenProjectThenCLIPrecedence(t *testing.T) {
	dir := t.TempDir()
	home := t.TempDir()

	globalDir := filepath.Join(home, ".config", "tdb")
	require.NoError(t, os.MkdirAll(globalDir, 0o755))
	writeFile(t, filepath.Join(globalDir, "config.json"), `{"immut_cache_capacity": 100, "table_initial_pages": 2}`)
	writeFile(t, filepath.Join(dir, ConfigFileName), `{"immut_cache_capacity": 200}`)

	env := []string{"HOME=" + home, "XDG_CONFIG_HOME=" + filepath.Join(home, ".config")}

	cfg, _, err := LoadConfig(dir, "", Config{MetaLogMaxSizeBytes: 4096}, env)
	require.NoError(t, err)

	require.Equal(t, 200, cfg.ImmutCacheCapacity, "project config overrides global")
	require.Equal(t, 2, cfg.TableInitialPages, "global-only field survives when project doesn't set it")
	require.Equal(t, uint64(4096), cfg.MetaLogMaxSizeBytes, "CLI override wins over both files")
}

func TestLoadConfigRejectsNegativeCapacity(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ConfigFileName), `{"immut_cache_capacity": -1}`)

	_, _, err := LoadConfig(dir, "", Config{}, nil)
	require.ErrorIs(t, err, errNegativeCacheCapacity)
}

func TestLoadConfigInvalidJSONIsReported(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ConfigFileName), `{not json`)

	_, _, err := LoadConfig(dir, "", Config{}, nil)
	require.ErrorIs(t, err, errConfigInvalid)
}

func TestFormatConfigProducesIndentedJSON(t *testing.T) {
	out, err := FormatConfig(Config{ImmutCacheCapacity: 42})
	require.NoError(t, err)
	require.Contains(t, out, "\"immut_cache_capacity\": 42")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
