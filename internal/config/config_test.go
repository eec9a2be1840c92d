package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, AutoloadLazy, cfg.Autoload)
	assert.Equal(t, uint32(100), cfg.RateLimitCapacity)
	assert.Equal(t, 4, cfg.StartupParallelism)
}

func TestLoad_OverridesDefaultsAndFillsDerivedDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plugin_dir: /plugins\nautoload: eager\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/plugins", cfg.PluginDir)
	assert.Equal(t, AutoloadEager, cfg.Autoload)
	assert.Equal(t, uint32(100), cfg.RateLimitCapacity, "omitted fields keep Default()'s values")
	assert.Equal(t, "/plugins/.wassette_cache", cfg.CacheDir)
	assert.NotEmpty(t, cfg.SecretsDir)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
