// Package config loads the small process-wide configuration document that
// governs plugin discovery, autoload behavior, rate limiting defaults, and
// signature-verification enforcement. It intentionally carries no
// business logic: every field maps to a knob consumed by exactly one
// subsystem.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AutoloadMode controls how the lifecycle manager populates its registry on
// startup.
type AutoloadMode string

const (
	AutoloadEager AutoloadMode = "eager"
	AutoloadLazy  AutoloadMode = "lazy"
	AutoloadOff   AutoloadMode = "off"
)

// Config is the top-level process configuration, normally loaded from a YAML
// file alongside the plugin directory.
type Config struct {
	// PluginDir is the on-disk directory holding *.wasm artifacts and their
	// sibling *.policy.yaml files. Defaults to the current directory.
	PluginDir string `yaml:"plugin_dir"`

	// SecretsDir is the user-private directory SecretMaps are persisted
	// under. Defaults to "<user-config-dir>/wassette/secrets".
	SecretsDir string `yaml:"secrets_dir"`

	// CacheDir is the wazero persistent compilation cache directory.
	// Defaults to "<plugin_dir>/.wassette_cache".
	CacheDir string `yaml:"cache_dir"`

	Autoload           AutoloadMode `yaml:"autoload"`
	StartupParallelism int          `yaml:"startup_parallelism"`

	// RateLimitCapacity is the token bucket capacity per client identity.
	RateLimitCapacity uint32 `yaml:"rate_limit_capacity"`

	Signature SignatureConfig `yaml:"signature"`
}

// SignatureConfig controls OCI artifact signature verification.
type SignatureConfig struct {
	Enforce       bool     `yaml:"enforce"`
	TrustedKeys   []string `yaml:"trusted_keys"`
	TrustedCerts  []string `yaml:"trusted_certs"`
	AllowFulcio   bool     `yaml:"allow_fulcio"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		PluginDir:          ".",
		Autoload:           AutoloadLazy,
		StartupParallelism: 4,
		RateLimitCapacity:  100,
	}
}

// Load reads a YAML configuration file at path, starting from Default() so
// omitted fields keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	if cfg.SecretsDir == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = "."
		}
		cfg.SecretsDir = dir + "/wassette/secrets"
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = cfg.PluginDir + "/.wassette_cache"
	}
	return cfg, nil
}
