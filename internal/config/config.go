// Package config loads and saves the document store's on-disk JSON
// configuration file, creating one with defaults on first run.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the database's top-level configuration.
type Config struct {
	DBRoot string     `json:"dbRoot"`
	Lock   LockConfig `json:"lock"`
	WAL    WALConfig  `json:"wal"`
}

// LockConfig tunes the two-phase lock manager.
type LockConfig struct {
	// TimeoutSeconds is the deadlock timeout: how long Acquire waits for a
	// contended key before failing the caller's operation.
	TimeoutSeconds int `json:"timeoutSeconds"`
}

// WALConfig tunes the write-ahead log's buffering and rotation.
type WALConfig struct {
	BufferThreshold int   `json:"bufferThreshold"`
	RotateSizeBytes int64 `json:"rotateSizeBytes"`
}

// DefaultConfig returns the store's suggested tuning.
func DefaultConfig() *Config {
	return &Config{
		DBRoot: "./data",
		Lock: LockConfig{
			TimeoutSeconds: 30,
		},
		WAL: WALConfig{
			BufferThreshold: 100,
			RotateSizeBytes: 10 * 1024 * 1024,
		},
	}
}

// LoadConfig loads configuration from configPath, creating a default file
// there if none exists yet.
func LoadConfig(configPath string) (*Config, error) {
	_, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(configPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}

		normalizeConfigPaths(cfg, dir)
		return cfg, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to check config file: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	normalizeConfigPaths(&cfg, filepath.Dir(configPath))
	return &cfg, nil
}

// normalizeConfigPaths resolves a relative DBRoot against the directory
// the config file lives in. When that directory's path contains "go-build"
// or "Temp", the current working directory is used instead.
func normalizeConfigPaths(cfg *Config, configDir string) {
	if strings.Contains(configDir, "go-build") || strings.Contains(configDir, "Temp") {
		if workingDir, err := os.Getwd(); err == nil {
			configDir = workingDir
		}
	}

	if cfg.DBRoot != "" && !filepath.IsAbs(cfg.DBRoot) {
		root := cfg.DBRoot
		if strings.HasPrefix(root, "./") {
			root = root[2:]
		}
		cfg.DBRoot = filepath.Join(configDir, root)
	}
}

// Save writes the configuration to configPath.
func (c *Config) Save(configPath string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// EnsureDBRoot creates the document store's root directory if it doesn't
// already exist.
func (c *Config) EnsureDBRoot() error {
	if err := os.MkdirAll(c.DBRoot, 0755); err != nil {
		return fmt.Errorf("failed to create db root: %w", err)
	}
	return nil
}
