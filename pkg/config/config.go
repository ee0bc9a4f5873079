// Package config defines the single configuration structure injected into
// every LFSS component, populated from defaults, an optional YAML file and
// environment variables, in that override order. The CLI's --config flag
// only names the YAML file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every recognized tunable named in the engine design.
type Config struct {
	DataHome               string `yaml:"data_home"`
	ExternalDir            string `yaml:"external_dir"`
	BlobLargeThresholdBytes int64 `yaml:"blob_large_threshold_bytes"`
	MemoryFileCapBytes     int64  `yaml:"memory_file_cap_bytes"`
	StreamChunkBytes       int64  `yaml:"stream_chunk_bytes"`
	ReaderPoolSize         int    `yaml:"reader_pool_size"`
	WebdavEnabled          bool   `yaml:"webdav_enabled"`
	Debug                  bool   `yaml:"debug"`
	DisableLogging         bool   `yaml:"disable_logging"`
	ThumbSize              int    `yaml:"thumb_size"`
	ThumbDBPath            string `yaml:"thumb_db_path"`
	HTTPAddr               string `yaml:"http_addr"`
	WebdavPrefix           string `yaml:"webdav_prefix"`
	LockDBPath             string `yaml:"lock_db_path"`
	LockTimeoutSeconds     int    `yaml:"lock_timeout_seconds"`
}

const (
	defaultChunkBytes     = 1 << 20 // 1 MiB
	defaultThresholdBytes = 1 << 20 // 1 MiB
	defaultMemoryCapBytes = 128 << 20
	defaultReaderPoolSize = 8
	defaultThumbSize      = 256
	defaultLockTimeout    = 1800
)

// Default returns a Config with every field set to its documented default.
func Default() *Config {
	return &Config{
		DataHome:                "./data",
		ExternalDir:             "large_blobs",
		BlobLargeThresholdBytes: defaultThresholdBytes,
		MemoryFileCapBytes:      defaultMemoryCapBytes,
		StreamChunkBytes:        defaultChunkBytes,
		ReaderPoolSize:          defaultReaderPoolSize,
		WebdavEnabled:           false,
		Debug:                   false,
		DisableLogging:          false,
		ThumbSize:               defaultThumbSize,
		ThumbDBPath:             "thumbs.v1.db",
		HTTPAddr:                ":8000",
		WebdavPrefix:            "/dav/",
		LockDBPath:              "lock.db",
		LockTimeoutSeconds:      defaultLockTimeout,
	}
}

// Load builds a Config from defaults, an optional YAML file at path (if
// non-empty and present) and environment variable overrides, in that order.
func Load(yamlPath string) (*Config, error) {
	cfg := Default()

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file %s: %w", yamlPath, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LFSS_DATA"); v != "" {
		c.DataHome = v
	}
	if v := os.Getenv("LFSS_LARGE_FILE"); v != "" {
		var n int64
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			c.BlobLargeThresholdBytes = n
		}
	}
	if v := os.Getenv("LFSS_WEBDAV"); v != "" {
		c.WebdavEnabled = v == "1" || v == "true"
	}
	if v := os.Getenv("LFSS_DEBUG"); v != "" {
		c.Debug = v == "1" || v == "true"
	}
	if v := os.Getenv("DISABLE_LOGGING"); v != "" {
		c.DisableLogging = v == "1" || v == "true"
	}
}
