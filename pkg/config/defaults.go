package config

import (
	"strings"
	"time"

	"github.com/marmos91/blockflush/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyShutdownTimeoutDefaults(cfg)
	applyMetricsDefaults(&cfg.Metrics)
	applyCacheDefaults(&cfg.Cache)
	applyFlusherDefaults(&cfg.Flusher)
	applyRemoteDefaults(&cfg.Remote)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false (opt-in for metrics)
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyCacheDefaults sets local cache defaults.
// Cache root has no default, it is required and must be configured by the user.
func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.StoreCacheSize == 0 {
		cfg.StoreCacheSize = 64 * bytesize.MiB
	}
}

// applyFlusherDefaults sets dispatcher and worker pool defaults.
func applyFlusherDefaults(cfg *FlusherConfig) {
	if cfg.QueueSizeKB == 0 {
		cfg.QueueSizeKB = 4
	}
	if cfg.CoreWorkers == 0 {
		cfg.CoreWorkers = 16
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = 64
	}
	if cfg.MaxWorkers < cfg.CoreWorkers {
		cfg.MaxWorkers = cfg.CoreWorkers
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	if cfg.BlockBufferBlocks == 0 {
		cfg.BlockBufferBlocks = 512
	}
	if cfg.Admission == "" {
		cfg.Admission = "block"
	}
	// ThreadPriority defaults to 0 (leave worker threads untouched)
}

// applyRemoteDefaults sets remote writer defaults.
func applyRemoteDefaults(cfg *RemoteConfig) {
	// Default to the in-memory writer so a bare config is runnable
	// locally. Production deployments configure "s3" explicitly.
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Logging: LoggingConfig{},
		Cache: CacheConfig{
			Root: "/tmp/blockflush-cache",
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
