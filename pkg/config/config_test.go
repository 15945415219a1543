package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/blockflush/internal/bytesize"
)

// yamlSafePath converts a filesystem path to a YAML-safe representation.
// On Windows, backslashes in double-quoted YAML strings are interpreted as
// escape sequences (e.g. \U -> Unicode escape), causing parse errors.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return configPath
}

func TestLoad_AppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()

	configPath := writeConfig(t, `
logging:
  level: "INFO"

cache:
  root: "`+yamlSafePath(tmpDir)+`/cache"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Flusher.QueueSizeKB != 4 {
		t.Errorf("Expected default queue_size_kb 4, got %d", cfg.Flusher.QueueSizeKB)
	}
	if cfg.Flusher.CoreWorkers != 16 || cfg.Flusher.MaxWorkers != 64 {
		t.Errorf("Expected default pool 16/64, got %d/%d", cfg.Flusher.CoreWorkers, cfg.Flusher.MaxWorkers)
	}
	if cfg.Flusher.KeepAlive != 60*time.Second {
		t.Errorf("Expected default keep_alive 60s, got %v", cfg.Flusher.KeepAlive)
	}
	if cfg.Flusher.Admission != "block" {
		t.Errorf("Expected default admission 'block', got %q", cfg.Flusher.Admission)
	}
	if cfg.Cache.StoreCacheSize != 64*bytesize.MiB {
		t.Errorf("Expected default store cache 64Mi, got %v", cfg.Cache.StoreCacheSize)
	}
	if cfg.Remote.Type != "memory" {
		t.Errorf("Expected default remote type 'memory', got %q", cfg.Remote.Type)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Loading with no config file returns a valid default config.
	nonExistentPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}
	if cfg.Cache.Root == "" {
		t.Error("Expected default cache root to be set")
	}
}

func TestLoad_FullConfig(t *testing.T) {
	tmpDir := t.TempDir()

	configPath := writeConfig(t, `
logging:
  level: "debug"
  format: "json"

shutdown_timeout: 15s

metrics:
  enabled: true

cache:
  root: "`+yamlSafePath(tmpDir)+`/cache"
  store_cache_size: 128Mi

flusher:
  queue_size_kb: 8
  core_workers: 4
  max_workers: 32
  keep_alive: 30s
  thread_priority: 10
  admission: "reject"

remote:
  type: "s3"
  s3:
    bucket: "flush-blocks"
    region: "eu-west-1"
    force_path_style: true

routing:
  volumes:
    "/data/vol1":
      - address: "10.0.0.1:9860"
        tag: 2
      - address: "10.0.0.2:9860"
        tag: 1
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level normalized to DEBUG, got %q", cfg.Logging.Level)
	}
	if cfg.ShutdownTimeout != 15*time.Second {
		t.Errorf("Expected shutdown_timeout 15s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected metrics port defaulted to 9090, got %d", cfg.Metrics.Port)
	}
	if cfg.Cache.StoreCacheSize != 128*bytesize.MiB {
		t.Errorf("Expected store cache 128Mi, got %v", cfg.Cache.StoreCacheSize)
	}
	if cfg.Flusher.QueueSizeKB != 8 || cfg.Flusher.CoreWorkers != 4 || cfg.Flusher.MaxWorkers != 32 {
		t.Errorf("Unexpected flusher tuning: %+v", cfg.Flusher)
	}
	if cfg.Flusher.ThreadPriority != 10 {
		t.Errorf("Expected thread_priority 10, got %d", cfg.Flusher.ThreadPriority)
	}
	if cfg.Flusher.Admission != "reject" {
		t.Errorf("Expected admission 'reject', got %q", cfg.Flusher.Admission)
	}
	if cfg.Remote.Type != "s3" || cfg.Remote.S3.Bucket != "flush-blocks" {
		t.Errorf("Unexpected remote config: %+v", cfg.Remote)
	}
	if !cfg.Remote.S3.ForcePathStyle {
		t.Error("Expected force_path_style to be true")
	}

	replicas := cfg.Routing.Volumes["/data/vol1"]
	if len(replicas) != 2 {
		t.Fatalf("Expected 2 replicas, got %d", len(replicas))
	}
	if replicas[0].Address != "10.0.0.1:9860" || replicas[0].Tag != 2 {
		t.Errorf("Unexpected first replica: %+v", replicas[0])
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	tmpDir := t.TempDir()

	configPath := writeConfig(t, `
logging:
  level: "INFO"

cache:
  root: "`+yamlSafePath(tmpDir)+`/cache"
`)

	t.Setenv("BLOCKFLUSH_LOGGING_LEVEL", "ERROR")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected env override level ERROR, got %q", cfg.Logging.Level)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "missing cache root",
			mutate: func(c *Config) { c.Cache.Root = "" },
		},
		{
			name:   "invalid log level",
			mutate: func(c *Config) { c.Logging.Level = "VERBOSE" },
		},
		{
			name:   "invalid admission policy",
			mutate: func(c *Config) { c.Flusher.Admission = "drop" },
		},
		{
			name:   "max workers below core workers",
			mutate: func(c *Config) { c.Flusher.CoreWorkers = 32; c.Flusher.MaxWorkers = 8 },
		},
		{
			name:   "s3 without bucket",
			mutate: func(c *Config) { c.Remote.Type = "s3"; c.Remote.S3.Bucket = "" },
		},
		{
			name: "replica without address",
			mutate: func(c *Config) {
				c.Routing.Volumes = map[string][]ReplicaConfig{
					"/data/vol1": {{Address: ""}},
				}
			},
		},
		{
			name: "replica with negative tag",
			mutate: func(c *Config) {
				c.Routing.Volumes = map[string][]ReplicaConfig{
					"/data/vol1": {{Address: "10.0.0.1:9860", Tag: -1}},
				}
			},
		},
		{
			name: "volume without replicas",
			mutate: func(c *Config) {
				c.Routing.Volumes = map[string][]ReplicaConfig{"/data/vol1": {}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

func TestValidate_DefaultConfigIsValid(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Default config should validate, got: %v", err)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Remote.Type = "s3"
	cfg.Remote.S3.Bucket = "flush-blocks"

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Saved config missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600 permissions, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to reload saved config: %v", err)
	}
	if loaded.Remote.S3.Bucket != "flush-blocks" {
		t.Errorf("Expected bucket to survive round trip, got %q", loaded.Remote.S3.Bucket)
	}
}
