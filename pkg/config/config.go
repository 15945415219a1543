package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/blockflush/internal/bytesize"
)

// Config represents the blockflush daemon configuration.
//
// This structure captures the static configuration of the flush engine:
//   - Logging configuration
//   - Shutdown behavior
//   - Prometheus metrics server
//   - Local cache layout (dirty log root, per-volume store cache)
//   - Flusher tuning (queue sizing, worker pool, thread priority)
//   - Remote writer selection and credentials
//   - Static replica topology per volume
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (BLOCKFLUSH_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Cache describes the local cache the flusher drains
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// Flusher contains queue and worker pool tuning
	Flusher FlusherConfig `mapstructure:"flusher" yaml:"flusher"`

	// Remote selects and configures the remote block writer
	Remote RemoteConfig `mapstructure:"remote" yaml:"remote"`

	// Routing holds the static replica topology per volume
	Routing RoutingConfig `mapstructure:"routing" yaml:"routing"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// CacheConfig describes the local block cache the flusher drains.
type CacheConfig struct {
	// Root is the directory scanned for dirty log segments (required).
	// Each volume is a subdirectory; its store lives next to it as
	// <volume>.db.
	Root string `mapstructure:"root" validate:"required" yaml:"root"`

	// StoreCacheSize is the in-memory block cache each volume store keeps.
	// Supports human-readable formats: "64Mi", "256MB"
	// Default: 64Mi
	StoreCacheSize bytesize.ByteSize `mapstructure:"store_cache_size" yaml:"store_cache_size,omitempty"`
}

// FlusherConfig tunes the dispatcher queue and the worker pool.
type FlusherConfig struct {
	// QueueSizeKB sizes the worker pool admission queue in binary
	// thousands of tasks (capacity = queue_size_kb * 1024).
	// Default: 4
	QueueSizeKB int `mapstructure:"queue_size_kb" validate:"omitempty,min=1" yaml:"queue_size_kb"`

	// CoreWorkers is the number of workers kept alive permanently.
	// Default: 16
	CoreWorkers int `mapstructure:"core_workers" validate:"omitempty,min=1" yaml:"core_workers"`

	// MaxWorkers caps the pool size under load. Must be >= core_workers.
	// Default: 64
	MaxWorkers int `mapstructure:"max_workers" validate:"omitempty,min=1" yaml:"max_workers"`

	// KeepAlive is how long an idle burst worker lingers before exiting.
	// Default: 60s
	KeepAlive time.Duration `mapstructure:"keep_alive" yaml:"keep_alive"`

	// ThreadPriority is the OS niceness applied to worker threads.
	// 0 leaves thread priority untouched. Linux only.
	ThreadPriority int `mapstructure:"thread_priority" validate:"omitempty,min=-20,max=19" yaml:"thread_priority"`

	// BlockBufferBlocks sizes the segment parsing buffer, in block IDs.
	// Default: 512
	BlockBufferBlocks int `mapstructure:"block_buffer_blocks" validate:"omitempty,min=1" yaml:"block_buffer_blocks"`

	// Admission selects the pool admission policy when the queue is full.
	// Valid values: block, reject
	// Default: block
	Admission string `mapstructure:"admission" validate:"omitempty,oneof=block reject" yaml:"admission"`
}

// RemoteConfig selects the remote block writer.
type RemoteConfig struct {
	// Type selects the writer implementation.
	// Valid values: s3, memory
	// Default: memory (local development only, blocks are not durable)
	Type string `mapstructure:"type" validate:"required,oneof=s3 memory" yaml:"type"`

	// S3 configures the S3 writer. Required when Type is "s3".
	S3 S3Config `mapstructure:"s3" yaml:"s3"`
}

// S3Config configures the S3 remote writer.
type S3Config struct {
	// Bucket is the S3 bucket blocks are written to
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// Region is the AWS region (optional, SDK default chain if empty)
	Region string `mapstructure:"region" yaml:"region,omitempty"`

	// Endpoint is a custom S3 endpoint URL (for MinIO, Localstack, etc.)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// KeyPrefix is prepended to every block object key
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`

	// ForcePathStyle forces path-style addressing (required for MinIO)
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
}

// RoutingConfig holds the static replica topology.
//
// Volumes maps a volume path (as it appears under cache.root) to its
// ordered replica list. Block N of a volume is routed to replica
// N mod len(replicas).
type RoutingConfig struct {
	Volumes map[string][]ReplicaConfig `mapstructure:"volumes" yaml:"volumes,omitempty"`
}

// ReplicaConfig describes one replica of a volume.
type ReplicaConfig struct {
	// Address is the replica endpoint, recorded with each remote write
	Address string `mapstructure:"address" yaml:"address"`

	// Tag is the replica's consistency tag. Replica index must be an
	// exact multiple of a non-zero tag; a mismatch means the topology
	// is corrupt and the process aborts.
	Tag int64 `mapstructure:"tag" yaml:"tag,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (BLOCKFLUSH_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	// Read configuration file if it exists
	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	// Unmarshal into config struct with custom decode hooks
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
func MustLoad(configPath string) (*Config, error) {
	// Determine config path
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please create a configuration file first:\n"+
				"  blockflush init\n\n"+
				"Or specify a custom config file:\n"+
				"  blockflush <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  blockflush init --config %s",
				configPath, configPath)
		}
	}

	// Load configuration
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Use yaml.Marshal directly to respect yaml tags
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Config files may carry credentials for the remote endpoint, so
	// restrict permissions to the owner.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Set up environment variable support
	// Environment variables use BLOCKFLUSH_ prefix and underscores
	// Example: BLOCKFLUSH_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("BLOCKFLUSH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Configure config file search
	if configPath != "" {
		// Use explicitly specified config file
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/blockflush/config.yaml
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		// Check if error is "config file not found"
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return false, nil
		}
		// Also check for os.PathError when explicit config file doesn't exist
		if os.IsNotExist(err) {
			return false, nil
		}
		// Other errors are problems
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
// This includes ByteSize and time.Duration parsing.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook returns a mapstructure decode hook that converts strings
// and integers to bytesize.ByteSize. This enables config files to use
// human-readable sizes like "1Gi", "500Mi", "100MB", or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		// Only handle conversion to ByteSize
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		// Only handle conversion to time.Duration
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "blockflush")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		// If we can't get home dir, use current directory as last resort
		return "."
	}

	return filepath.Join(home, ".config", "blockflush")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
