package commands

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/blockflush/internal/bytesize"
	"github.com/marmos91/blockflush/internal/logger"
	"github.com/marmos91/blockflush/pkg/config"
	"github.com/marmos91/blockflush/pkg/flusher"
	"github.com/marmos91/blockflush/pkg/metrics"
	promflusher "github.com/marmos91/blockflush/pkg/metrics/prometheus"
	"github.com/marmos91/blockflush/pkg/remote"
	"github.com/marmos91/blockflush/pkg/remote/memory"
	"github.com/marmos91/blockflush/pkg/remote/s3"
	"github.com/marmos91/blockflush/pkg/router"
	"github.com/marmos91/blockflush/pkg/store/volume"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the blockflush daemon",
	Long: `Start the blockflush daemon with the specified configuration.

By default, the daemon runs in the background. Use --foreground to run in
the foreground for debugging or when managed by a process supervisor.

On startup the cache root is scanned for dirty log segments left over from
a previous run; they are queued for flushing before live traffic.

Examples:
  # Start in background (default)
  blockflush start

  # Start in foreground
  blockflush start --foreground

  # Start with custom config file
  blockflush start --config /etc/blockflush/config.yaml

  # Start with environment variable overrides
  BLOCKFLUSH_LOGGING_LEVEL=DEBUG blockflush start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/blockflush/blockflush.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/blockflush/blockflush.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	// Handle daemon mode (background)
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Initialize metrics (if enabled)
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		metricsServer = metrics.NewServer(cfg.Metrics.Port)
		go func() {
			logger.Info("Metrics server listening", "port", cfg.Metrics.Port)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server error", "error", err)
			}
		}()
	} else {
		logger.Info("Metrics collection disabled")
	}

	// Create the remote writer
	writer, err := newRemoteWriter(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create remote writer: %w", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Error("Remote writer close error", "error", err)
		}
	}()
	logger.Info("Remote writer configured", "type", cfg.Remote.Type)

	// Open volume stores and register replica topology
	stores := volume.NewRegistry()
	defer stores.Shutdown()

	rt := router.New()
	cacheMB := int(cfg.Cache.StoreCacheSize / bytesize.MiB)
	for vol, replicas := range cfg.Routing.Volumes {
		vpath := vol
		if !filepath.IsAbs(vpath) {
			vpath = filepath.Join(cfg.Cache.Root, vpath)
		}
		if err := os.MkdirAll(vpath, 0755); err != nil {
			return fmt.Errorf("failed to create volume directory %s: %w", vpath, err)
		}

		if _, err := stores.Open(vpath, cacheMB); err != nil {
			return fmt.Errorf("failed to open store for volume %s: %w", vpath, err)
		}

		rt.RegisterReplicas(vpath, toRouterReplicas(replicas))
		logger.Info("Volume registered", "volume", vpath, "replicas", len(replicas))
	}

	// Sample volume store cache effectiveness while metrics are on
	if cfg.Metrics.Enabled {
		go sampleStoreCaches(ctx, stores)
	}

	// Create and start the flusher
	fl := flusher.New(flusher.Config{
		CacheRoot:         cfg.Cache.Root,
		QueueSizeKB:       cfg.Flusher.QueueSizeKB,
		CoreWorkers:       cfg.Flusher.CoreWorkers,
		MaxWorkers:        cfg.Flusher.MaxWorkers,
		KeepAlive:         cfg.Flusher.KeepAlive,
		ThreadPriority:    cfg.Flusher.ThreadPriority,
		BlockBufferBlocks: cfg.Flusher.BlockBufferBlocks,
		Admission:         flusher.AdmissionPolicy(cfg.Flusher.Admission),
	}, stores, rt, writer, promflusher.NewFlusherMetrics())

	if err := fl.Start(ctx); err != nil {
		return fmt.Errorf("failed to start flusher: %w", err)
	}

	// Write PID file if specified
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Flusher is running. Press Ctrl+C to stop.")

	<-sigChan
	signal.Stop(sigChan)
	logger.Info("Shutdown signal received, initiating graceful shutdown")

	fl.Stop(cfg.ShutdownTimeout)

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown error", "error", err)
		}
	}

	logger.Info("Flusher stopped gracefully")
	return nil
}

// sampleStoreCaches periodically publishes BadgerDB cache stats for every
// open volume store.
func sampleStoreCaches(ctx context.Context, stores *volume.Registry) {
	m := promflusher.NewBadgerMetrics()
	if m == nil {
		return
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, h := range stores.Handles() {
				block := h.BlockCacheStats()
				m.SetCacheStats(h.Volume(), "block", block.Hits, block.Misses, block.Ratio)
				index := h.IndexCacheStats()
				m.SetCacheStats(h.Volume(), "index", index.Hits, index.Misses, index.Ratio)
			}
		}
	}
}

// newRemoteWriter creates the remote block writer selected by the config.
func newRemoteWriter(ctx context.Context, cfg *config.Config) (remote.Writer, error) {
	switch cfg.Remote.Type {
	case "s3":
		return s3.NewFromConfig(ctx, s3.Config{
			Bucket:         cfg.Remote.S3.Bucket,
			Region:         cfg.Remote.S3.Region,
			Endpoint:       cfg.Remote.S3.Endpoint,
			KeyPrefix:      cfg.Remote.S3.KeyPrefix,
			ForcePathStyle: cfg.Remote.S3.ForcePathStyle,
		}, metrics.NewS3Metrics())
	case "memory":
		logger.Warn("Using in-memory remote writer, flushed blocks are not durable")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown remote writer type: %s", cfg.Remote.Type)
	}
}

// toRouterReplicas converts config replicas to routing replicas. The
// consistency tag travels in the replica data as a big-endian value so the
// router can verify topology on every route.
func toRouterReplicas(replicas []config.ReplicaConfig) []router.Replica {
	out := make([]router.Replica, 0, len(replicas))
	for _, r := range replicas {
		data := make([]byte, 8)
		binary.BigEndian.PutUint64(data, uint64(r.Tag))
		out = append(out, router.Replica{
			Address: r.Address,
			Data:    data,
		})
	}
	return out
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// startDaemon starts the flusher as a background daemon process.
func startDaemon() error {
	stateDir := GetDefaultStateDir()

	// Create state directory if it doesn't exist
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// Set default PID file if not specified
	pidPath := pidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	// Check if already running
	if _, err := os.Stat(pidPath); err == nil {
		pidData, err := os.ReadFile(pidPath)
		if err == nil {
			var pid int
			if _, err := fmt.Sscanf(string(pidData), "%d", &pid); err == nil {
				// Check if process is still running
				if process, err := os.FindProcess(pid); err == nil {
					if err := process.Signal(syscall.Signal(0)); err == nil {
						return fmt.Errorf("blockflush is already running (PID %d)\nUse 'blockflush stop' to stop the running instance", pid)
					}
				}
			}
		}
		// Stale PID file, remove it
		_ = os.Remove(pidPath)
	}

	// Set default log file if not specified
	logPath := logFile
	if logPath == "" {
		logPath = GetDefaultLogFile()
	}

	// Get the executable path
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Build arguments for the daemon process
	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	// Create the daemon process
	daemon := exec.Command(executable, daemonArgs...)

	// Open log file for stdout/stderr
	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	daemon.Stdout = logFileHandle
	daemon.Stderr = logFileHandle

	// Detach from parent process
	daemon.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	// Start the daemon
	if err := daemon.Start(); err != nil {
		_ = logFileHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	_ = logFileHandle.Close()

	fmt.Printf("blockflush started in background (PID %d)\n", daemon.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)
	fmt.Println("\nUse 'blockflush stop' to stop the daemon")

	return nil
}
