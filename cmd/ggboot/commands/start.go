package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ggnet/ggboot/internal/logger"
	"github.com/ggnet/ggboot/pkg/config"
	"github.com/ggnet/ggboot/pkg/controlplane/api"
	"github.com/ggnet/ggboot/pkg/controlplane/models"
	"github.com/ggnet/ggboot/pkg/controlplane/orchestrator"
	"github.com/ggnet/ggboot/pkg/controlplane/store"
	"github.com/ggnet/ggboot/pkg/convert"
	"github.com/ggnet/ggboot/pkg/dhcp"
	"github.com/ggnet/ggboot/pkg/imagestore"
	"github.com/ggnet/ggboot/pkg/iscsi"
	"github.com/ggnet/ggboot/pkg/metrics"
	promexport "github.com/ggnet/ggboot/pkg/metrics/prometheus"
	"github.com/ggnet/ggboot/pkg/tftp"
	"github.com/spf13/cobra"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ggboot server",
	Long: `Start the ggboot control plane with the specified configuration.

By default, the server runs in the background (daemon mode). Use --foreground
to run in the foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/ggboot/config.yaml.

Examples:
  # Start in background (default)
  ggboot start

  # Start in foreground
  ggboot start --foreground

  # Start with custom config file
  ggboot start --config /etc/ggboot/config.yaml

  # Start with environment variable overrides
  GGBOOT_LOGGING_LEVEL=DEBUG ggboot start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/ggboot/ggboot.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/ggboot/ggboot.log)")
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

	fmt.Println("ggboot - Diskless boot control plane")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Initialize metrics first so the collectors find the registry.
	var bootMetrics metrics.BootMetrics
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		bootMetrics = promexport.NewBootMetrics()
		metricsServer = metrics.NewServer(cfg.Metrics.Port)
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	// Initialize the control plane store
	cpStore, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize control plane store: %w", err)
	}
	defer func() { _ = cpStore.Close() }()

	// Ensure admin user exists. A configured password hash wins; otherwise
	// a random password is generated on first run and printed once.
	if cfg.Admin.PasswordHash != "" {
		if err := ensureConfiguredAdmin(ctx, cpStore, cfg.Admin); err != nil {
			return fmt.Errorf("failed to ensure admin user: %w", err)
		}
	} else {
		adminPassword, err := cpStore.EnsureAdminUser(ctx)
		if err != nil {
			return fmt.Errorf("failed to ensure admin user: %w", err)
		}
		if adminPassword != "" {
			logger.Info("Admin user created", "username", "admin")
			fmt.Printf("\n*** IMPORTANT: Admin user created with password: %s ***\n", adminPassword)
			fmt.Println("Please save this password. It will not be shown again.")
			fmt.Println()
		}
	}

	// Subsystem managers: targetcli, TFTP root, DHCP fenced block
	targets := iscsi.NewAdapter(cfg.ISCSI, nil)

	tftpMgr, err := tftp.NewManager(cfg.TFTP, &tftp.SystemctlProber{Unit: cfg.TFTP.ServiceName})
	if err != nil {
		return fmt.Errorf("failed to initialize TFTP manager: %w", err)
	}
	logger.Info("TFTP root ready", "root", cfg.TFTP.Root)

	dhcpMgr, err := dhcp.NewManager(cfg.DHCP, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize DHCP manager: %w", err)
	}
	logger.Info("DHCP reservation file ready", "path", cfg.DHCP.ConfigPath)

	images, err := imagestore.New(cfg.Images, cpStore)
	if err != nil {
		return fmt.Errorf("failed to initialize image store: %w", err)
	}
	logger.Info("Image store ready", "dir", cfg.Images.Dir)

	// Conversion worker turns uploaded images into raw files for fileio
	// backstores.
	var worker *convert.Worker
	if cfg.Converter.IsEnabled() {
		worker = convert.NewWorker(cfg.Converter, cpStore, nil)
		worker.SetMetrics(bootMetrics)
	} else {
		logger.Info("Conversion worker disabled")
	}

	// Session orchestrator
	orch := orchestrator.New(cfg.Session, cpStore, targets, tftpMgr, dhcpMgr)
	orch.SetMetrics(bootMetrics)

	// API server
	apiServer, err := api.NewServer(cfg.API, api.Deps{
		Store:        cpStore,
		Orchestrator: orch,
		Images:       images,
		TFTP:         tftpMgr,
		DHCP:         dhcpMgr,
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	logger.Info("API server configured", "port", apiServer.Port())

	// Write PID file if specified
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	// Background loops: watchdog reconciler, conversion worker, metrics
	go orch.RunWatchdog(ctx)
	if worker != nil {
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Conversion worker stopped", "error", err)
			}
		}()
	}
	if metricsServer != nil {
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				logger.Error("Metrics server error", "error", err)
			}
		}()
	}

	// Start API server in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		// Wait for server to shut down gracefully
		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}

// ensureConfiguredAdmin creates the admin account from a configured password
// hash if it does not already exist.
func ensureConfiguredAdmin(ctx context.Context, st *store.GORMStore, admin config.AdminConfig) error {
	username := admin.Username
	if username == "" {
		username = models.AdminUsername
	}
	_, err := st.GetUser(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrUserNotFound) {
		return err
	}
	user := &models.User{
		Username:     username,
		PasswordHash: admin.PasswordHash,
		Role:         string(models.RoleAdmin),
		Active:       true,
	}
	if err := st.CreateUser(ctx, user); err != nil {
		return err
	}
	logger.Info("Admin user created from configured password hash", "username", username)
	return nil
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

// startDaemon starts the server as a background daemon process.
func startDaemon() error {
	stateDir := GetDefaultStateDir()

	// Create state directory if it doesn't exist
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// Set default PID file if not specified
	pidPath := pidFile
	if pidPath == "" {
		pidPath = filepath.Join(stateDir, "ggboot.pid")
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
						return fmt.Errorf("ggboot is already running (PID %d)\nUse 'ggboot stop' to stop the running instance", pid)
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
		logPath = filepath.Join(stateDir, "ggboot.log")
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
	cmd := exec.Command(executable, daemonArgs...)

	// Open log file for stdout/stderr
	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	cmd.Stdout = logFileHandle
	cmd.Stderr = logFileHandle

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	// Start the daemon
	if err := cmd.Start(); err != nil {
		_ = logFileHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	_ = logFileHandle.Close()

	fmt.Printf("ggboot started in background (PID %d)\n", cmd.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)
	fmt.Println("\nUse 'ggboot stop' to stop the server")
	fmt.Println("Use 'ggboot status' to check server status")

	return nil
}
