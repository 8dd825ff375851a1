package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	stopPidFile string
	stopTimeout time.Duration
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the ggboot server",
	Long: `Stop a ggboot server started in daemon mode.

The server is located via its PID file and sent SIGTERM, then given time
to release iSCSI targets and DHCP reservations before this command gives
up waiting.

Examples:
  # Stop the server
  ggboot stop

  # Stop with a custom PID file
  ggboot stop --pid-file /run/ggboot.pid`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().StringVar(&stopPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/ggboot/ggboot.pid)")
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 30*time.Second, "Time to wait for the server to exit")
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := stopPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	pidData, err := os.ReadFile(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("ggboot is not running (no PID file at %s)", pidPath)
		}
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidData)))
	if err != nil {
		return fmt.Errorf("invalid PID file %s: %w", pidPath, err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		// Process already gone, clean up the stale PID file.
		_ = os.Remove(pidPath)
		return fmt.Errorf("ggboot is not running (stale PID file removed)")
	}

	fmt.Printf("Stopping ggboot (PID %d)...\n", pid)

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		if err := process.Signal(syscall.Signal(0)); err != nil {
			_ = os.Remove(pidPath)
			fmt.Println("ggboot stopped")
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	return fmt.Errorf("ggboot did not stop within %s (PID %d still running)", stopTimeout, pid)
}
