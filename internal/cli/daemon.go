package cli

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/dmarsh/overseer/internal/daemon"
	"github.com/dmarsh/overseer/internal/daemon/rpc"
	"github.com/dmarsh/overseer/internal/paths"
)

// DaemonStatusResult contains daemon status information.
type DaemonStatusResult struct {
	Running        bool   `json:"running"`
	Status         string `json:"status"`
	PID            int    `json:"pid,omitempty"`
	Home           string `json:"home,omitempty"`
	Uptime         string `json:"uptime,omitempty"`
	Version        string `json:"version,omitempty"`
	ActiveSessions int    `json:"active_sessions"`
	Subscribers    int    `json:"subscribers"`
	WebSocketPort  int    `json:"ws_port,omitempty"`
}

// DaemonStart starts the daemon in the background.
func DaemonStart() error {
	home, err := paths.EnsureHome()
	if err != nil {
		return err
	}
	pidPath := paths.PidfilePath(home)
	socketPath := paths.SocketPath(home)

	running, pidInfo, err := daemon.CheckPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if running {
		return fmt.Errorf("daemon is already running (PID %d)", pidInfo.PID)
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	cmd := exec.Command(executable, "daemon", "run") //nolint:gosec // executable from os.Executable()

	// Detach from this process so the daemon survives the CLI exiting.
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}

	// Release the child so init adopts it. Do NOT call cmd.Wait() — the
	// parent is about to exit, and a goroutine blocked in Wait() can leave
	// the child uninterruptible on macOS.
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("failed to release daemon process: %w", err)
	}

	// Wait for the socket and ws.port file so callers see a ready daemon.
	wsPortPath := paths.PortfilePath(home)
	timeout := time.After(10 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	socketReady := false
	for {
		select {
		case <-timeout:
			return fmt.Errorf("timeout waiting for daemon to start")
		case <-ticker.C:
			if !socketReady {
				if _, err := os.Stat(socketPath); err == nil {
					socketReady = true
				}
			}
			if socketReady {
				if _, err := os.Stat(wsPortPath); err == nil {
					return nil
				}
			}
		}
	}
}

// DaemonStop stops the daemon gracefully via SIGTERM.
func DaemonStop() error {
	home, err := paths.Home()
	if err != nil {
		return err
	}
	pidPath := paths.PidfilePath(home)

	running, pidInfo, err := daemon.CheckPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	process, err := os.FindProcess(pidInfo.PID)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pidInfo.PID, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM to process %d: %w", pidInfo.PID, err)
	}

	timeout := time.After(10 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			return fmt.Errorf("timeout waiting for daemon to stop (PID %d still running)", pidInfo.PID)
		case <-ticker.C:
			running, _, _ := daemon.CheckPIDFile(pidPath)
			if !running {
				return nil
			}
		}
	}
}

// DaemonStatus checks the daemon status, enriching with health RPC data
// when the daemon is reachable.
func DaemonStatus() (*DaemonStatusResult, error) {
	home, err := paths.Home()
	if err != nil {
		return nil, err
	}
	pidPath := paths.PidfilePath(home)
	socketPath := paths.SocketPath(home)

	running, pidInfo, err := daemon.CheckPIDFile(pidPath)
	if err != nil {
		return nil, fmt.Errorf("failed to check daemon status: %w", err)
	}

	status := "stopped"
	if running {
		status = "running"
	}

	result := &DaemonStatusResult{
		Running: running,
		Status:  status,
		PID:     pidInfo.PID,
		Home:    pidInfo.Home,
	}

	if running {
		if port, err := daemon.ReadPortFile(paths.PortfilePath(home)); err == nil {
			result.WebSocketPort = port
		}

		if _, err := os.Stat(socketPath); err == nil {
			client, err := daemon.NewClient(socketPath)
			if err == nil {
				defer func() { _ = client.Close() }()

				var health rpc.HealthResponse
				if err := client.CallInto("health", map[string]any{}, &health); err == nil {
					uptime := time.Duration(health.Uptime) * time.Millisecond
					result.Uptime = formatDuration(uptime)
					result.Version = health.Version
					result.ActiveSessions = health.ActiveSessions
					result.Subscribers = health.Subscribers
					if health.WSPort > 0 {
						result.WebSocketPort = health.WSPort
					}
				}
			}
		}
	}

	return result, nil
}

// DaemonRestart restarts the daemon (stop + start).
func DaemonRestart() error {
	if err := DaemonStop(); err != nil {
		// Not running is fine for a restart.
		if err.Error() != "daemon is not running" {
			return err
		}
	}
	time.Sleep(500 * time.Millisecond)
	return DaemonStart()
}

// FormatDaemonStatus formats the daemon status for display.
func FormatDaemonStatus(result *DaemonStatusResult) string {
	if !result.Running {
		return "Daemon:     not running\n"
	}

	status := fmt.Sprintf("Daemon:     running (PID %d)\n", result.PID)
	if result.Uptime != "" {
		status += fmt.Sprintf("Uptime:     %s\n", result.Uptime)
	}
	if result.Version != "" {
		status += fmt.Sprintf("Version:    %s\n", result.Version)
	}
	status += fmt.Sprintf("Sessions:   %d active\n", result.ActiveSessions)
	if result.Subscribers > 0 {
		status += fmt.Sprintf("Watchers:   %d\n", result.Subscribers)
	}
	if result.WebSocketPort > 0 {
		status += fmt.Sprintf("Events:     ws://127.0.0.1:%d/ws\n", result.WebSocketPort)
	}
	return status
}
