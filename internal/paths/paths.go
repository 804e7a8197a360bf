// Package paths resolves the daemon's on-disk layout. Everything lives
// under one home directory: config.json at the root, runtime state
// (database, socket, pidfile, lock, port file) under var/.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvHome overrides the default home directory when set.
const EnvHome = "OVERSEER_HOME"

// Home returns the daemon home directory: $OVERSEER_HOME if set,
// otherwise ~/.overseer.
func Home() (string, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir, nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}
	return filepath.Join(userHome, ".overseer"), nil
}

// EnsureHome creates the home and var directories if missing and
// returns the home path.
func EnsureHome() (string, error) {
	home, err := Home()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(VarDir(home), 0750); err != nil {
		return "", fmt.Errorf("create var directory: %w", err)
	}
	return home, nil
}

// VarDir returns the runtime directory. Contains overseer.db,
// overseer.sock, daemon.pid, daemon.lock, ws.port.
func VarDir(home string) string {
	return filepath.Join(home, "var")
}

// ConfigPath returns the path to config.json.
func ConfigPath(home string) string {
	return filepath.Join(home, "config.json")
}

// DBPath returns the path to the SQLite database.
func DBPath(home string) string {
	return filepath.Join(VarDir(home), "overseer.db")
}

// SocketPath returns the path to the unix control socket.
func SocketPath(home string) string {
	return filepath.Join(VarDir(home), "overseer.sock")
}

// PidfilePath returns the path to the daemon pidfile.
func PidfilePath(home string) string {
	return filepath.Join(VarDir(home), "daemon.pid")
}

// LockPath returns the path to the single-instance lock file.
func LockPath(home string) string {
	return filepath.Join(VarDir(home), "daemon.lock")
}

// PortfilePath returns the path to the WebSocket port file.
func PortfilePath(home string) string {
	return filepath.Join(VarDir(home), "ws.port")
}

// BackupsDir returns the directory database snapshots are written to.
func BackupsDir(home string) string {
	return filepath.Join(home, "backups")
}
