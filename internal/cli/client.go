package cli

import (
	"fmt"
	"os"

	"github.com/dmarsh/overseer/internal/daemon"
	"github.com/dmarsh/overseer/internal/paths"
)

// Connect opens a JSON-RPC client to the daemon for the current overseer
// home. Returns a descriptive error when the daemon is not running.
func Connect() (*daemon.Client, error) {
	home, err := paths.Home()
	if err != nil {
		return nil, err
	}
	socketPath := paths.SocketPath(home)

	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("daemon is not running (no socket at %s) - start it with 'overseer daemon start'", socketPath)
	}

	client, err := daemon.NewClient(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return client, nil
}
