package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// WebSocketServer is the subset of the WebSocket server the lifecycle
// needs, as an interface to avoid an import cycle.
type WebSocketServer interface {
	Start(ctx context.Context) error
	Stop() error
	Port() int
}

// Lifecycle ties the daemon's long-lived pieces together: the instance
// lock, pidfile and port file, both servers, the orchestrator, and
// signal-driven shutdown.
type Lifecycle struct {
	server       *Server
	wsServer     WebSocketServer
	orch         *Orchestrator
	home         string
	pidFile      string
	wsPortFile   string
	socketPath   string
	lockFile     string
	lock         *FileLock
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycle creates a lifecycle manager. The WebSocket server is
// optional; pass nil and "" to run socket-only.
func NewLifecycle(server *Server, orch *Orchestrator, pidFile string, wsServer WebSocketServer, wsPortFile string) *Lifecycle {
	return &Lifecycle{
		server:     server,
		orch:       orch,
		pidFile:    pidFile,
		wsServer:   wsServer,
		wsPortFile: wsPortFile,
		shutdownCh: make(chan struct{}),
	}
}

// SetPaths records home and socket path for pidfile metadata and the
// lock file location. Call before Run.
func (l *Lifecycle) SetPaths(home, socketPath, lockFile string) {
	l.home = home
	l.socketPath = socketPath
	l.lockFile = lockFile
}

// Run starts both servers, runs restart recovery, and blocks until a
// signal or Shutdown call, then unwinds in reverse order.
func (l *Lifecycle) Run(ctx context.Context) error {
	if l.lockFile != "" {
		lock, err := AcquireLock(l.lockFile)
		if err != nil {
			return fmt.Errorf("acquire daemon lock: %w", err)
		}
		l.lock = lock
		defer func() {
			if l.lock != nil {
				if err := l.lock.Release(); err != nil {
					fmt.Fprintf(os.Stderr, "warning: release lock: %v\n", err)
				}
			}
		}()
	}

	existing, existingInfo, err := CheckPIDFile(l.pidFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: read existing pidfile: %v\n", err)
	} else if existing {
		return fmt.Errorf("daemon already running (PID %d)", existingInfo.PID)
	}

	if err := WritePIDFile(l.pidFile, PIDInfo{
		PID:        os.Getpid(),
		Home:       l.home,
		StartedAt:  time.Now().UTC(),
		SocketPath: l.socketPath,
	}); err != nil {
		return fmt.Errorf("write pidfile: %w", err)
	}

	// Safety net for panics and early returns. Idempotent against the
	// graceful path.
	var shutdownComplete atomic.Bool
	defer func() {
		if !shutdownComplete.Load() {
			l.orch.Shutdown()
			_ = l.server.Stop()
			if l.wsServer != nil {
				_ = l.wsServer.Stop()
				if l.wsPortFile != "" {
					_ = RemovePortFile(l.wsPortFile)
				}
			}
			_ = RemovePIDFile(l.pidFile)
		}
	}()

	// Recovery must finish before the control surface opens, so clients
	// never observe pre-reconciliation state.
	if err := l.orch.Recover(); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}

	if err := l.server.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	if l.wsServer != nil {
		if err := l.wsServer.Start(ctx); err != nil {
			return fmt.Errorf("start websocket server: %w", err)
		}
		if l.wsPortFile != "" {
			if err := WritePortFile(l.wsPortFile, l.wsServer.Port()); err != nil {
				return fmt.Errorf("write websocket port file: %w", err)
			}
		}
	}

	go l.handleSignals()

	<-l.shutdownCh

	shutdownComplete.Store(true)
	return l.shutdown()
}

func (l *Lifecycle) handleSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	fmt.Fprintf(os.Stderr, "received signal %v, shutting down\n", sig)
	l.Shutdown()
}

func (l *Lifecycle) shutdown() error {
	// Stop the control surface first so no new work arrives, then the
	// orchestrator so runners drain, then the files.
	if l.wsServer != nil {
		if err := l.wsServer.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "stop websocket server: %v\n", err)
		}
		if l.wsPortFile != "" {
			if err := RemovePortFile(l.wsPortFile); err != nil {
				fmt.Fprintf(os.Stderr, "remove websocket port file: %v\n", err)
			}
		}
	}

	if err := l.server.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "stop server: %v\n", err)
	}

	l.orch.Shutdown()

	if err := RemovePIDFile(l.pidFile); err != nil {
		fmt.Fprintf(os.Stderr, "remove pidfile: %v\n", err)
		return err
	}

	if l.lock != nil {
		if err := l.lock.Release(); err != nil {
			fmt.Fprintf(os.Stderr, "release lock: %v\n", err)
		}
	}
	return nil
}

// Shutdown triggers a graceful shutdown. Safe to call more than once.
func (l *Lifecycle) Shutdown() {
	l.shutdownOnce.Do(func() {
		close(l.shutdownCh)
	})
}
