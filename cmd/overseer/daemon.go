package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmarsh/overseer/internal/agent"
	"github.com/dmarsh/overseer/internal/cli"
	"github.com/dmarsh/overseer/internal/config"
	"github.com/dmarsh/overseer/internal/daemon"
	"github.com/dmarsh/overseer/internal/daemon/rpc"
	"github.com/dmarsh/overseer/internal/paths"
	"github.com/dmarsh/overseer/internal/store"
	"github.com/dmarsh/overseer/internal/websocket"
)

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the overseer daemon",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.DaemonStart(); err != nil {
				return err
			}
			if !flagQuiet {
				fmt.Println("✓ Daemon started")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon gracefully",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.DaemonStop(); err != nil {
				return err
			}
			if !flagQuiet {
				fmt.Println("✓ Daemon stopped")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restart",
		Short: "Restart the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.DaemonRestart(); err != nil {
				return err
			}
			if !flagQuiet {
				fmt.Println("✓ Daemon restarted")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := cli.DaemonStatus()
			if err != nil {
				return err
			}
			if flagJSON {
				output, _ := json.MarshalIndent(result, "", "  ")
				fmt.Println(string(output))
			} else {
				fmt.Print(cli.FormatDaemonStatus(result))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:    "run",
		Short:  "Run the daemon in the foreground (internal use)",
		Hidden: true, // used internally by daemon start
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	})

	return cmd
}

// runDaemon assembles and runs the daemon: store, adapters, orchestrator,
// unix socket RPC server, WebSocket push server, and lifecycle management.
func runDaemon(ctx context.Context) error {
	home, err := paths.EnsureHome()
	if err != nil {
		return fmt.Errorf("prepare home directory: %w", err)
	}

	cfg, err := config.Load(paths.ConfigPath(home))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(paths.DBPath(home))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	registry := agent.NewRegistry()
	registry.Register(agent.NewAnthropicAdapter())
	registry.Register(agent.NewScriptAdapter(agent.EchoSteps))

	orch := daemon.NewOrchestrator(ctx, st, registry, cfg)

	server := daemon.NewServer(paths.SocketPath(home))
	wsHandlers := websocket.HandlerMap{}
	wsServer := websocket.NewServer(cfg.WSAddr, wsHandlers, orch.Broker)

	lifecycle := daemon.NewLifecycle(server, orch, paths.PidfilePath(home), wsServer, paths.PortfilePath(home))
	lifecycle.SetPaths(home, paths.SocketPath(home), paths.LockPath(home))

	registerHandlers(server, wsHandlers, wsServer.Port, orch, lifecycle)

	return lifecycle.Run(ctx)
}

// registerHandlers registers every RPC method on both transports. The
// WebSocket server additionally handles subscribe/unsubscribe natively.
func registerHandlers(server *daemon.Server, wsHandlers websocket.HandlerMap, wsPort func() int, orch *daemon.Orchestrator, lifecycle *daemon.Lifecycle) {
	handlers := map[string]daemon.Handler{}

	sessionHandler := rpc.NewSessionHandler(orch)
	handlers["session.create"] = sessionHandler.HandleCreate
	handlers["session.get"] = sessionHandler.HandleGet
	handlers["session.list"] = sessionHandler.HandleList
	handlers["session.continue"] = sessionHandler.HandleContinue
	handlers["session.cancel"] = sessionHandler.HandleCancel
	handlers["session.pause"] = sessionHandler.HandlePause
	handlers["session.resume"] = sessionHandler.HandleResume
	handlers["session.transcript"] = sessionHandler.HandleTranscript

	approvalHandler := rpc.NewApprovalHandler(orch)
	handlers["approval.decide"] = approvalHandler.HandleDecide
	handlers["approval.get"] = approvalHandler.HandleGet
	handlers["approval.list"] = approvalHandler.HandleList
	handlers["approval.pending"] = approvalHandler.HandlePending

	eventsHandler := rpc.NewEventsHandler(orch)
	handlers["events.since"] = eventsHandler.HandleSince

	healthHandler := rpc.NewHealthHandler(orch, time.Now(), Version+"+"+Build)
	healthHandler.SetWSPortFunc(wsPort)
	handlers["health"] = healthHandler.Handle

	shutdownHandler := rpc.NewShutdownHandler(lifecycle.Shutdown)
	handlers["daemon.shutdown"] = shutdownHandler.Handle

	for method, h := range handlers {
		server.RegisterHandler(method, h)
		wsHandlers[method] = websocket.Handler(h)
	}
}
