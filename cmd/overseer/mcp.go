package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dmarsh/overseer/internal/cli"
	overseermcp "github.com/dmarsh/overseer/internal/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "MCP server integration",
	}

	cmd.AddCommand(mcpServeCmd())
	return cmd
}

func mcpServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start MCP stdio server for session orchestration",
		Long: `Starts an MCP server on stdin/stdout exposing session and approval
tools. Requires the overseer daemon to be running.

Configure in an MCP client's settings:
  {
    "mcpServers": {
      "overseer": {
        "type": "stdio",
        "command": "overseer",
        "args": ["mcp", "serve"]
      }
    }
  }`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCPServe()
		},
	}
}

func runMCPServe() error {
	// Probe the daemon before binding to stdio.
	client, err := cli.Connect()
	if err != nil {
		return err
	}
	var healthResult map[string]any
	if err := client.CallInto("health", nil, &healthResult); err != nil {
		_ = client.Close()
		return fmt.Errorf("overseer daemon is not responding, restart with: overseer daemon start\n  (error: %w)", err)
	}
	_ = client.Close()

	server, err := overseermcp.NewServer(overseermcp.WithVersion(Version))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return server.Run(ctx)
}
