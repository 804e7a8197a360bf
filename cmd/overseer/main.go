package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	goruntime "runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmarsh/overseer/internal/cli"
	"github.com/dmarsh/overseer/internal/export"
	"github.com/dmarsh/overseer/internal/paths"
	"github.com/dmarsh/overseer/internal/store"
)

var (
	// Build info (set via ldflags).
	Version = "dev"
	Build   = "unknown"
)

var (
	// Global flags.
	flagJSON  bool
	flagQuiet bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "overseer",
		Short: "Local orchestration for long-running agent sessions",
		Long: `Overseer supervises long-running AI agent sessions on this machine.

A background daemon owns session state, transcripts, and tool-use
approvals; this CLI talks to it over a unix socket. Live events stream
over WebSocket via 'overseer watch'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "JSON output for scripting")
	rootCmd.PersistentFlags().BoolVar(&flagQuiet, "quiet", false, "Suppress non-essential output")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("overseer v{{.Version}} (build: " + Build + ", " + goruntime.Version() + ")\n")

	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(approvalsCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(mcpCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// printJSON emits v as indented JSON on stdout.
func printJSON(v any) {
	output, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(output))
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage agent sessions",
	}

	cmd.AddCommand(sessionNewCmd())
	cmd.AddCommand(sessionListCmd())
	cmd.AddCommand(sessionShowCmd())
	cmd.AddCommand(sessionContinueCmd())
	cmd.AddCommand(sessionCancelCmd())
	cmd.AddCommand(sessionPauseCmd())
	cmd.AddCommand(sessionResumeCmd())
	cmd.AddCommand(sessionTranscriptCmd())
	cmd.AddCommand(sessionExportCmd())
	return cmd
}

func sessionNewCmd() *cobra.Command {
	var workDir, provider, model string

	cmd := &cobra.Command{
		Use:   "new <prompt>",
		Short: "Start a new agent session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cli.Connect()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			if workDir == "" {
				if workDir, err = os.Getwd(); err != nil {
					return fmt.Errorf("failed to resolve working directory: %w", err)
				}
			}

			sess, err := cli.SessionNew(client, cli.SessionNewOptions{
				WorkDir:  workDir,
				Prompt:   args[0],
				Provider: provider,
				Model:    model,
			})
			if err != nil {
				return err
			}

			if flagJSON {
				printJSON(sess)
			} else if !flagQuiet {
				fmt.Printf("✓ Session %s created (%s)\n", sess.ID, sess.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workDir, "workdir", "", "Working directory (default: current directory)")
	cmd.Flags().StringVar(&provider, "provider", "", "Agent provider (default from config)")
	cmd.Flags().StringVar(&model, "model", "", "Model identifier (default from config)")
	return cmd
}

func sessionListCmd() *cobra.Command {
	var status string
	var activeOnly bool
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cli.Connect()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			sessions, err := cli.SessionList(client, cli.SessionListOptions{
				Status:     status,
				ActiveOnly: activeOnly,
				Limit:      limit,
			})
			if err != nil {
				return err
			}

			if flagJSON {
				printJSON(sessions)
			} else {
				fmt.Print(cli.FormatSessionList(sessions, time.Now()))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, running, waiting_approval, paused, completed, failed)")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only sessions that have not finished")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max sessions to return")
	return cmd
}

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cli.Connect()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			sess, err := cli.SessionGet(client, args[0])
			if err != nil {
				return err
			}

			if flagJSON {
				printJSON(sess)
			} else {
				fmt.Print(cli.FormatSession(sess))
			}
			return nil
		},
	}
}

func sessionContinueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "continue <session-id> <prompt>",
		Short: "Continue a finished session in a new child session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cli.Connect()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			sess, err := cli.SessionContinue(client, args[0], args[1])
			if err != nil {
				return err
			}

			if flagJSON {
				printJSON(sess)
			} else if !flagQuiet {
				fmt.Printf("✓ Session %s continues %s\n", sess.ID, sess.ParentID)
			}
			return nil
		},
	}
}

func sessionCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Cancel a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cli.Connect()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			sess, err := cli.SessionCancel(client, args[0])
			if err != nil {
				return err
			}

			if flagJSON {
				printJSON(sess)
			} else if !flagQuiet {
				fmt.Printf("✓ Session %s is %s\n", sess.ID, sess.Status)
			}
			return nil
		},
	}
}

func sessionPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <session-id>",
		Short: "Pause a running session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cli.Connect()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			sess, err := cli.SessionPause(client, args[0])
			if err != nil {
				return err
			}

			if flagJSON {
				printJSON(sess)
			} else if !flagQuiet {
				fmt.Printf("✓ Session %s paused\n", sess.ID)
			}
			return nil
		},
	}
}

func sessionResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Resume a paused session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cli.Connect()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			sess, err := cli.SessionResume(client, args[0])
			if err != nil {
				return err
			}

			if flagJSON {
				printJSON(sess)
			} else if !flagQuiet {
				fmt.Printf("✓ Session %s resumed\n", sess.ID)
			}
			return nil
		},
	}
}

func sessionTranscriptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transcript <session-id>",
		Short: "Print the conversation transcript of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cli.Connect()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			transcript, err := cli.SessionTranscript(client, args[0])
			if err != nil {
				return err
			}

			if flagJSON {
				printJSON(transcript)
			} else {
				fmt.Print(cli.FormatTranscript(transcript))
			}
			return nil
		},
	}
}

func sessionExportCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export a session's full history as JSONL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := paths.Home()
			if err != nil {
				return err
			}
			st, err := store.Open(paths.DBPath(home))
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if outPath == "" {
				return export.Session(st, args[0], os.Stdout)
			}
			if err := export.SessionToFile(st, args[0], outPath); err != nil {
				return err
			}
			if !flagQuiet {
				fmt.Printf("✓ Exported %s to %s\n", args[0], outPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write to a file instead of stdout")
	return cmd
}

func approvalsCmd() *cobra.Command {
	var decider string

	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Review and decide tool-use approvals",
	}

	cmd.PersistentFlags().StringVar(&decider, "as", "human", "Decider identity recorded on the approval (e.g. human:alice)")

	var listStatus, listSession string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List approval requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cli.Connect()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			approvals, err := cli.ApprovalList(client, listSession, listStatus)
			if err != nil {
				return err
			}

			if flagJSON {
				printJSON(approvals)
			} else {
				fmt.Print(cli.FormatApprovalList(approvals, time.Now()))
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (pending, approved, denied, expired)")
	listCmd.Flags().StringVar(&listSession, "session", "", "Restrict to one session")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "approve <approval-id>",
		Short: "Approve a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return decide(args[0], true, decider)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "deny <approval-id>",
		Short: "Deny a pending request (fails the session)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return decide(args[0], false, decider)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "review",
		Short: "Walk through pending approvals interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cli.Connect()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			return cli.ReviewApprovals(client, decider)
		},
	})

	return cmd
}

func decide(approvalID string, approve bool, decider string) error {
	client, err := cli.Connect()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	result, err := cli.ApprovalDecide(client, approvalID, approve, decider)
	if err != nil {
		return err
	}

	if flagJSON {
		printJSON(result)
	} else if !flagQuiet {
		verb := "denied"
		if approve {
			verb = "approved"
		}
		fmt.Printf("✓ %s %s; session is %s\n", result.Approval.ID, verb, result.SessionStatus)
	}
	return nil
}

func eventsCmd() *cobra.Command {
	var sinceSeq int64
	var sessionID string
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Replay journal events after a sequence number",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cli.Connect()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			events, err := cli.EventsSince(client, sinceSeq, sessionID, limit)
			if err != nil {
				return err
			}

			if flagJSON {
				printJSON(events)
			} else {
				fmt.Print(cli.FormatEventList(events))
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&sinceSeq, "since", 0, "Replay events with seq greater than this")
	cmd.Flags().StringVar(&sessionID, "session", "", "Restrict to one session")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max events to return")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [session-id]",
		Short: "Stream live events from the daemon",
		Long: `Subscribes to the daemon's WebSocket event feed and prints events
as they happen. With a session ID, only that session's events are shown.
If the feed falls behind and frames are dropped, a gap notice is printed;
replay the missed range with 'overseer events --since <seq>'.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := ""
			if len(args) > 0 {
				sessionID = args[0]
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			return cli.Watch(ctx, cli.WatchOptions{
				SessionID: sessionID,
				JSON:      flagJSON,
				Out:       os.Stdout,
			})
		},
	}
}
