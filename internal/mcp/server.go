// Package mcp exposes overseer's session and approval operations as MCP
// tools over stdio, proxying each call to the running daemon's unix
// socket. Agents drive overseer through these tools instead of shelling
// out to the CLI.
package mcp

import (
	"context"
	"fmt"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dmarsh/overseer/internal/daemon"
	"github.com/dmarsh/overseer/internal/paths"
)

// Server is the overseer MCP server.
type Server struct {
	socketPath string
	version    string
	server     *gomcp.Server
}

// Option configures the MCP server.
type Option func(*Server)

// WithVersion sets the server version string.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// NewServer creates an MCP server bound to the daemon socket for the
// current overseer home.
func NewServer(opts ...Option) (*Server, error) {
	home, err := paths.Home()
	if err != nil {
		return nil, fmt.Errorf("resolve home: %w", err)
	}

	s := &Server{
		socketPath: paths.SocketPath(home),
		version:    "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{
			Name:    "overseer",
			Version: s.version,
		},
		nil,
	)
	s.registerTools()

	return s, nil
}

// Run starts the MCP server on stdin/stdout. It blocks until the client
// disconnects or the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// newDaemonClient opens a per-call daemon RPC connection. daemon.Client
// serializes calls internally, but a fresh connection per tool call keeps
// slow calls from head-of-line blocking each other.
func (s *Server) newDaemonClient() (*daemon.Client, error) {
	client, err := daemon.NewClient(s.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w", s.socketPath, err)
	}
	return client, nil
}

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "create_session",
		Description: "Start a new agent session with an initial prompt. Returns the session ID to poll or continue later.",
	}, s.handleCreateSession)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_sessions",
		Description: "List agent sessions, optionally filtered by status or restricted to active (non-terminal) ones",
	}, s.handleListSessions)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_session",
		Description: "Get the current state of one session including status, failure reason, and token usage",
	}, s.handleGetSession)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_transcript",
		Description: "Fetch the ordered conversation transcript of a session",
	}, s.handleGetTranscript)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "continue_session",
		Description: "Continue a finished session's conversation in a new child session with a follow-up prompt",
	}, s.handleContinueSession)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "cancel_session",
		Description: "Cancel a session. Idempotent: cancelling a finished session is a no-op.",
	}, s.handleCancelSession)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_approvals",
		Description: "List tool-use approval requests, optionally filtered by session or status",
	}, s.handleListApprovals)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "decide_approval",
		Description: "Approve or deny a pending tool-use approval request. Denial fails the session.",
	}, s.handleDecideApproval)
}
