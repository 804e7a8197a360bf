package mcp

import (
	"context"
	"fmt"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dmarsh/overseer/internal/daemon/rpc"
	"github.com/dmarsh/overseer/internal/types"
)

func sessionInfo(s *types.Session) SessionInfo {
	return SessionInfo{
		SessionID:    s.ID,
		ParentID:     s.ParentID,
		Status:       string(s.Status),
		StatusReason: s.StatusReason,
		Prompt:       s.Prompt,
		Model:        s.Model,
		InputTokens:  s.Usage.Input,
		OutputTokens: s.Usage.Output,
		CreatedAt:    s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    s.UpdatedAt.Format(time.RFC3339),
	}
}

func approvalInfo(a *types.ApprovalRequest) ApprovalInfo {
	info := ApprovalInfo{
		ApprovalID: a.ID,
		SessionID:  a.SessionID,
		ToolName:   a.ToolName,
		Payload:    a.Payload,
		Status:     string(a.Status),
		CreatedAt:  a.CreatedAt.Format(time.RFC3339),
		DecidedBy:  a.DecidedBy,
	}
	if a.ExpiresAt != nil {
		info.ExpiresAt = a.ExpiresAt.Format(time.RFC3339)
	}
	return info
}

// handleCreateSession starts a new session via the daemon RPC.
func (s *Server) handleCreateSession(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input CreateSessionInput,
) (*gomcp.CallToolResult, CreateSessionOutput, error) {
	if input.WorkDir == "" {
		return nil, CreateSessionOutput{}, fmt.Errorf("'work_dir' is required")
	}
	if input.Prompt == "" {
		return nil, CreateSessionOutput{}, fmt.Errorf("'prompt' is required")
	}

	client, err := s.newDaemonClient()
	if err != nil {
		return nil, CreateSessionOutput{}, err
	}
	defer func() { _ = client.Close() }()

	var sess types.Session
	createReq := rpc.SessionCreateRequest{
		WorkDir:  input.WorkDir,
		Prompt:   input.Prompt,
		Provider: input.Provider,
		Model:    input.Model,
	}
	if err := client.CallInto("session.create", createReq, &sess); err != nil {
		return nil, CreateSessionOutput{}, fmt.Errorf("create session: %w", err)
	}

	return nil, CreateSessionOutput{
		SessionID: sess.ID,
		Status:    string(sess.Status),
	}, nil
}

// handleListSessions lists sessions via the daemon RPC.
func (s *Server) handleListSessions(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input ListSessionsInput,
) (*gomcp.CallToolResult, ListSessionsOutput, error) {
	client, err := s.newDaemonClient()
	if err != nil {
		return nil, ListSessionsOutput{}, err
	}
	defer func() { _ = client.Close() }()

	listReq := rpc.SessionListRequest{
		Status:     input.Status,
		ActiveOnly: input.ActiveOnly,
		Limit:      input.Limit,
	}
	var listResp rpc.SessionListResponse
	if err := client.CallInto("session.list", listReq, &listResp); err != nil {
		return nil, ListSessionsOutput{}, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]SessionInfo, 0, len(listResp.Sessions))
	for _, sess := range listResp.Sessions {
		sessions = append(sessions, sessionInfo(sess))
	}

	return nil, ListSessionsOutput{
		Sessions: sessions,
		Count:    len(sessions),
	}, nil
}

// handleGetSession fetches one session via the daemon RPC.
func (s *Server) handleGetSession(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input GetSessionInput,
) (*gomcp.CallToolResult, SessionInfo, error) {
	if input.SessionID == "" {
		return nil, SessionInfo{}, fmt.Errorf("'session_id' is required")
	}

	client, err := s.newDaemonClient()
	if err != nil {
		return nil, SessionInfo{}, err
	}
	defer func() { _ = client.Close() }()

	var sess types.Session
	getReq := rpc.SessionGetRequest{SessionID: input.SessionID}
	if err := client.CallInto("session.get", getReq, &sess); err != nil {
		return nil, SessionInfo{}, fmt.Errorf("get session: %w", err)
	}

	return nil, sessionInfo(&sess), nil
}

// handleGetTranscript fetches a session transcript via the daemon RPC.
func (s *Server) handleGetTranscript(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input GetTranscriptInput,
) (*gomcp.CallToolResult, GetTranscriptOutput, error) {
	if input.SessionID == "" {
		return nil, GetTranscriptOutput{}, fmt.Errorf("'session_id' is required")
	}

	client, err := s.newDaemonClient()
	if err != nil {
		return nil, GetTranscriptOutput{}, err
	}
	defer func() { _ = client.Close() }()

	var transcript rpc.TranscriptResponse
	tReq := rpc.TranscriptRequest{SessionID: input.SessionID}
	if err := client.CallInto("session.transcript", tReq, &transcript); err != nil {
		return nil, GetTranscriptOutput{}, fmt.Errorf("get transcript: %w", err)
	}

	turns := make([]TurnInfo, 0, len(transcript.Turns))
	for _, turn := range transcript.Turns {
		turns = append(turns, TurnInfo{
			Seq:       turn.Seq,
			Role:      string(turn.Role),
			Content:   turn.Content,
			CreatedAt: turn.CreatedAt.Format(time.RFC3339),
		})
	}

	return nil, GetTranscriptOutput{
		SessionID: transcript.SessionID,
		Turns:     turns,
	}, nil
}

// handleContinueSession forks a child session via the daemon RPC.
func (s *Server) handleContinueSession(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input ContinueSessionInput,
) (*gomcp.CallToolResult, CreateSessionOutput, error) {
	if input.SessionID == "" {
		return nil, CreateSessionOutput{}, fmt.Errorf("'session_id' is required")
	}
	if input.Prompt == "" {
		return nil, CreateSessionOutput{}, fmt.Errorf("'prompt' is required")
	}

	client, err := s.newDaemonClient()
	if err != nil {
		return nil, CreateSessionOutput{}, err
	}
	defer func() { _ = client.Close() }()

	var sess types.Session
	contReq := rpc.SessionContinueRequest{SessionID: input.SessionID, Prompt: input.Prompt}
	if err := client.CallInto("session.continue", contReq, &sess); err != nil {
		return nil, CreateSessionOutput{}, fmt.Errorf("continue session: %w", err)
	}

	return nil, CreateSessionOutput{
		SessionID: sess.ID,
		Status:    string(sess.Status),
	}, nil
}

// handleCancelSession cancels a session via the daemon RPC.
func (s *Server) handleCancelSession(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input CancelSessionInput,
) (*gomcp.CallToolResult, CancelSessionOutput, error) {
	if input.SessionID == "" {
		return nil, CancelSessionOutput{}, fmt.Errorf("'session_id' is required")
	}

	client, err := s.newDaemonClient()
	if err != nil {
		return nil, CancelSessionOutput{}, err
	}
	defer func() { _ = client.Close() }()

	var sess types.Session
	cancelReq := rpc.SessionCancelRequest{SessionID: input.SessionID}
	if err := client.CallInto("session.cancel", cancelReq, &sess); err != nil {
		return nil, CancelSessionOutput{}, fmt.Errorf("cancel session: %w", err)
	}

	return nil, CancelSessionOutput{
		SessionID: sess.ID,
		Status:    string(sess.Status),
	}, nil
}

// handleListApprovals lists approval requests via the daemon RPC.
func (s *Server) handleListApprovals(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input ListApprovalsInput,
) (*gomcp.CallToolResult, ListApprovalsOutput, error) {
	client, err := s.newDaemonClient()
	if err != nil {
		return nil, ListApprovalsOutput{}, err
	}
	defer func() { _ = client.Close() }()

	listReq := rpc.ApprovalListRequest{SessionID: input.SessionID, Status: input.Status}
	var listResp rpc.ApprovalListResponse
	if err := client.CallInto("approval.list", listReq, &listResp); err != nil {
		return nil, ListApprovalsOutput{}, fmt.Errorf("list approvals: %w", err)
	}

	approvals := make([]ApprovalInfo, 0, len(listResp.Approvals))
	for _, a := range listResp.Approvals {
		approvals = append(approvals, approvalInfo(a))
	}

	return nil, ListApprovalsOutput{
		Approvals: approvals,
		Count:     len(approvals),
	}, nil
}

// handleDecideApproval resolves an approval via the daemon RPC.
func (s *Server) handleDecideApproval(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input DecideApprovalInput,
) (*gomcp.CallToolResult, DecideApprovalOutput, error) {
	if input.ApprovalID == "" {
		return nil, DecideApprovalOutput{}, fmt.Errorf("'approval_id' is required")
	}

	client, err := s.newDaemonClient()
	if err != nil {
		return nil, DecideApprovalOutput{}, err
	}
	defer func() { _ = client.Close() }()

	decideReq := rpc.ApprovalDecideRequest{
		ApprovalID: input.ApprovalID,
		Approve:    input.Approve,
		DecidedBy:  input.DecidedBy,
	}
	var decideResp rpc.ApprovalDecideResponse
	if err := client.CallInto("approval.decide", decideReq, &decideResp); err != nil {
		return nil, DecideApprovalOutput{}, fmt.Errorf("decide approval: %w", err)
	}

	return nil, DecideApprovalOutput{
		ApprovalID:    decideResp.Approval.ID,
		Status:        string(decideResp.Approval.Status),
		SessionStatus: string(decideResp.SessionStatus),
	}, nil
}
