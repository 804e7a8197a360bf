package mcp

// CreateSessionInput is the input for the create_session MCP tool.
type CreateSessionInput struct {
	WorkDir  string `json:"work_dir" jsonschema:"Working directory the session operates in"`
	Prompt   string `json:"prompt" jsonschema:"Initial instruction for the agent"`
	Provider string `json:"provider,omitempty" jsonschema:"Agent provider name. Defaults to the configured provider"`
	Model    string `json:"model,omitempty" jsonschema:"Model identifier. Defaults to the configured model"`
}

// CreateSessionOutput is the output for the create_session MCP tool.
type CreateSessionOutput struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// ListSessionsInput is the input for the list_sessions MCP tool.
type ListSessionsInput struct {
	Status     string `json:"status,omitempty" jsonschema:"Filter by status: pending, running, waiting_approval, paused, completed, or failed"`
	ActiveOnly bool   `json:"active_only,omitempty" jsonschema:"Only sessions that have not finished"`
	Limit      int    `json:"limit,omitempty" jsonschema:"Max sessions to return"`
}

// SessionInfo summarises one session for MCP clients.
type SessionInfo struct {
	SessionID    string `json:"session_id"`
	ParentID     string `json:"parent_id,omitempty"`
	Status       string `json:"status"`
	StatusReason string `json:"status_reason,omitempty"`
	Prompt       string `json:"prompt,omitempty"`
	Model        string `json:"model"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// ListSessionsOutput is the output for the list_sessions MCP tool.
type ListSessionsOutput struct {
	Sessions []SessionInfo `json:"sessions"`
	Count    int           `json:"count"`
}

// GetSessionInput is the input for the get_session MCP tool.
type GetSessionInput struct {
	SessionID string `json:"session_id" jsonschema:"Session ID (ses_...)"`
}

// GetTranscriptInput is the input for the get_transcript MCP tool.
type GetTranscriptInput struct {
	SessionID string `json:"session_id" jsonschema:"Session ID (ses_...)"`
}

// TurnInfo is one transcript entry returned by get_transcript.
type TurnInfo struct {
	Seq       int64  `json:"seq"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// GetTranscriptOutput is the output for the get_transcript MCP tool.
type GetTranscriptOutput struct {
	SessionID string     `json:"session_id"`
	Turns     []TurnInfo `json:"turns"`
}

// ContinueSessionInput is the input for the continue_session MCP tool.
type ContinueSessionInput struct {
	SessionID string `json:"session_id" jsonschema:"Parent session ID to continue from"`
	Prompt    string `json:"prompt" jsonschema:"Follow-up instruction"`
}

// CancelSessionInput is the input for the cancel_session MCP tool.
type CancelSessionInput struct {
	SessionID string `json:"session_id" jsonschema:"Session ID (ses_...)"`
}

// CancelSessionOutput is the output for the cancel_session MCP tool.
type CancelSessionOutput struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// ListApprovalsInput is the input for the list_approvals MCP tool.
type ListApprovalsInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"Restrict to one session"`
	Status    string `json:"status,omitempty" jsonschema:"Filter by status: pending, approved, denied, or expired"`
}

// ApprovalInfo summarises one approval request for MCP clients.
type ApprovalInfo struct {
	ApprovalID string `json:"approval_id"`
	SessionID  string `json:"session_id"`
	ToolName   string `json:"tool_name"`
	Payload    string `json:"payload,omitempty"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	ExpiresAt  string `json:"expires_at,omitempty"`
	DecidedBy  string `json:"decided_by,omitempty"`
}

// ListApprovalsOutput is the output for the list_approvals MCP tool.
type ListApprovalsOutput struct {
	Approvals []ApprovalInfo `json:"approvals"`
	Count     int            `json:"count"`
}

// DecideApprovalInput is the input for the decide_approval MCP tool.
type DecideApprovalInput struct {
	ApprovalID string `json:"approval_id" jsonschema:"Approval ID (apr_...)"`
	Approve    bool   `json:"approve" jsonschema:"true to approve, false to deny"`
	DecidedBy  string `json:"decided_by,omitempty" jsonschema:"Decider identity such as human:alice. Default: human"`
}

// DecideApprovalOutput is the output for the decide_approval MCP tool.
type DecideApprovalOutput struct {
	ApprovalID    string `json:"approval_id"`
	Status        string `json:"status"`
	SessionStatus string `json:"session_status"`
}
