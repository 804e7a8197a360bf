// Package types defines the domain model shared by the store, the session
// state machine, the approval engine, and the transport layer.
package types

import "time"

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusPending         SessionStatus = "pending"
	StatusRunning         SessionStatus = "running"
	StatusWaitingApproval SessionStatus = "waiting_approval"
	StatusPaused          SessionStatus = "paused"
	StatusCompleted       SessionStatus = "completed"
	StatusFailed          SessionStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusWaitingApproval,
		StatusPaused, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// TokenUsage tracks token consumption, with cache creation and cache read
// counted separately from plain input tokens.
type TokenUsage struct {
	Input         int64 `json:"input_tokens"`
	Output        int64 `json:"output_tokens"`
	CacheCreation int64 `json:"cache_creation_tokens"`
	CacheRead     int64 `json:"cache_read_tokens"`
}

// Add accumulates another usage sample into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
	u.CacheCreation += other.CacheCreation
	u.CacheRead += other.CacheRead
}

// IsZero reports whether no tokens have been counted.
func (u TokenUsage) IsZero() bool {
	return u.Input == 0 && u.Output == 0 && u.CacheCreation == 0 && u.CacheRead == 0
}

// Session is one end-to-end execution of an agent against a task.
// A session with a ParentID continues its parent's conversation context.
type Session struct {
	ID           string        `json:"session_id"`
	ParentID     string        `json:"parent_id,omitempty"`
	Status       SessionStatus `json:"status"`
	StatusReason string        `json:"status_reason,omitempty"`
	WorkDir      string        `json:"work_dir"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	Prompt       string        `json:"prompt,omitempty"`
	Usage        TokenUsage    `json:"usage"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// TurnRole identifies who produced a conversation turn.
type TurnRole string

const (
	RoleAgent  TurnRole = "agent"
	RoleHuman  TurnRole = "human"
	RoleSystem TurnRole = "system"
)

// ConversationTurn is one append-only entry in a session's transcript,
// strictly ordered by Seq within its session. Never mutated after creation.
type ConversationTurn struct {
	ID        string     `json:"turn_id"`
	SessionID string     `json:"session_id"`
	Seq       int64      `json:"seq"`
	Role      TurnRole   `json:"role"`
	Content   string     `json:"content"`
	Usage     TokenUsage `json:"usage"`
	CreatedAt time.Time  `json:"created_at"`
}

// ApprovalStatus is the lifecycle state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
	ApprovalExpired  ApprovalStatus = "expired"
)

// Terminal reports whether the approval has been resolved.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalDenied || s == ApprovalExpired
}

// ApprovalRequest is a durable record gating a sensitive agent-proposed
// action pending a human decision. At most one pending request may exist
// per session; status transitions exactly once from pending to a terminal
// state.
type ApprovalRequest struct {
	ID        string         `json:"approval_id"`
	SessionID string         `json:"session_id"`
	ToolName  string         `json:"tool_name"`
	CallID    string         `json:"call_id,omitempty"`
	Payload   string         `json:"payload,omitempty"`
	Status    ApprovalStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	DecidedAt *time.Time     `json:"decided_at,omitempty"`
	DecidedBy string         `json:"decided_by,omitempty"`
}

// SessionFilter selects sessions for listing. Zero value matches all.
type SessionFilter struct {
	Status   SessionStatus `json:"status,omitempty"`
	ParentID string        `json:"parent_id,omitempty"`
	Active   bool          `json:"active,omitempty"` // non-terminal only
	Limit    int           `json:"limit,omitempty"`
}

// SessionMutation describes an in-place session update applied atomically
// by the store. Nil fields are left unchanged.
type SessionMutation struct {
	Status       *SessionStatus
	StatusReason *string
	AddUsage     *TokenUsage
}
