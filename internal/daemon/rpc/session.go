package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmarsh/overseer/internal/daemon"
	"github.com/dmarsh/overseer/internal/session"
	"github.com/dmarsh/overseer/internal/types"
)

// SessionCreateRequest represents the request for session.create.
type SessionCreateRequest struct {
	WorkDir  string `json:"work_dir"`           // Required
	Prompt   string `json:"prompt"`             // Required: initial instruction
	Provider string `json:"provider,omitempty"` // Default from config
	Model    string `json:"model,omitempty"`    // Default from config
}

// SessionGetRequest represents the request for session.get.
type SessionGetRequest struct {
	SessionID string `json:"session_id"`
}

// SessionListRequest represents the request for session.list.
type SessionListRequest struct {
	Status     string `json:"status,omitempty"`
	ParentID   string `json:"parent_id,omitempty"`
	ActiveOnly bool   `json:"active_only,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// SessionListResponse represents the response from session.list.
type SessionListResponse struct {
	Sessions []*types.Session `json:"sessions"`
}

// SessionContinueRequest represents the request for session.continue.
type SessionContinueRequest struct {
	SessionID string `json:"session_id"` // Required: parent to continue from
	Prompt    string `json:"prompt"`     // Required: next instruction
}

// SessionCancelRequest represents the request for session.cancel.
type SessionCancelRequest struct {
	SessionID string `json:"session_id"`
}

// SessionPauseRequest represents the request for session.pause.
type SessionPauseRequest struct {
	SessionID string `json:"session_id"`
}

// SessionResumeRequest represents the request for session.resume.
type SessionResumeRequest struct {
	SessionID string `json:"session_id"`
}

// TranscriptRequest represents the request for session.transcript.
type TranscriptRequest struct {
	SessionID string `json:"session_id"`
}

// TranscriptResponse represents the response from session.transcript.
type TranscriptResponse struct {
	SessionID string                    `json:"session_id"`
	Turns     []*types.ConversationTurn `json:"turns"`
}

// SessionHandler handles session lifecycle RPC methods.
type SessionHandler struct {
	orch *daemon.Orchestrator
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(orch *daemon.Orchestrator) *SessionHandler {
	return &SessionHandler{orch: orch}
}

// HandleCreate handles the session.create RPC method.
func (h *SessionHandler) HandleCreate(ctx context.Context, params json.RawMessage) (any, error) {
	var req SessionCreateRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.WorkDir == "" {
		return nil, fmt.Errorf("work_dir is required")
	}
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	return h.orch.CreateSession(session.CreateConfig{
		WorkDir:  req.WorkDir,
		Provider: req.Provider,
		Model:    req.Model,
		Prompt:   req.Prompt,
	})
}

// HandleGet handles the session.get RPC method.
func (h *SessionHandler) HandleGet(ctx context.Context, params json.RawMessage) (any, error) {
	var req SessionGetRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.SessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	return h.orch.Sessions.Get(req.SessionID)
}

// HandleList handles the session.list RPC method.
func (h *SessionHandler) HandleList(ctx context.Context, params json.RawMessage) (any, error) {
	var req SessionListRequest
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
	}

	filter := types.SessionFilter{
		ParentID: req.ParentID,
		Active:   req.ActiveOnly,
		Limit:    req.Limit,
	}
	if req.Status != "" {
		status := types.SessionStatus(req.Status)
		if !status.Valid() {
			return nil, fmt.Errorf("unknown status %q", req.Status)
		}
		filter.Status = status
	}

	sessions, err := h.orch.Sessions.List(filter)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []*types.Session{}
	}
	return &SessionListResponse{Sessions: sessions}, nil
}

// HandleContinue handles the session.continue RPC method.
func (h *SessionHandler) HandleContinue(ctx context.Context, params json.RawMessage) (any, error) {
	var req SessionContinueRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.SessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	return h.orch.ContinueSession(req.SessionID, req.Prompt)
}

// HandleCancel handles the session.cancel RPC method.
func (h *SessionHandler) HandleCancel(ctx context.Context, params json.RawMessage) (any, error) {
	var req SessionCancelRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.SessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	return h.orch.CancelSession(req.SessionID)
}

// HandlePause handles the session.pause RPC method.
func (h *SessionHandler) HandlePause(ctx context.Context, params json.RawMessage) (any, error) {
	var req SessionPauseRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.SessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	return h.orch.PauseSession(req.SessionID)
}

// HandleResume handles the session.resume RPC method.
func (h *SessionHandler) HandleResume(ctx context.Context, params json.RawMessage) (any, error) {
	var req SessionResumeRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.SessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	return h.orch.ResumeSession(req.SessionID)
}

// HandleTranscript handles the session.transcript RPC method.
func (h *SessionHandler) HandleTranscript(ctx context.Context, params json.RawMessage) (any, error) {
	var req TranscriptRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.SessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}

	// Verify the session exists so a bad id reads as not_found, not an
	// empty transcript.
	if _, err := h.orch.Sessions.Get(req.SessionID); err != nil {
		return nil, err
	}
	turns, err := h.orch.Store.ListTurns(req.SessionID)
	if err != nil {
		return nil, err
	}
	if turns == nil {
		turns = []*types.ConversationTurn{}
	}
	return &TranscriptResponse{SessionID: req.SessionID, Turns: turns}, nil
}
