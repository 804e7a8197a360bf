package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmarsh/overseer/internal/daemon"
	"github.com/dmarsh/overseer/internal/types"
)

// ApprovalDecideRequest represents the request for approval.decide.
type ApprovalDecideRequest struct {
	ApprovalID string `json:"approval_id"` // Required
	Approve    bool   `json:"approve"`
	DecidedBy  string `json:"decided_by,omitempty"` // Defaults to "human"
}

// ApprovalDecideResponse represents the response from approval.decide.
type ApprovalDecideResponse struct {
	Approval      *types.ApprovalRequest `json:"approval"`
	SessionStatus types.SessionStatus    `json:"session_status"`
}

// ApprovalGetRequest represents the request for approval.get.
type ApprovalGetRequest struct {
	ApprovalID string `json:"approval_id"`
}

// ApprovalListRequest represents the request for approval.list.
type ApprovalListRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

// ApprovalListResponse represents the response from approval.list.
type ApprovalListResponse struct {
	Approvals []*types.ApprovalRequest `json:"approvals"`
}

// ApprovalPendingRequest represents the request for approval.pending.
type ApprovalPendingRequest struct {
	SessionID string `json:"session_id"`
}

// ApprovalHandler handles approval workflow RPC methods.
type ApprovalHandler struct {
	orch *daemon.Orchestrator
}

// NewApprovalHandler creates a new approval handler.
func NewApprovalHandler(orch *daemon.Orchestrator) *ApprovalHandler {
	return &ApprovalHandler{orch: orch}
}

// HandleDecide handles the approval.decide RPC method.
func (h *ApprovalHandler) HandleDecide(ctx context.Context, params json.RawMessage) (any, error) {
	var req ApprovalDecideRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.ApprovalID == "" {
		return nil, fmt.Errorf("approval_id is required")
	}
	decider := req.DecidedBy
	if decider == "" {
		decider = "human"
	}

	res, err := h.orch.DecideApproval(req.ApprovalID, req.Approve, decider)
	if err != nil {
		return nil, err
	}
	return &ApprovalDecideResponse{
		Approval:      res.Approval,
		SessionStatus: res.SessionStatus,
	}, nil
}

// HandleGet handles the approval.get RPC method.
func (h *ApprovalHandler) HandleGet(ctx context.Context, params json.RawMessage) (any, error) {
	var req ApprovalGetRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.ApprovalID == "" {
		return nil, fmt.Errorf("approval_id is required")
	}
	return h.orch.Store.GetApproval(req.ApprovalID)
}

// HandleList handles the approval.list RPC method.
func (h *ApprovalHandler) HandleList(ctx context.Context, params json.RawMessage) (any, error) {
	var req ApprovalListRequest
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
	}

	approvals, err := h.orch.Store.ListApprovals(req.SessionID, types.ApprovalStatus(req.Status))
	if err != nil {
		return nil, err
	}
	if approvals == nil {
		approvals = []*types.ApprovalRequest{}
	}
	return &ApprovalListResponse{Approvals: approvals}, nil
}

// HandlePending handles the approval.pending RPC method: the single
// pending approval for a session, or not_found.
func (h *ApprovalHandler) HandlePending(ctx context.Context, params json.RawMessage) (any, error) {
	var req ApprovalPendingRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.SessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	return h.orch.Store.GetPendingApproval(req.SessionID)
}
