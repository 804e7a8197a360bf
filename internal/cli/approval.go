package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/dmarsh/overseer/internal/daemon"
	"github.com/dmarsh/overseer/internal/daemon/rpc"
	"github.com/dmarsh/overseer/internal/types"
)

// ApprovalList lists approval requests, optionally filtered.
func ApprovalList(client *daemon.Client, sessionID, status string) ([]*types.ApprovalRequest, error) {
	req := rpc.ApprovalListRequest{SessionID: sessionID, Status: status}

	var result rpc.ApprovalListResponse
	if err := client.CallInto("approval.list", req, &result); err != nil {
		return nil, fmt.Errorf("approval.list RPC failed: %w", err)
	}
	return result.Approvals, nil
}

// ApprovalDecide resolves an approval request.
func ApprovalDecide(client *daemon.Client, approvalID string, approve bool, decider string) (*rpc.ApprovalDecideResponse, error) {
	req := rpc.ApprovalDecideRequest{
		ApprovalID: approvalID,
		Approve:    approve,
		DecidedBy:  decider,
	}

	var result rpc.ApprovalDecideResponse
	if err := client.CallInto("approval.decide", req, &result); err != nil {
		return nil, fmt.Errorf("approval.decide RPC failed: %w", err)
	}
	return &result, nil
}

// ApprovalPending fetches the pending approval for a session, if any.
func ApprovalPending(client *daemon.Client, sessionID string) (*types.ApprovalRequest, error) {
	var result types.ApprovalRequest
	err := client.CallInto("approval.pending", rpc.ApprovalPendingRequest{SessionID: sessionID}, &result)
	if err != nil {
		return nil, fmt.Errorf("approval.pending RPC failed: %w", err)
	}
	return &result, nil
}

// ReviewApprovals walks through all pending approvals interactively,
// prompting y/n/s for each. Requires stdin to be a terminal.
func ReviewApprovals(client *daemon.Client, decider string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("interactive review requires a terminal; use 'overseer approvals approve <id>' instead")
	}

	pending, err := ApprovalList(client, "", string(types.ApprovalPending))
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("No pending approvals.")
		return nil
	}

	reader := bufio.NewReader(os.Stdin)
	for i, apr := range pending {
		fmt.Printf("\n[%d/%d] %s\n", i+1, len(pending), FormatApproval(apr, time.Now()))
		fmt.Print("Approve? [y]es / [n]o / [s]kip: ")

		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			if _, err := ApprovalDecide(client, apr.ID, true, decider); err != nil {
				return err
			}
			fmt.Println("✓ Approved")
		case "n", "no":
			if _, err := ApprovalDecide(client, apr.ID, false, decider); err != nil {
				return err
			}
			fmt.Println("✗ Denied")
		default:
			fmt.Println("Skipped")
		}
	}
	return nil
}

// FormatApprovalList renders approvals as an aligned table.
func FormatApprovalList(approvals []*types.ApprovalRequest, now time.Time) string {
	if len(approvals) == 0 {
		return "No approvals found.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-14s %-14s %-20s %-10s %s\n",
		"APPROVAL", "SESSION", "TOOL", "STATUS", "AGE")
	for _, a := range approvals {
		fmt.Fprintf(&b, "%-14s %-14s %-20s %-10s %s\n",
			shortID(a.ID),
			shortID(a.SessionID),
			truncate(a.ToolName, 20),
			a.Status,
			formatAge(a.CreatedAt, now))
	}
	fmt.Fprintf(&b, "\n%d approval(s)\n", len(approvals))
	return b.String()
}

// FormatApproval renders one approval request in detail, pretty-printing
// the tool payload when it is valid JSON.
func FormatApproval(a *types.ApprovalRequest, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Approval:   %s\n", a.ID)
	fmt.Fprintf(&b, "Session:    %s\n", a.SessionID)
	fmt.Fprintf(&b, "Tool:       %s\n", a.ToolName)
	fmt.Fprintf(&b, "Status:     %s\n", a.Status)
	fmt.Fprintf(&b, "Requested:  %s\n", formatAge(a.CreatedAt, now))
	if a.ExpiresAt != nil {
		remaining := a.ExpiresAt.Sub(now)
		if remaining > 0 {
			fmt.Fprintf(&b, "Expires:    in %s\n", formatDuration(remaining))
		} else {
			fmt.Fprintf(&b, "Expires:    overdue\n")
		}
	}
	if a.DecidedBy != "" {
		fmt.Fprintf(&b, "Decided by: %s\n", a.DecidedBy)
	}
	if a.Payload != "" {
		b.WriteString("Payload:\n")
		var pretty map[string]any
		if err := json.Unmarshal([]byte(a.Payload), &pretty); err == nil {
			out, _ := json.MarshalIndent(pretty, "  ", "  ")
			fmt.Fprintf(&b, "  %s\n", out)
		} else {
			fmt.Fprintf(&b, "  %s\n", truncate(a.Payload, 500))
		}
	}
	return b.String()
}
