package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/dmarsh/overseer/internal/types"
)

func TestFormatApprovalList(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	approvals := []*types.ApprovalRequest{
		{
			ID:        "apr_01J9ABCDEFGH",
			SessionID: "ses_01J9ABCDEFGH",
			ToolName:  "run_command",
			Status:    types.ApprovalPending,
			CreatedAt: now.Add(-30 * time.Second),
		},
	}

	got := FormatApprovalList(approvals, now)
	if !strings.Contains(got, "run_command") {
		t.Errorf("missing tool name in:\n%s", got)
	}
	if !strings.Contains(got, "pending") {
		t.Errorf("missing status in:\n%s", got)
	}
	if !strings.Contains(got, "30s ago") {
		t.Errorf("missing age in:\n%s", got)
	}

	empty := FormatApprovalList(nil, now)
	if !strings.Contains(empty, "No approvals") {
		t.Errorf("expected empty notice, got %q", empty)
	}
}

func TestFormatApproval(t *testing.T) {
	now := time.Now()
	expires := now.Add(4 * time.Minute)
	a := &types.ApprovalRequest{
		ID:        "apr_01TEST",
		SessionID: "ses_01TEST",
		ToolName:  "write_file",
		CallID:    "toolu_abc",
		Payload:   `{"path":"/etc/hosts","content":"x"}`,
		Status:    types.ApprovalPending,
		CreatedAt: now.Add(-time.Minute),
		ExpiresAt: &expires,
	}

	got := FormatApproval(a, now)
	for _, want := range []string{"apr_01TEST", "write_file", "pending", "Expires:", "/etc/hosts"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatApproval missing %q in:\n%s", want, got)
		}
	}
}

func TestFormatApprovalNonJSONPayload(t *testing.T) {
	a := &types.ApprovalRequest{
		ID:        "apr_01TEST",
		SessionID: "ses_01TEST",
		ToolName:  "run_command",
		Payload:   "rm -rf build/",
		Status:    types.ApprovalDenied,
		DecidedBy: "human:drew",
		CreatedAt: time.Now(),
	}

	got := FormatApproval(a, time.Now())
	if !strings.Contains(got, "rm -rf build/") {
		t.Errorf("raw payload not shown in:\n%s", got)
	}
	if !strings.Contains(got, "human:drew") {
		t.Errorf("decider not shown in:\n%s", got)
	}
}
