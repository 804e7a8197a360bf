package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/dmarsh/overseer/internal/daemon/rpc"
	"github.com/dmarsh/overseer/internal/types"
)

func TestFormatSessionListEmpty(t *testing.T) {
	got := FormatSessionList(nil, time.Now())
	if !strings.Contains(got, "No sessions") {
		t.Errorf("expected empty notice, got %q", got)
	}
}

func TestFormatSessionList(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	sessions := []*types.Session{
		{
			ID:        "ses_01J9ABCDEFGHJKMNPQRSTVWXYZ",
			Status:    types.StatusRunning,
			Prompt:    "refactor the parser",
			Usage:     types.TokenUsage{Input: 1200, Output: 400},
			CreatedAt: now.Add(-5 * time.Minute),
		},
		{
			ID:           "ses_01J9ZZZZZZZZZZZZZZZZZZZZZZ",
			Status:       types.StatusFailed,
			StatusReason: "approval_denied",
			Prompt:       "delete all the things",
			CreatedAt:    now.Add(-2 * time.Hour),
		},
	}

	got := FormatSessionList(sessions, now)
	if !strings.Contains(got, "running") {
		t.Errorf("missing running status in:\n%s", got)
	}
	if !strings.Contains(got, "failed (approval_denied)") {
		t.Errorf("missing failure reason in:\n%s", got)
	}
	if !strings.Contains(got, "refactor the parser") {
		t.Errorf("missing prompt in:\n%s", got)
	}
	if !strings.Contains(got, "2 session(s)") {
		t.Errorf("missing count in:\n%s", got)
	}
}

func TestFormatSession(t *testing.T) {
	s := &types.Session{
		ID:       "ses_01TEST",
		ParentID: "ses_01PARENT",
		Status:   types.StatusCompleted,
		WorkDir:  "/tmp/project",
		Provider: "anthropic",
		Model:    "claude-sonnet-4-5",
		Prompt:   "write a haiku",
		Usage: types.TokenUsage{
			Input: 100, Output: 50, CacheCreation: 20, CacheRead: 10,
		},
		CreatedAt: time.Now().Add(-time.Minute),
		UpdatedAt: time.Now(),
	}

	got := FormatSession(s)
	for _, want := range []string{
		"ses_01TEST", "ses_01PARENT", "completed",
		"anthropic / claude-sonnet-4-5", "/tmp/project", "cache",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatSession missing %q in:\n%s", want, got)
		}
	}
}

func TestFormatTranscript(t *testing.T) {
	resp := &rpc.TranscriptResponse{
		SessionID: "ses_01TEST",
		Turns: []*types.ConversationTurn{
			{Seq: 1, Role: types.RoleHuman, Content: "hello", CreatedAt: time.Now()},
			{
				Seq: 2, Role: types.RoleAgent, Content: "hi there\nsecond line",
				Usage:     types.TokenUsage{Input: 10, Output: 5},
				CreatedAt: time.Now(),
			},
		},
	}

	got := FormatTranscript(resp)
	if !strings.Contains(got, "[1] HUMAN") {
		t.Errorf("missing human turn header in:\n%s", got)
	}
	if !strings.Contains(got, "[2] AGENT") {
		t.Errorf("missing agent turn header in:\n%s", got)
	}
	if !strings.Contains(got, "    second line") {
		t.Errorf("multi-line content not indented in:\n%s", got)
	}

	empty := FormatTranscript(&rpc.TranscriptResponse{SessionID: "ses_x"})
	if !strings.Contains(empty, "empty") {
		t.Errorf("expected empty notice, got %q", empty)
	}
}
