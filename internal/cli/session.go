package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmarsh/overseer/internal/daemon"
	"github.com/dmarsh/overseer/internal/daemon/rpc"
	"github.com/dmarsh/overseer/internal/types"
)

// SessionNewOptions contains options for creating a session.
type SessionNewOptions struct {
	WorkDir  string
	Prompt   string
	Provider string
	Model    string
}

// SessionNew creates a new session.
func SessionNew(client *daemon.Client, opts SessionNewOptions) (*types.Session, error) {
	req := rpc.SessionCreateRequest{
		WorkDir:  opts.WorkDir,
		Prompt:   opts.Prompt,
		Provider: opts.Provider,
		Model:    opts.Model,
	}

	var result types.Session
	if err := client.CallInto("session.create", req, &result); err != nil {
		return nil, fmt.Errorf("session.create RPC failed: %w", err)
	}
	return &result, nil
}

// SessionListOptions contains filters for listing sessions.
type SessionListOptions struct {
	Status     string
	ParentID   string
	ActiveOnly bool
	Limit      int
}

// SessionList lists sessions matching the filter.
func SessionList(client *daemon.Client, opts SessionListOptions) ([]*types.Session, error) {
	req := rpc.SessionListRequest{
		Status:     opts.Status,
		ParentID:   opts.ParentID,
		ActiveOnly: opts.ActiveOnly,
		Limit:      opts.Limit,
	}

	var result rpc.SessionListResponse
	if err := client.CallInto("session.list", req, &result); err != nil {
		return nil, fmt.Errorf("session.list RPC failed: %w", err)
	}
	return result.Sessions, nil
}

// SessionGet fetches a single session by ID.
func SessionGet(client *daemon.Client, sessionID string) (*types.Session, error) {
	var result types.Session
	err := client.CallInto("session.get", rpc.SessionGetRequest{SessionID: sessionID}, &result)
	if err != nil {
		return nil, fmt.Errorf("session.get RPC failed: %w", err)
	}
	return &result, nil
}

// SessionContinue creates a child session continuing the parent's context.
func SessionContinue(client *daemon.Client, parentID, prompt string) (*types.Session, error) {
	req := rpc.SessionContinueRequest{SessionID: parentID, Prompt: prompt}

	var result types.Session
	if err := client.CallInto("session.continue", req, &result); err != nil {
		return nil, fmt.Errorf("session.continue RPC failed: %w", err)
	}
	return &result, nil
}

// SessionCancel cancels a session.
func SessionCancel(client *daemon.Client, sessionID string) (*types.Session, error) {
	var result types.Session
	err := client.CallInto("session.cancel", rpc.SessionCancelRequest{SessionID: sessionID}, &result)
	if err != nil {
		return nil, fmt.Errorf("session.cancel RPC failed: %w", err)
	}
	return &result, nil
}

// SessionPause pauses a running session.
func SessionPause(client *daemon.Client, sessionID string) (*types.Session, error) {
	var result types.Session
	err := client.CallInto("session.pause", rpc.SessionPauseRequest{SessionID: sessionID}, &result)
	if err != nil {
		return nil, fmt.Errorf("session.pause RPC failed: %w", err)
	}
	return &result, nil
}

// SessionResume resumes a paused session.
func SessionResume(client *daemon.Client, sessionID string) (*types.Session, error) {
	var result types.Session
	err := client.CallInto("session.resume", rpc.SessionResumeRequest{SessionID: sessionID}, &result)
	if err != nil {
		return nil, fmt.Errorf("session.resume RPC failed: %w", err)
	}
	return &result, nil
}

// SessionTranscript fetches the ordered conversation turns of a session.
func SessionTranscript(client *daemon.Client, sessionID string) (*rpc.TranscriptResponse, error) {
	var result rpc.TranscriptResponse
	err := client.CallInto("session.transcript", rpc.TranscriptRequest{SessionID: sessionID}, &result)
	if err != nil {
		return nil, fmt.Errorf("session.transcript RPC failed: %w", err)
	}
	return &result, nil
}

// FormatSessionList renders sessions as an aligned table.
func FormatSessionList(sessions []*types.Session, now time.Time) string {
	if len(sessions) == 0 {
		return "No sessions found.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-14s %-18s %-8s %-10s %s\n",
		"SESSION", "STATUS", "AGE", "TOKENS", "PROMPT")
	for _, s := range sessions {
		status := string(s.Status)
		if s.StatusReason != "" {
			status = fmt.Sprintf("%s (%s)", s.Status, s.StatusReason)
		}
		tokens := s.Usage.Input + s.Usage.Output
		fmt.Fprintf(&b, "%-14s %-18s %-8s %-10s %s\n",
			shortID(s.ID),
			truncate(status, 18),
			formatDuration(now.Sub(s.CreatedAt)),
			formatTokens(tokens),
			truncate(s.Prompt, 50))
	}
	fmt.Fprintf(&b, "\n%d session(s)\n", len(sessions))
	return b.String()
}

// FormatSession renders one session in detail.
func FormatSession(s *types.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session:    %s\n", s.ID)
	fmt.Fprintf(&b, "Status:     %s\n", s.Status)
	if s.StatusReason != "" {
		fmt.Fprintf(&b, "Reason:     %s\n", s.StatusReason)
	}
	if s.ParentID != "" {
		fmt.Fprintf(&b, "Parent:     %s\n", s.ParentID)
	}
	fmt.Fprintf(&b, "Provider:   %s / %s\n", s.Provider, s.Model)
	fmt.Fprintf(&b, "Workdir:    %s\n", s.WorkDir)
	fmt.Fprintf(&b, "Created:    %s\n", s.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Updated:    %s\n", s.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Tokens:     %s in / %s out", formatTokens(s.Usage.Input), formatTokens(s.Usage.Output))
	if s.Usage.CacheCreation > 0 || s.Usage.CacheRead > 0 {
		fmt.Fprintf(&b, " (cache: %s created, %s read)",
			formatTokens(s.Usage.CacheCreation), formatTokens(s.Usage.CacheRead))
	}
	b.WriteString("\n")
	if s.Prompt != "" {
		fmt.Fprintf(&b, "Prompt:     %s\n", truncate(s.Prompt, 200))
	}
	return b.String()
}

// FormatTranscript renders a session transcript, one block per turn.
func FormatTranscript(t *rpc.TranscriptResponse) string {
	if len(t.Turns) == 0 {
		return "Transcript is empty.\n"
	}

	var b strings.Builder
	for _, turn := range t.Turns {
		fmt.Fprintf(&b, "[%d] %s  %s\n", turn.Seq, strings.ToUpper(string(turn.Role)),
			turn.CreatedAt.Format("2006-01-02 15:04:05"))
		for _, line := range strings.Split(turn.Content, "\n") {
			fmt.Fprintf(&b, "    %s\n", line)
		}
		if !turn.Usage.IsZero() {
			fmt.Fprintf(&b, "    (%s in / %s out)\n",
				formatTokens(turn.Usage.Input), formatTokens(turn.Usage.Output))
		}
		b.WriteString("\n")
	}
	return b.String()
}
