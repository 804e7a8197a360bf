// Package export writes a session's full history as JSONL for archival
// or offline analysis: one line for the session record, then its turns,
// approvals, and journal events in order.
package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dmarsh/overseer/internal/store"
	"github.com/dmarsh/overseer/internal/types"
)

// Line is one JSONL record. Exactly one of the payload fields is set,
// matching Kind.
type Line struct {
	Kind     string                  `json:"kind"` // session, turn, approval, event
	Session  *types.Session          `json:"session,omitempty"`
	Turn     *types.ConversationTurn `json:"turn,omitempty"`
	Approval *types.ApprovalRequest  `json:"approval,omitempty"`
	Event    *types.Event            `json:"event,omitempty"`
}

// Session streams one session's history to w as JSONL.
func Session(st *store.Store, sessionID string, w io.Writer) error {
	sess, err := st.GetSession(sessionID)
	if err != nil {
		return err
	}

	buf := bufio.NewWriter(w)
	enc := json.NewEncoder(buf)

	if err := enc.Encode(Line{Kind: "session", Session: sess}); err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	turns, err := st.ListTurns(sessionID)
	if err != nil {
		return err
	}
	for _, turn := range turns {
		if err := enc.Encode(Line{Kind: "turn", Turn: turn}); err != nil {
			return fmt.Errorf("encode turn: %w", err)
		}
	}

	approvals, err := st.ListApprovals(sessionID, "")
	if err != nil {
		return err
	}
	for _, apr := range approvals {
		if err := enc.Encode(Line{Kind: "approval", Approval: apr}); err != nil {
			return fmt.Errorf("encode approval: %w", err)
		}
	}

	events, err := st.EventsSince(0, sessionID, 0)
	if err != nil {
		return err
	}
	for i := range events {
		if err := enc.Encode(Line{Kind: "event", Event: &events[i]}); err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
	}

	return buf.Flush()
}

// SessionToFile exports a session to path via write-then-rename, so a
// failed export never leaves a truncated file behind.
func SessionToFile(st *store.Store, sessionID, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) //nolint:gosec // path chosen by operator
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmpPath) }()

	if err := Session(st, sessionID, f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
