package store

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmarsh/overseer/internal/identity"
	"github.com/dmarsh/overseer/internal/types"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "overseer.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, dbPath
}

func newTestSession(t *testing.T, s *Store, status types.SessionStatus) *types.Session {
	t.Helper()
	sess := &types.Session{
		ID:       identity.GenerateSessionID(),
		Status:   status,
		WorkDir:  "/tmp/work",
		Provider: "script",
		Model:    "test-model",
	}
	if _, err := s.CreateSession(sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func TestCreateSession_AndGet(t *testing.T) {
	s, _ := newTestStore(t)

	sess := newTestSession(t, s, types.StatusPending)

	got, err := s.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != types.StatusPending {
		t.Errorf("expected status pending, got %s", got.Status)
	}
	if got.Provider != "script" || got.Model != "test-model" {
		t.Errorf("unexpected config round-trip: %+v", got)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.GetSession("ses_missing")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateSession_UnknownParent(t *testing.T) {
	s, _ := newTestStore(t)

	sess := &types.Session{
		ID:       identity.GenerateSessionID(),
		ParentID: "ses_ghost",
		Status:   types.StatusPending,
		WorkDir:  "/tmp",
		Provider: "script",
		Model:    "m",
	}
	if _, err := s.CreateSession(sess); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown parent, got %v", err)
	}
}

func TestDurability_ReopenRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "overseer.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	sess := &types.Session{
		ID:       identity.GenerateSessionID(),
		Status:   types.StatusPending,
		WorkDir:  "/tmp/work",
		Provider: "script",
		Model:    "test-model",
	}
	if _, err := s.CreateSession(sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, _, err := s.AppendTurn(sess.ID, types.RoleHuman, "hello", types.TokenUsage{Input: 3}); err != nil {
		t.Fatalf("append turn: %v", err)
	}
	if _, _, err := s.AppendTurn(sess.ID, types.RoleAgent, "hi there", types.TokenUsage{Output: 5, CacheRead: 2}); err != nil {
		t.Fatalf("append turn: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	// Reopen simulates a daemon restart after commit.
	s2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer func() { _ = s2.Close() }()

	got, err := s2.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("get session after reopen: %v", err)
	}
	if got.Usage.Input != 3 || got.Usage.Output != 5 || got.Usage.CacheRead != 2 {
		t.Errorf("usage not durable: %+v", got.Usage)
	}

	turns, err := s2.ListTurns(sess.ID)
	if err != nil {
		t.Fatalf("list turns after reopen: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Seq != 1 || turns[1].Seq != 2 {
		t.Errorf("turn sequence not preserved: %d, %d", turns[0].Seq, turns[1].Seq)
	}
	if turns[0].Content != "hello" || turns[1].Content != "hi there" {
		t.Errorf("turn content not preserved")
	}
}

func TestTransitionSession_StaleFrom(t *testing.T) {
	s, _ := newTestStore(t)
	sess := newTestSession(t, s, types.StatusPending)

	if _, _, err := s.TransitionSession(sess.ID, types.StatusPending, types.StatusRunning, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}

	// Second transition from pending must fail: status is now running.
	_, _, err := s.TransitionSession(sess.ID, types.StatusPending, types.StatusRunning, "")
	if !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestUpdateSession_PartialMutation(t *testing.T) {
	s, _ := newTestStore(t)
	sess := newTestSession(t, s, types.StatusRunning)

	// Usage-only mutation: counters move, status stays, no status event.
	got, events, err := s.UpdateSession(sess.ID, types.SessionMutation{
		AddUsage: &types.TokenUsage{Input: 100, Output: 40},
	})
	if err != nil {
		t.Fatalf("update usage: %v", err)
	}
	if got.Usage.Input != 100 || got.Usage.Output != 40 {
		t.Errorf("usage = %+v, want 100/40", got.Usage)
	}
	if got.Status != types.StatusRunning {
		t.Errorf("status changed to %s", got.Status)
	}
	if len(events) != 0 {
		t.Errorf("usage-only mutation emitted %d event(s)", len(events))
	}

	// Second AddUsage increments rather than replaces.
	got, _, err = s.UpdateSession(sess.ID, types.SessionMutation{
		AddUsage: &types.TokenUsage{Input: 1},
	})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if got.Usage.Input != 101 {
		t.Errorf("input tokens = %d, want 101", got.Usage.Input)
	}

	// Status mutation commits a session.status event in the same
	// transaction.
	failed := types.StatusFailed
	reason := "engine gone"
	got, events, err = s.UpdateSession(sess.ID, types.SessionMutation{
		Status:       &failed,
		StatusReason: &reason,
	})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if got.Status != types.StatusFailed || got.StatusReason != "engine gone" {
		t.Errorf("session = %s/%q", got.Status, got.StatusReason)
	}
	if len(events) != 1 || events[0].Type != types.EventSessionStatus {
		t.Fatalf("events = %+v, want one session.status", events)
	}

	var payload types.SessionStatusPayload
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Status != types.StatusFailed || payload.Reason != "engine gone" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestUpdateSession_NotFound(t *testing.T) {
	s, _ := newTestStore(t)

	running := types.StatusRunning
	_, _, err := s.UpdateSession("ses_missing", types.SessionMutation{Status: &running})
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateApproval_Conflict(t *testing.T) {
	s, _ := newTestStore(t)
	sess := newTestSession(t, s, types.StatusRunning)

	first := &types.ApprovalRequest{
		ID:        identity.GenerateApprovalID(),
		SessionID: sess.ID,
		ToolName:  "delete_file",
	}
	if _, err := s.CreateApproval(first); err != nil {
		t.Fatalf("first approval: %v", err)
	}

	got, err := s.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != types.StatusWaitingApproval {
		t.Errorf("expected waiting_approval, got %s", got.Status)
	}

	// Session is now waiting_approval, so a second request is rejected
	// before the pending check even fires.
	second := &types.ApprovalRequest{
		ID:        identity.GenerateApprovalID(),
		SessionID: sess.ID,
		ToolName:  "write_file",
	}
	_, err = s.CreateApproval(second)
	if !errors.Is(err, types.ErrInvalidTransition) && !errors.Is(err, types.ErrConflict) {
		t.Errorf("expected conflict or invalid transition, got %v", err)
	}
}

func TestCreateApproval_ConcurrentOneWins(t *testing.T) {
	s, _ := newTestStore(t)
	sess := newTestSession(t, s, types.StatusRunning)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := &types.ApprovalRequest{
				ID:        identity.GenerateApprovalID(),
				SessionID: sess.ID,
				ToolName:  "delete_file",
			}
			_, err := s.CreateApproval(req)
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)

	var successes, failures int
	for err := range errCh {
		if err == nil {
			successes++
			continue
		}
		failures++
		if !errors.Is(err, types.ErrConflict) && !errors.Is(err, types.ErrInvalidTransition) {
			t.Errorf("unexpected error kind: %v", err)
		}
	}
	if successes != 1 || failures != 1 {
		t.Errorf("expected exactly one winner, got %d successes / %d failures", successes, failures)
	}
}

func TestResolveApproval_DoubleResolveConflict(t *testing.T) {
	s, _ := newTestStore(t)
	sess := newTestSession(t, s, types.StatusRunning)

	req := &types.ApprovalRequest{
		ID:        identity.GenerateApprovalID(),
		SessionID: sess.ID,
		ToolName:  "delete_file",
	}
	if _, err := s.CreateApproval(req); err != nil {
		t.Fatalf("create approval: %v", err)
	}

	outcome, err := s.ResolveApproval(req.ID, types.ApprovalApproved, "alice", "")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if outcome.SessionStatus != types.StatusRunning {
		t.Errorf("expected session resumed to running, got %s", outcome.SessionStatus)
	}

	// Second resolution (deny after approve) must conflict and leave the
	// first decision intact.
	_, err = s.ResolveApproval(req.ID, types.ApprovalDenied, "bob", "")
	if !errors.Is(err, types.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	approval, err := s.GetApproval(req.ID)
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if approval.Status != types.ApprovalApproved || approval.DecidedBy != "alice" {
		t.Errorf("first decision not preserved: %+v", approval)
	}
}

func TestResolveApproval_DeniedFailsSession(t *testing.T) {
	s, _ := newTestStore(t)
	sess := newTestSession(t, s, types.StatusRunning)

	req := &types.ApprovalRequest{
		ID:        identity.GenerateApprovalID(),
		SessionID: sess.ID,
		ToolName:  "delete_file",
	}
	if _, err := s.CreateApproval(req); err != nil {
		t.Fatalf("create approval: %v", err)
	}

	outcome, err := s.ResolveApproval(req.ID, types.ApprovalDenied, "alice", "approval_denied")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome.SessionStatus != types.StatusFailed {
		t.Errorf("expected session failed, got %s", outcome.SessionStatus)
	}
	if outcome.Session.StatusReason != "approval_denied" {
		t.Errorf("expected reason recorded, got %q", outcome.Session.StatusReason)
	}
}

func TestCancelSession_Idempotent(t *testing.T) {
	s, _ := newTestStore(t)
	sess := newTestSession(t, s, types.StatusRunning)

	_, events, err := s.CancelSession(sess.ID, "canceled")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(events) == 0 {
		t.Error("expected events on first cancel")
	}

	got, events, err := s.CancelSession(sess.ID, "canceled")
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if len(events) != 0 {
		t.Error("second cancel must be a no-op")
	}
	if got.Status != types.StatusFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
}

func TestCancelSession_DeniesPendingApproval(t *testing.T) {
	s, _ := newTestStore(t)
	sess := newTestSession(t, s, types.StatusRunning)

	req := &types.ApprovalRequest{
		ID:        identity.GenerateApprovalID(),
		SessionID: sess.ID,
		ToolName:  "delete_file",
	}
	if _, err := s.CreateApproval(req); err != nil {
		t.Fatalf("create approval: %v", err)
	}

	if _, _, err := s.CancelSession(sess.ID, "canceled"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	approval, err := s.GetApproval(req.ID)
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if approval.Status != types.ApprovalDenied {
		t.Errorf("expected pending approval denied on cancel, got %s", approval.Status)
	}

	// A later explicit decision must conflict.
	if _, err := s.ResolveApproval(req.ID, types.ApprovalApproved, "alice", ""); !errors.Is(err, types.ErrConflict) {
		t.Errorf("expected ErrConflict after cancel, got %v", err)
	}
}

func TestEventsSince_CommitOrder(t *testing.T) {
	s, _ := newTestStore(t)
	sess := newTestSession(t, s, types.StatusPending)

	if _, _, err := s.TransitionSession(sess.ID, types.StatusPending, types.StatusRunning, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, _, err := s.AppendTurn(sess.ID, types.RoleAgent, "working", types.TokenUsage{}); err != nil {
		t.Fatalf("append turn: %v", err)
	}

	events, err := s.EventsSince(0, sess.ID, 0)
	if err != nil {
		t.Fatalf("events since: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	wantTypes := []types.EventType{types.EventSessionCreated, types.EventSessionStatus, types.EventTurnAppended}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("event %d: expected %s, got %s", i, want, events[i].Type)
		}
		if i > 0 && events[i].Seq <= events[i-1].Seq {
			t.Errorf("event %d: seq not increasing", i)
		}
	}
}

func TestGetPendingApproval(t *testing.T) {
	s, _ := newTestStore(t)
	sess := newTestSession(t, s, types.StatusRunning)

	if _, err := s.GetPendingApproval(sess.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound with no pending approval, got %v", err)
	}

	expires := time.Now().Add(5 * time.Second)
	req := &types.ApprovalRequest{
		ID:        identity.GenerateApprovalID(),
		SessionID: sess.ID,
		ToolName:  "delete_file",
		ExpiresAt: &expires,
	}
	if _, err := s.CreateApproval(req); err != nil {
		t.Fatalf("create approval: %v", err)
	}

	got, err := s.GetPendingApproval(sess.ID)
	if err != nil {
		t.Fatalf("get pending approval: %v", err)
	}
	if got.ID != req.ID {
		t.Errorf("expected %s, got %s", req.ID, got.ID)
	}
	if got.ExpiresAt == nil {
		t.Error("expected expiry round-trip")
	}
}

func TestListSessions_Filter(t *testing.T) {
	s, _ := newTestStore(t)

	a := newTestSession(t, s, types.StatusPending)
	b := newTestSession(t, s, types.StatusRunning)
	if _, _, err := s.CancelSession(b.ID, "canceled"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	child := &types.Session{
		ID:       identity.GenerateSessionID(),
		ParentID: a.ID,
		Status:   types.StatusPending,
		WorkDir:  "/tmp",
		Provider: "script",
		Model:    "m",
	}
	if _, err := s.CreateSession(child); err != nil {
		t.Fatalf("create child: %v", err)
	}

	active, err := s.ListSessions(types.SessionFilter{Active: true})
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("expected 2 active sessions, got %d", len(active))
	}

	children, err := s.ListSessions(types.SessionFilter{ParentID: a.ID})
	if err != nil {
		t.Fatalf("list children: %v", err)
	}
	if len(children) != 1 || children[0].ID != child.ID {
		t.Errorf("parent filter failed: %+v", children)
	}
}
