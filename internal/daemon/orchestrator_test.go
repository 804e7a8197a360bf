package daemon

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmarsh/overseer/internal/agent"
	"github.com/dmarsh/overseer/internal/config"
	"github.com/dmarsh/overseer/internal/session"
	"github.com/dmarsh/overseer/internal/store"
	"github.com/dmarsh/overseer/internal/types"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Provider = "script"
	cfg.Model = "test-model"
	cfg.SensitiveTools = []string{"danger_*"}
	return cfg
}

func newTestOrchestrator(t *testing.T, steps agent.StepFunc) (*Orchestrator, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "overseer.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	reg := agent.NewRegistry()
	reg.Register(agent.NewScriptAdapter(steps))

	orch := NewOrchestrator(context.Background(), st, reg, testConfig())
	t.Cleanup(orch.Shutdown)
	return orch, st
}

func waitForStatus(t *testing.T, st *store.Store, id string, want types.SessionStatus) *types.Session {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := st.GetSession(id)
		if err != nil {
			t.Fatalf("get session: %v", err)
		}
		if sess.Status == want {
			return sess
		}
		time.Sleep(10 * time.Millisecond)
	}
	sess, _ := st.GetSession(id)
	t.Fatalf("session %s never reached %s (now %s/%s)", id, want, sess.Status, sess.StatusReason)
	return nil
}

func waitForPendingApproval(t *testing.T, st *store.Store, sessionID string) *types.ApprovalRequest {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		req, err := st.GetPendingApproval(sessionID)
		if err == nil {
			return req
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no pending approval appeared for %s", sessionID)
	return nil
}

func TestSessionRunsToCompletion(t *testing.T) {
	orch, st := newTestOrchestrator(t, nil) // default echo script

	sess, err := orch.CreateSession(session.CreateConfig{
		WorkDir: t.TempDir(),
		Prompt:  "do the thing",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.Provider != "script" || sess.Model != "test-model" {
		t.Errorf("config defaults not applied: %s/%s", sess.Provider, sess.Model)
	}

	done := waitForStatus(t, st, sess.ID, types.StatusCompleted)
	if done.Usage.IsZero() {
		t.Error("completed session should have accumulated token usage")
	}

	turns, err := st.ListTurns(sess.ID)
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2 (prompt + echo)", len(turns))
	}
	if turns[0].Role != types.RoleHuman || turns[1].Role != types.RoleAgent {
		t.Errorf("turn roles = %s, %s", turns[0].Role, turns[1].Role)
	}
	if turns[1].Content != "echo: do the thing" {
		t.Errorf("agent turn = %q", turns[1].Content)
	}
}

func TestSensitiveToolApprovedResumes(t *testing.T) {
	orch, st := newTestOrchestrator(t, func(cfg agent.RunConfig) []agent.Step {
		return []agent.Step{
			{Tool: &agent.ToolCall{ID: "call_1", Name: "danger_delete", Input: `{"path":"/x"}`}},
		}
	})

	sess, err := orch.CreateSession(session.CreateConfig{WorkDir: t.TempDir(), Prompt: "go"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	waitForStatus(t, st, sess.ID, types.StatusWaitingApproval)
	req := waitForPendingApproval(t, st, sess.ID)
	if req.ToolName != "danger_delete" || req.CallID != "call_1" {
		t.Errorf("approval = %+v", req)
	}

	if _, err := orch.DecideApproval(req.ID, true, "human:test"); err != nil {
		t.Fatalf("decide: %v", err)
	}
	waitForStatus(t, st, sess.ID, types.StatusCompleted)

	got, err := st.GetApproval(req.ID)
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if got.Status != types.ApprovalApproved || got.DecidedBy != "human:test" {
		t.Errorf("approval after decide = %+v", got)
	}
}

func TestSensitiveToolDeniedFails(t *testing.T) {
	orch, st := newTestOrchestrator(t, func(cfg agent.RunConfig) []agent.Step {
		return []agent.Step{
			{Tool: &agent.ToolCall{ID: "call_1", Name: "danger_rm"}},
		}
	})

	sess, err := orch.CreateSession(session.CreateConfig{WorkDir: t.TempDir(), Prompt: "go"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	waitForStatus(t, st, sess.ID, types.StatusWaitingApproval)
	req := waitForPendingApproval(t, st, sess.ID)

	if _, err := orch.DecideApproval(req.ID, false, "human:test"); err != nil {
		t.Fatalf("decide: %v", err)
	}
	done := waitForStatus(t, st, sess.ID, types.StatusFailed)
	if done.StatusReason != "approval_denied" {
		t.Errorf("status reason = %q, want approval_denied", done.StatusReason)
	}
}

func TestNonSensitiveToolAutoApproved(t *testing.T) {
	orch, st := newTestOrchestrator(t, func(cfg agent.RunConfig) []agent.Step {
		return []agent.Step{
			{Tool: &agent.ToolCall{ID: "call_1", Name: "read_file"}},
		}
	})

	sess, err := orch.CreateSession(session.CreateConfig{WorkDir: t.TempDir(), Prompt: "go"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	waitForStatus(t, st, sess.ID, types.StatusCompleted)

	approvals, err := st.ListApprovals(sess.ID, "")
	if err != nil {
		t.Fatalf("list approvals: %v", err)
	}
	if len(approvals) != 0 {
		t.Errorf("non-sensitive tool created %d approvals", len(approvals))
	}
}

func TestCancelRunningSession(t *testing.T) {
	orch, st := newTestOrchestrator(t, func(cfg agent.RunConfig) []agent.Step {
		return []agent.Step{
			{Delay: 10 * time.Second, Turn: "never"},
		}
	})

	sess, err := orch.CreateSession(session.CreateConfig{WorkDir: t.TempDir(), Prompt: "go"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	waitForStatus(t, st, sess.ID, types.StatusRunning)

	if _, err := orch.CancelSession(sess.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	done := waitForStatus(t, st, sess.ID, types.StatusFailed)
	if done.StatusReason != reasonCancelled {
		t.Errorf("status reason = %q, want %q", done.StatusReason, reasonCancelled)
	}

	// Cancel again: no-op on terminal.
	if _, err := orch.CancelSession(sess.ID); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
}

func TestCancelWhileWaitingApprovalDeniesPending(t *testing.T) {
	orch, st := newTestOrchestrator(t, func(cfg agent.RunConfig) []agent.Step {
		return []agent.Step{
			{Tool: &agent.ToolCall{ID: "call_1", Name: "danger_rm"}},
		}
	})

	sess, err := orch.CreateSession(session.CreateConfig{WorkDir: t.TempDir(), Prompt: "go"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	waitForStatus(t, st, sess.ID, types.StatusWaitingApproval)
	req := waitForPendingApproval(t, st, sess.ID)

	if _, err := orch.CancelSession(sess.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitForStatus(t, st, sess.ID, types.StatusFailed)

	got, err := st.GetApproval(req.ID)
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if got.Status != types.ApprovalDenied || got.DecidedBy != "system:cancel" {
		t.Errorf("approval after cancel = %s/%s", got.Status, got.DecidedBy)
	}
}

func TestPauseAndResume(t *testing.T) {
	orch, st := newTestOrchestrator(t, func(cfg agent.RunConfig) []agent.Step {
		// First run blocks; the post-resume run completes quickly
		// because the transcript already holds an agent turn.
		for _, turn := range cfg.History {
			if turn.Role == types.RoleAgent {
				return []agent.Step{{Turn: "wrapping up"}}
			}
		}
		return []agent.Step{
			{Turn: "started"},
			{Delay: 10 * time.Second, Turn: "never"},
		}
	})

	sess, err := orch.CreateSession(session.CreateConfig{WorkDir: t.TempDir(), Prompt: "go"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	waitForStatus(t, st, sess.ID, types.StatusRunning)

	// Let the first turn land before pausing.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		turns, _ := st.ListTurns(sess.ID)
		if len(turns) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := orch.PauseSession(sess.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	waitForStatus(t, st, sess.ID, types.StatusPaused)

	if _, err := orch.ResumeSession(sess.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	waitForStatus(t, st, sess.ID, types.StatusCompleted)
}

func TestContinueSessionInheritsConfig(t *testing.T) {
	orch, st := newTestOrchestrator(t, nil)

	parent, err := orch.CreateSession(session.CreateConfig{WorkDir: t.TempDir(), Prompt: "first"})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	waitForStatus(t, st, parent.ID, types.StatusCompleted)

	child, err := orch.ContinueSession(parent.ID, "second")
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if child.ParentID != parent.ID {
		t.Errorf("child parent = %q, want %q", child.ParentID, parent.ID)
	}
	if child.WorkDir != parent.WorkDir || child.Provider != parent.Provider {
		t.Errorf("child did not inherit config")
	}
	waitForStatus(t, st, child.ID, types.StatusCompleted)
}

func TestContinueSessionCarriesParentHistory(t *testing.T) {
	var mu sync.Mutex
	histories := make(map[string][]*types.ConversationTurn)
	orch, st := newTestOrchestrator(t, func(cfg agent.RunConfig) []agent.Step {
		mu.Lock()
		histories[cfg.SessionID] = cfg.History
		mu.Unlock()
		return []agent.Step{{Turn: "noted"}}
	})

	parent, err := orch.CreateSession(session.CreateConfig{
		WorkDir: t.TempDir(),
		Prompt:  "the secret is 42",
	})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	waitForStatus(t, st, parent.ID, types.StatusCompleted)

	child, err := orch.ContinueSession(parent.ID, "what was the secret?")
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	waitForStatus(t, st, child.ID, types.StatusCompleted)

	mu.Lock()
	got := histories[child.ID]
	mu.Unlock()

	// Parent prompt + parent agent turn + child prompt.
	if len(got) != 3 {
		t.Fatalf("child history has %d turn(s), want 3", len(got))
	}
	if got[0].Content != "the secret is 42" || got[0].Role != types.RoleHuman {
		t.Errorf("history[0] = %s %q, want parent prompt", got[0].Role, got[0].Content)
	}
	if got[1].Role != types.RoleAgent {
		t.Errorf("history[1] role = %s, want agent", got[1].Role)
	}
	if got[2].Content != "what was the secret?" || got[2].Role != types.RoleHuman {
		t.Errorf("history[2] = %s %q, want child prompt", got[2].Role, got[2].Content)
	}

	grandchild, err := orch.ContinueSession(child.ID, "and again?")
	if err != nil {
		t.Fatalf("continue grandchild: %v", err)
	}
	waitForStatus(t, st, grandchild.ID, types.StatusCompleted)

	mu.Lock()
	got = histories[grandchild.ID]
	mu.Unlock()
	if len(got) != 5 {
		t.Fatalf("grandchild history has %d turn(s), want 5", len(got))
	}
	if got[0].Content != "the secret is 42" {
		t.Errorf("grandchild history does not start at the root prompt: %q", got[0].Content)
	}
}

func TestRecoverFailsOrphanedRunningSessions(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "overseer.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	orphan := &types.Session{
		ID:       "ses_orphan",
		Status:   types.StatusRunning,
		WorkDir:  "/tmp/w",
		Provider: "script",
		Model:    "test-model",
	}
	if _, err := st.CreateSession(orphan); err != nil {
		t.Fatalf("create orphan: %v", err)
	}

	reg := agent.NewRegistry()
	reg.Register(agent.NewScriptAdapter(nil))
	orch := NewOrchestrator(context.Background(), st, reg, testConfig())
	t.Cleanup(orch.Shutdown)

	if err := orch.Recover(); err != nil {
		t.Fatalf("recover: %v", err)
	}
	sess := waitForStatus(t, st, orphan.ID, types.StatusFailed)
	if sess.StatusReason != reasonRestart {
		t.Errorf("status reason = %q, want %q", sess.StatusReason, reasonRestart)
	}
}

func TestRecoverStartsPendingSessions(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "overseer.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	pending := &types.Session{
		ID:       "ses_pending",
		Status:   types.StatusPending,
		WorkDir:  "/tmp/w",
		Provider: "script",
		Model:    "test-model",
	}
	if _, err := st.CreateSession(pending); err != nil {
		t.Fatalf("create pending: %v", err)
	}

	reg := agent.NewRegistry()
	reg.Register(agent.NewScriptAdapter(nil))
	orch := NewOrchestrator(context.Background(), st, reg, testConfig())
	t.Cleanup(orch.Shutdown)

	if err := orch.Recover(); err != nil {
		t.Fatalf("recover: %v", err)
	}
	waitForStatus(t, st, pending.ID, types.StatusCompleted)
}

func TestApprovalSurvivesRestartAndResumesOnApprove(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "overseer.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	// First process: session suspends on a sensitive tool call.
	reg := agent.NewRegistry()
	reg.Register(agent.NewScriptAdapter(func(cfg agent.RunConfig) []agent.Step {
		// After the restart the transcript holds no agent turns yet, so
		// the same script would re-request approval. Complete instead
		// once the tool turn exists.
		for _, turn := range cfg.History {
			if turn.Role == types.RoleAgent {
				return []agent.Step{{Turn: "done"}}
			}
		}
		return []agent.Step{
			{Tool: &agent.ToolCall{ID: "call_1", Name: "danger_rm"}},
		}
	}))
	orch1 := NewOrchestrator(context.Background(), st, reg, testConfig())

	sess, err := orch1.CreateSession(session.CreateConfig{WorkDir: t.TempDir(), Prompt: "go"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	waitForStatus(t, st, sess.ID, types.StatusWaitingApproval)
	req := waitForPendingApproval(t, st, sess.ID)

	orch1.Shutdown()
	if err := st.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	// Second process over the same database.
	st2, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { _ = st2.Close() })

	reg2 := agent.NewRegistry()
	reg2.Register(agent.NewScriptAdapter(func(cfg agent.RunConfig) []agent.Step {
		return []agent.Step{{Turn: "resumed after restart"}}
	}))
	orch2 := NewOrchestrator(context.Background(), st2, reg2, testConfig())
	t.Cleanup(orch2.Shutdown)

	if err := orch2.Recover(); err != nil {
		t.Fatalf("recover: %v", err)
	}

	// The approval is still pending and the session still suspended.
	got, err := st2.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != types.StatusWaitingApproval {
		t.Fatalf("session after restart = %s, want waiting_approval", got.Status)
	}

	if _, err := orch2.DecideApproval(req.ID, true, "human:late"); err != nil {
		t.Fatalf("decide after restart: %v", err)
	}
	waitForStatus(t, st2, sess.ID, types.StatusCompleted)
}

func TestCreateSessionUnknownProvider(t *testing.T) {
	orch, _ := newTestOrchestrator(t, nil)
	_, err := orch.CreateSession(session.CreateConfig{
		WorkDir:  t.TempDir(),
		Provider: "nonexistent",
		Prompt:   "go",
	})
	if err == nil {
		t.Fatal("create with unknown provider should fail")
	}
}
