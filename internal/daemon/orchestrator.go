package daemon

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmarsh/overseer/internal/agent"
	"github.com/dmarsh/overseer/internal/approval"
	"github.com/dmarsh/overseer/internal/broker"
	"github.com/dmarsh/overseer/internal/config"
	"github.com/dmarsh/overseer/internal/session"
	"github.com/dmarsh/overseer/internal/store"
	"github.com/dmarsh/overseer/internal/types"
)

// StatusReason values written by the orchestrator.
const (
	reasonRestart   = "daemon_restart"
	reasonCancelled = "cancelled"
)

// Orchestrator is the daemon core: it owns the durable store, the
// session lifecycle, the approval workflow, the event broker, and one
// runner goroutine per executing session. RPC and WebSocket handlers
// call into it; nothing else mutates state.
type Orchestrator struct {
	Store    *store.Store
	Sessions *session.Manager
	Approval *approval.Engine
	Broker   *broker.Broker
	Registry *agent.Registry
	Config   *config.Config

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu      sync.Mutex
	runners map[string]*runner
}

type runner struct {
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewOrchestrator assembles the daemon core. Runners launch on the
// given base context and stop when it is cancelled.
func NewOrchestrator(ctx context.Context, st *store.Store, reg *agent.Registry, cfg *config.Config) *Orchestrator {
	runCtx, cancel := context.WithCancel(ctx)
	group, runCtx := errgroup.WithContext(runCtx)

	b := broker.New(cfg.QueueSize)
	o := &Orchestrator{
		Store:    st,
		Sessions: session.NewManager(st, b),
		Approval: approval.NewEngine(st, b),
		Broker:   b,
		Registry: reg,
		Config:   cfg,
		ctx:      runCtx,
		cancel:   cancel,
		group:    group,
		runners:  make(map[string]*runner),
	}
	o.Sessions.ValidProvider = reg.Has
	return o
}

// Recover reconciles durable state with reality after a restart:
// sessions recorded as running lost their in-memory execution, so they
// fail with reason daemon_restart; approvals past their deadline
// expire, live ones get their timers re-armed; sessions still pending
// are started.
func (o *Orchestrator) Recover() error {
	running, err := o.Sessions.List(types.SessionFilter{Status: types.StatusRunning})
	if err != nil {
		return fmt.Errorf("recover: list running: %w", err)
	}
	for _, sess := range running {
		if _, err := o.Sessions.Transition(sess.ID, session.TriggerFail, reasonRestart); err != nil {
			return fmt.Errorf("recover: fail session %s: %w", sess.ID, err)
		}
		fmt.Fprintf(os.Stderr, "recovery: session %s failed (%s)\n", sess.ID, reasonRestart)
	}

	alive, err := o.Approval.Recover()
	if err != nil {
		return fmt.Errorf("recover: approvals: %w", err)
	}
	for _, req := range alive {
		fmt.Fprintf(os.Stderr, "recovery: approval %s still pending for session %s\n", req.ID, req.SessionID)
	}

	pending, err := o.Sessions.List(types.SessionFilter{Status: types.StatusPending})
	if err != nil {
		return fmt.Errorf("recover: list pending: %w", err)
	}
	for _, sess := range pending {
		if err := o.startRunner(sess.ID); err != nil {
			fmt.Fprintf(os.Stderr, "recovery: start session %s: %v\n", sess.ID, err)
		}
	}
	return nil
}

// CreateSession creates a pending session and immediately starts its
// runner.
func (o *Orchestrator) CreateSession(cfg session.CreateConfig) (*types.Session, error) {
	if cfg.Provider == "" {
		cfg.Provider = o.Config.Provider
	}
	if cfg.Model == "" {
		cfg.Model = o.Config.Model
	}
	sess, err := o.Sessions.Create(cfg)
	if err != nil {
		return nil, err
	}
	if err := o.startRunner(sess.ID); err != nil {
		return nil, err
	}
	return sess, nil
}

// ContinueSession creates and starts a child session inheriting the
// parent's configuration and transcript.
func (o *Orchestrator) ContinueSession(parentID, input string) (*types.Session, error) {
	sess, err := o.Sessions.Continue(parentID, input)
	if err != nil {
		return nil, err
	}
	if err := o.startRunner(sess.ID); err != nil {
		return nil, err
	}
	return sess, nil
}

// CancelSession fails a session and stops its runner. Idempotent on
// terminal sessions.
func (o *Orchestrator) CancelSession(id string) (*types.Session, error) {
	o.stopRunner(id)
	return o.Sessions.Cancel(id, reasonCancelled)
}

// PauseSession suspends a running session: the runner stops, the
// session parks in paused until resumed.
func (o *Orchestrator) PauseSession(id string) (*types.Session, error) {
	sess, err := o.Sessions.Transition(id, session.TriggerPause, "")
	if err != nil {
		return nil, err
	}
	o.stopRunner(id)
	return sess, nil
}

// ResumeSession restarts a paused session with its full transcript.
func (o *Orchestrator) ResumeSession(id string) (*types.Session, error) {
	sess, err := o.Sessions.Transition(id, session.TriggerResume, "")
	if err != nil {
		return nil, err
	}
	if err := o.ensureRunner(id); err != nil {
		return nil, err
	}
	return sess, nil
}

// DecideApproval records the decision. When an approval granted after a
// restart has no live runner, a fresh one picks the session back up.
func (o *Orchestrator) DecideApproval(approvalID string, approve bool, decider string) (*store.ResolveOutcome, error) {
	res, err := o.Approval.Decide(approvalID, approve, decider)
	if err != nil {
		return nil, err
	}
	if res.SessionStatus == types.StatusRunning {
		if err := o.ensureRunner(res.Approval.SessionID); err != nil {
			fmt.Fprintf(os.Stderr, "restart runner for %s: %v\n", res.Approval.SessionID, err)
		}
	}
	return res, nil
}

// Shutdown stops all runners and waits for them to drain. Sessions
// caught mid-run fail with reason daemon_restart on the next start's
// recovery; approvals stay pending.
func (o *Orchestrator) Shutdown() {
	o.cancel()
	_ = o.group.Wait()
	o.Approval.Stop()
	o.Broker.CloseAll()
}

func (o *Orchestrator) startRunner(sessionID string) error {
	return o.launch(sessionID, true)
}

// ensureRunner starts a runner for an already-running session (approval
// granted, resume, restart recovery) unless one is live.
func (o *Orchestrator) ensureRunner(sessionID string) error {
	return o.launch(sessionID, false)
}

func (o *Orchestrator) launch(sessionID string, fresh bool) error {
	o.mu.Lock()
	if _, ok := o.runners[sessionID]; ok {
		o.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(o.ctx)
	r := &runner{sessionID: sessionID, cancel: cancel, done: make(chan struct{})}
	o.runners[sessionID] = r
	o.mu.Unlock()

	o.group.Go(func() error {
		defer close(r.done)
		defer func() {
			o.mu.Lock()
			delete(o.runners, sessionID)
			o.mu.Unlock()
			cancel()
		}()
		o.run(runCtx, sessionID, fresh)
		return nil
	})
	return nil
}

func (o *Orchestrator) stopRunner(sessionID string) {
	o.mu.Lock()
	r, ok := o.runners[sessionID]
	o.mu.Unlock()
	if !ok {
		return
	}
	r.cancel()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		fmt.Fprintf(os.Stderr, "runner for %s did not stop in time\n", sessionID)
	}
}

// run drives one session through the agent engine until a terminal
// event, an approval denial, or cancellation.
func (o *Orchestrator) run(ctx context.Context, sessionID string, fresh bool) {
	if fresh {
		if _, err := o.Sessions.Transition(sessionID, session.TriggerStart, ""); err != nil {
			fmt.Fprintf(os.Stderr, "start session %s: %v\n", sessionID, err)
			return
		}
	}

	sess, err := o.Sessions.Get(sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load session %s: %v\n", sessionID, err)
		return
	}

	adapter, err := o.Registry.Get(sess.Provider)
	if err != nil {
		o.failSession(sessionID, fmt.Sprintf("unknown provider %s", sess.Provider))
		return
	}

	history, err := o.history(sessionID)
	if err != nil {
		o.failSession(sessionID, "transcript unavailable")
		return
	}

	stream, err := adapter.Start(ctx, agent.RunConfig{
		SessionID: sessionID,
		WorkDir:   sess.WorkDir,
		Model:     sess.Model,
		History:   history,
	})
	if err != nil {
		o.failSession(sessionID, fmt.Sprintf("engine start: %v", err))
		return
	}
	defer func() { _ = stream.Close() }()

	for {
		select {
		case <-ctx.Done():
			// Cancel, pause, or shutdown: whoever cancelled the context
			// owns the session transition.
			return
		case evt, ok := <-stream.Events():
			if !ok {
				if ctx.Err() == nil {
					// Stream ended without a terminal event (denied
					// approval stops the engine). Leave the session
					// state to the approval resolution.
					return
				}
				return
			}
			if done := o.handleEvent(ctx, sessionID, stream, evt); done {
				return
			}
		}
	}
}

// handleEvent applies one engine event. Returns true when the runner
// should stop.
func (o *Orchestrator) handleEvent(ctx context.Context, sessionID string, stream agent.Stream, evt agent.Event) bool {
	switch evt.Type {
	case agent.EventTurn:
		_, turnEvt, err := o.Store.AppendTurn(sessionID, types.RoleAgent, evt.Content, evt.Usage)
		if err != nil {
			fmt.Fprintf(os.Stderr, "append turn for %s: %v\n", sessionID, err)
			o.failSession(sessionID, "transcript write failed")
			return true
		}
		o.Broker.Publish(turnEvt)
		return false

	case agent.EventToolCall:
		return o.handleToolCall(ctx, sessionID, stream, evt.ToolCall)

	case agent.EventCompleted:
		if _, err := o.Sessions.Transition(sessionID, session.TriggerComplete, ""); err != nil {
			fmt.Fprintf(os.Stderr, "complete session %s: %v\n", sessionID, err)
		}
		return true

	case agent.EventFailed:
		o.failSession(sessionID, evt.Reason)
		return true
	}
	return false
}

// handleToolCall gates a proposed action. Non-sensitive tools proceed
// immediately; sensitive ones suspend the session until a human (or the
// expiry timer) decides.
func (o *Orchestrator) handleToolCall(ctx context.Context, sessionID string, stream agent.Stream, call *agent.ToolCall) bool {
	if call == nil {
		return false
	}

	if !o.Config.IsSensitive(call.Name) {
		if err := stream.Answer(call.ID, true); err != nil {
			fmt.Fprintf(os.Stderr, "answer tool call %s: %v\n", call.ID, err)
			o.failSession(sessionID, "engine rejected tool answer")
			return true
		}
		return false
	}

	req, err := o.Approval.Request(sessionID, call.Name, call.ID, call.Input, o.Config.ApprovalTimeout())
	if err != nil {
		fmt.Fprintf(os.Stderr, "request approval for %s: %v\n", sessionID, err)
		o.failSession(sessionID, "approval request failed")
		return true
	}

	waiter, err := o.Approval.Await(req.ID)
	if err != nil {
		return true
	}

	select {
	case <-ctx.Done():
		o.Approval.Abandon(req.ID)
		return true
	case decision, ok := <-waiter:
		if !ok || !decision.Approved {
			// Denial or expiry already failed the session.
			return true
		}
		if err := stream.Answer(call.ID, true); err != nil {
			fmt.Fprintf(os.Stderr, "answer tool call %s: %v\n", call.ID, err)
			o.failSession(sessionID, "engine rejected tool answer")
			return true
		}
		return false
	}
}

func (o *Orchestrator) failSession(sessionID, reason string) {
	if _, err := o.Sessions.Transition(sessionID, session.TriggerFail, reason); err != nil {
		fmt.Fprintf(os.Stderr, "fail session %s: %v\n", sessionID, err)
	}
}

// history returns the transcript replayed to the engine: every
// ancestor's turns oldest-first, then the session's own, capped at the
// configured limit (most recent turns win). Continued sessions keep
// their conversation context through this chain walk.
func (o *Orchestrator) history(sessionID string) ([]*types.ConversationTurn, error) {
	var lineage []string
	seen := make(map[string]bool)
	for id := sessionID; id != "" && !seen[id]; {
		seen[id] = true
		lineage = append(lineage, id)
		sess, err := o.Store.GetSession(id)
		if err != nil {
			return nil, err
		}
		id = sess.ParentID
	}

	var turns []*types.ConversationTurn
	for i := len(lineage) - 1; i >= 0; i-- {
		t, err := o.Store.ListTurns(lineage[i])
		if err != nil {
			return nil, err
		}
		turns = append(turns, t...)
	}
	if limit := o.Config.HistoryLimit; limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}
