// Package approval coordinates human-in-the-loop decisions on sensitive
// agent actions. The store holds the durable record; the engine layers
// expiry timers and in-process decision delivery on top.
package approval

import (
	"fmt"
	"sync"
	"time"

	"github.com/dmarsh/overseer/internal/identity"
	"github.com/dmarsh/overseer/internal/store"
	"github.com/dmarsh/overseer/internal/types"
)

// Publisher receives committed events for fan-out to subscribers.
type Publisher interface {
	Publish(events ...types.Event)
}

// Decision is delivered to the in-process waiter when an approval
// reaches a terminal status.
type Decision struct {
	Approval *types.ApprovalRequest
	Approved bool
}

// Engine owns the approval workflow: request, decide, expire. All
// mutations go through the store first; timers and waiter channels are
// rebuilt from the store on restart, so nothing here is authoritative.
type Engine struct {
	store *store.Store
	pub   Publisher

	mu      sync.Mutex
	timers  map[string]*time.Timer
	waiters map[string]chan Decision
}

// NewEngine creates an approval engine over the given store.
func NewEngine(st *store.Store, pub Publisher) *Engine {
	return &Engine{
		store:   st,
		pub:     pub,
		timers:  make(map[string]*time.Timer),
		waiters: make(map[string]chan Decision),
	}
}

// Request records a pending approval for a tool call and suspends the
// session. A non-zero timeout arms an expiry timer; zero means the
// request waits indefinitely. Returns ErrConflict when the session
// already has a pending approval.
func (e *Engine) Request(sessionID, toolName, callID, payload string, timeout time.Duration) (*types.ApprovalRequest, error) {
	req := &types.ApprovalRequest{
		ID:        identity.GenerateApprovalID(),
		SessionID: sessionID,
		ToolName:  toolName,
		CallID:    callID,
		Payload:   payload,
	}
	if timeout > 0 {
		at := time.Now().UTC().Add(timeout)
		req.ExpiresAt = &at
	}

	events, err := e.store.CreateApproval(req)
	if err != nil {
		return nil, err
	}
	e.pub.Publish(events...)

	e.mu.Lock()
	e.waiters[req.ID] = make(chan Decision, 1)
	if req.ExpiresAt != nil {
		e.armLocked(req.ID, time.Until(*req.ExpiresAt))
	}
	e.mu.Unlock()

	return req, nil
}

// Await returns the channel that carries the decision for an approval
// requested in this process. The channel is buffered; the decision is
// delivered exactly once. Returns an error for approvals this process
// did not request (e.g. pre-restart ones).
func (e *Engine) Await(approvalID string) (<-chan Decision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.waiters[approvalID]
	if !ok {
		return nil, fmt.Errorf("approval %s has no in-process waiter: %w", approvalID, types.ErrNotFound)
	}
	return ch, nil
}

// Decide resolves a pending approval. Approval resumes the session;
// denial fails it. The first decision wins: a second call returns
// ErrConflict.
func (e *Engine) Decide(approvalID string, approve bool, decider string) (*store.ResolveOutcome, error) {
	outcome := types.ApprovalDenied
	reason := "approval_denied"
	if approve {
		outcome = types.ApprovalApproved
		reason = ""
	}
	return e.resolve(approvalID, outcome, decider, reason)
}

// Expire resolves a pending approval as timed out, failing its session.
// Used by the expiry timer and exposed for tests.
func (e *Engine) Expire(approvalID string) (*store.ResolveOutcome, error) {
	return e.resolve(approvalID, types.ApprovalExpired, "system:timeout", "approval_timeout")
}

func (e *Engine) resolve(approvalID string, outcome types.ApprovalStatus, decider, reason string) (*store.ResolveOutcome, error) {
	res, err := e.store.ResolveApproval(approvalID, outcome, decider, reason)
	if err != nil {
		return nil, err
	}
	e.pub.Publish(res.Events...)

	e.mu.Lock()
	if t, ok := e.timers[approvalID]; ok {
		t.Stop()
		delete(e.timers, approvalID)
	}
	ch, ok := e.waiters[approvalID]
	if ok {
		delete(e.waiters, approvalID)
	}
	e.mu.Unlock()

	if ok {
		ch <- Decision{Approval: res.Approval, Approved: outcome == types.ApprovalApproved}
		close(ch)
	}
	return res, nil
}

// Abandon drops the in-process waiter and timer for an approval without
// touching its durable record. Called when a session's runner stops for
// reasons other than a decision (cancel denies the approval in the
// store already).
func (e *Engine) Abandon(approvalID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[approvalID]; ok {
		t.Stop()
		delete(e.timers, approvalID)
	}
	delete(e.waiters, approvalID)
}

// Recover re-arms expiry timers for approvals that were pending when
// the process last stopped. Requests already past their deadline are
// expired immediately. Returns the approvals that remain pending.
func (e *Engine) Recover() ([]*types.ApprovalRequest, error) {
	pending, err := e.store.ListApprovals("", types.ApprovalPending)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var alive []*types.ApprovalRequest
	for _, req := range pending {
		if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
			if _, err := e.Expire(req.ID); err != nil {
				return nil, fmt.Errorf("expire stale approval %s: %w", req.ID, err)
			}
			continue
		}
		e.mu.Lock()
		if req.ExpiresAt != nil {
			e.armLocked(req.ID, time.Until(*req.ExpiresAt))
		}
		e.mu.Unlock()
		alive = append(alive, req)
	}
	return alive, nil
}

// Stop cancels all timers without resolving anything. Pending approvals
// stay pending in the store for the next process to recover.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}

func (e *Engine) armLocked(approvalID string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	e.timers[approvalID] = time.AfterFunc(d, func() {
		// Losing the race against a concurrent decision is fine: the
		// store keeps the first terminal status.
		_, _ = e.Expire(approvalID)
	})
}
