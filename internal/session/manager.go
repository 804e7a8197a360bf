package session

import (
	"fmt"
	"sync"

	"github.com/dmarsh/overseer/internal/identity"
	"github.com/dmarsh/overseer/internal/store"
	"github.com/dmarsh/overseer/internal/types"
)

// Publisher receives committed events for fan-out to subscribers. The
// manager always persists before publishing (write-then-notify).
type Publisher interface {
	Publish(events ...types.Event)
}

// CreateConfig is the validated input for creating a session.
type CreateConfig struct {
	WorkDir  string
	Provider string
	Model    string
	Prompt   string
	ParentID string
}

// Manager applies lifecycle transitions through the store. All
// transitions for one session id are serialized behind a per-session
// mutex; distinct sessions transition independently.
type Manager struct {
	store     *store.Store
	publisher Publisher

	// ValidProvider reports whether a provider name is registered.
	// Set by the orchestrator before any Create call.
	ValidProvider func(name string) bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a session manager backed by the given store.
func NewManager(st *store.Store, publisher Publisher) *Manager {
	return &Manager{
		store:     st,
		publisher: publisher,
		locks:     make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the mutex serializing transitions for a session id.
func (m *Manager) sessionLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

func (m *Manager) publish(events ...types.Event) {
	if m.publisher != nil && len(events) > 0 {
		m.publisher.Publish(events...)
	}
}

// Create validates the configuration and persists a new pending session.
// The prompt, when present, is recorded as the session's first human turn
// so the transcript is complete from the start.
func (m *Manager) Create(cfg CreateConfig) (*types.Session, error) {
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("create session: working directory is required")
	}
	if cfg.Provider == "" {
		return nil, fmt.Errorf("create session: provider is required")
	}
	if m.ValidProvider != nil && !m.ValidProvider(cfg.Provider) {
		return nil, fmt.Errorf("create session: unknown provider %q", cfg.Provider)
	}

	sess := &types.Session{
		ID:       identity.GenerateSessionID(),
		ParentID: cfg.ParentID,
		Status:   types.StatusPending,
		WorkDir:  cfg.WorkDir,
		Provider: cfg.Provider,
		Model:    cfg.Model,
		Prompt:   cfg.Prompt,
	}

	evt, err := m.store.CreateSession(sess)
	if err != nil {
		return nil, err
	}
	m.publish(evt)

	if cfg.Prompt != "" {
		_, turnEvt, err := m.store.AppendTurn(sess.ID, types.RoleHuman, cfg.Prompt, types.TokenUsage{})
		if err != nil {
			return nil, fmt.Errorf("record prompt turn: %w", err)
		}
		m.publish(turnEvt)
	}

	return sess, nil
}

// Continue creates a child session that carries forward the parent's
// conversation context. The child starts pending and is independent of
// the parent's lifecycle once created.
func (m *Manager) Continue(parentID, input string) (*types.Session, error) {
	parent, err := m.store.GetSession(parentID)
	if err != nil {
		return nil, fmt.Errorf("continue session: %w", err)
	}

	return m.Create(CreateConfig{
		WorkDir:  parent.WorkDir,
		Provider: parent.Provider,
		Model:    parent.Model,
		Prompt:   input,
		ParentID: parent.ID,
	})
}

// Transition applies exactly one state-machine edge. Illegal edges fail
// with ErrInvalidTransition and leave the session unchanged.
func (m *Manager) Transition(id string, trigger Trigger, reason string) (*types.Session, error) {
	lock := m.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.store.GetSession(id)
	if err != nil {
		return nil, err
	}

	next, err := Next(sess.Status, trigger)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}

	updated, evt, err := m.store.TransitionSession(id, sess.Status, next, reason)
	if err != nil {
		return nil, err
	}
	m.publish(evt)
	return updated, nil
}

// Cancel fails a non-terminal session, denying any pending approval.
// Cancelling an already-terminal session is a no-op, not an error.
func (m *Manager) Cancel(id, reason string) (*types.Session, error) {
	lock := m.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	sess, events, err := m.store.CancelSession(id, reason)
	if err != nil {
		return nil, err
	}
	m.publish(events...)
	return sess, nil
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*types.Session, error) {
	return m.store.GetSession(id)
}

// List returns sessions matching the filter.
func (m *Manager) List(filter types.SessionFilter) ([]*types.Session, error) {
	return m.store.ListSessions(filter)
}
