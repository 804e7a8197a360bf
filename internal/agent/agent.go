// Package agent defines the boundary to the agent execution engine. The
// orchestration core depends only on the Adapter capability; one variant
// implementation exists per provider.
package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dmarsh/overseer/internal/types"
)

// EventType classifies events emitted by a running agent.
type EventType string

const (
	// EventTurn carries a produced conversation turn and its token cost.
	EventTurn EventType = "turn"
	// EventToolCall reports that the agent wants to invoke a tool. The
	// stream stops producing until Answer is called for the tool call.
	EventToolCall EventType = "tool_call"
	// EventCompleted reports normal termination. Terminal.
	EventCompleted EventType = "completed"
	// EventFailed reports engine failure. Terminal.
	EventFailed EventType = "failed"
)

// ToolCall is an agent-proposed action awaiting a go/no-go answer.
type ToolCall struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input string `json:"input,omitempty"`
}

// Event is one element of an adapter's event stream. The stream is
// finite: it ends after EventCompleted or EventFailed, or when the run
// context is cancelled.
type Event struct {
	Type     EventType
	Content  string
	Usage    types.TokenUsage
	ToolCall *ToolCall
	Reason   string
}

// ToolDefinition advertises a tool to the agent engine.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// RunConfig is everything an adapter needs to execute one session.
type RunConfig struct {
	SessionID string
	WorkDir   string
	Model     string
	History   []*types.ConversationTurn
	Tools     []ToolDefinition
}

// Stream is a live agent execution. Cancellation is cooperative: the
// adapter observes the run context and stops producing further events;
// it is never killed mid-write.
type Stream interface {
	// Events returns the event channel. The adapter closes it once the
	// run terminates.
	Events() <-chan Event
	// Answer forwards the decision for a pending tool call. approved
	// lets the agent continue with the action; denied stops it.
	Answer(callID string, approved bool) error
	// Close releases the stream's resources. Idempotent.
	Close() error
}

// Adapter is the per-provider execution capability.
type Adapter interface {
	Name() string
	Start(ctx context.Context, cfg RunConfig) (Stream, error)
}

// Registry holds the configured provider adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its provider name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter for a provider name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return a, nil
}

// Has reports whether a provider is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[name]
	return ok
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
