package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmarsh/overseer/internal/types"
)

// Step is one scripted action for the script provider.
type Step struct {
	// Turn emits a turn with this content when non-empty.
	Turn  string
	Usage types.TokenUsage

	// Tool emits a tool-call request and blocks until answered.
	Tool *ToolCall

	// FailWith terminates the run with a failure when non-empty.
	FailWith string

	// Delay pauses before the step. Used to exercise cancellation.
	Delay time.Duration
}

// StepFunc builds the step list for one run.
type StepFunc func(cfg RunConfig) []Step

// ScriptAdapter is a deterministic in-process provider used by tests and
// as a stand-in engine when no API-backed provider is configured. It
// replays a scripted sequence of events, honoring tool-call answers and
// cooperative cancellation.
type ScriptAdapter struct {
	steps StepFunc
}

// NewScriptAdapter creates a script provider. A nil steps function
// installs the default echo script: one turn repeating the last human
// input, then completion.
func NewScriptAdapter(steps StepFunc) *ScriptAdapter {
	if steps == nil {
		steps = EchoSteps
	}
	return &ScriptAdapter{steps: steps}
}

// EchoSteps is the default script: echo the most recent human turn.
func EchoSteps(cfg RunConfig) []Step {
	content := "(no input)"
	for i := len(cfg.History) - 1; i >= 0; i-- {
		if cfg.History[i].Role == types.RoleHuman {
			content = cfg.History[i].Content
			break
		}
	}
	return []Step{{
		Turn:  "echo: " + content,
		Usage: types.TokenUsage{Input: int64(len(content)), Output: int64(len(content)) + 6},
	}}
}

// Name implements Adapter.
func (a *ScriptAdapter) Name() string {
	return "script"
}

// Start implements Adapter.
func (a *ScriptAdapter) Start(ctx context.Context, cfg RunConfig) (Stream, error) {
	s := &scriptStream{
		events:  make(chan Event, 16),
		answers: make(chan answer, 1),
	}
	go s.run(ctx, a.steps(cfg))
	return s, nil
}

type answer struct {
	callID   string
	approved bool
}

type scriptStream struct {
	events  chan Event
	answers chan answer

	mu     sync.Mutex
	closed bool
}

func (s *scriptStream) Events() <-chan Event {
	return s.events
}

func (s *scriptStream) Answer(callID string, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stream closed")
	}
	select {
	case s.answers <- answer{callID: callID, approved: approved}:
		return nil
	default:
		return fmt.Errorf("no pending tool call")
	}
}

func (s *scriptStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptStream) run(ctx context.Context, steps []Step) {
	defer close(s.events)

	emit := func(evt Event) bool {
		select {
		case s.events <- evt:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for _, step := range steps {
		if step.Delay > 0 {
			select {
			case <-time.After(step.Delay):
			case <-ctx.Done():
				return
			}
		}

		switch {
		case step.FailWith != "":
			emit(Event{Type: EventFailed, Reason: step.FailWith})
			return

		case step.Tool != nil:
			if !emit(Event{Type: EventToolCall, ToolCall: step.Tool}) {
				return
			}
			select {
			case ans := <-s.answers:
				if !ans.approved {
					// Denied: stop producing. The orchestrator already
					// failed the session through the approval decision.
					return
				}
				if !emit(Event{
					Type:    EventTurn,
					Content: fmt.Sprintf("tool %s executed", step.Tool.Name),
				}) {
					return
				}
			case <-ctx.Done():
				return
			}

		case step.Turn != "":
			if !emit(Event{Type: EventTurn, Content: step.Turn, Usage: step.Usage}) {
				return
			}
		}
	}

	emit(Event{Type: EventCompleted})
}
