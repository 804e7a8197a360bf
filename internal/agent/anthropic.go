package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/dmarsh/overseer/internal/types"
)

const defaultMaxTokens = 4096

// AnthropicAdapter runs sessions against the Anthropic Messages API. It
// loops over assistant responses, surfacing each tool_use block as a
// tool-call event and feeding the answer back as a tool_result, until
// the model stops asking for tools.
type AnthropicAdapter struct {
	client anthropic.Client
}

// NewAnthropicAdapter creates an adapter that reads ANTHROPIC_API_KEY
// from the environment.
func NewAnthropicAdapter() *AnthropicAdapter {
	return &AnthropicAdapter{client: anthropic.NewClient()}
}

// NewAnthropicAdapterWithKey creates an adapter with an explicit API key.
func NewAnthropicAdapterWithKey(apiKey string) *AnthropicAdapter {
	return &AnthropicAdapter{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

// Name implements Adapter.
func (a *AnthropicAdapter) Name() string {
	return "anthropic"
}

// Start implements Adapter.
func (a *AnthropicAdapter) Start(ctx context.Context, cfg RunConfig) (Stream, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("anthropic: model is required")
	}

	s := &anthropicStream{
		events:  make(chan Event, 16),
		answers: make(chan answer, 1),
	}
	go s.run(ctx, a.client, cfg)
	return s, nil
}

type anthropicStream struct {
	events  chan Event
	answers chan answer

	mu     sync.Mutex
	closed bool
}

func (s *anthropicStream) Events() <-chan Event {
	return s.events
}

func (s *anthropicStream) Answer(callID string, approved bool) error {
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

func (s *anthropicStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *anthropicStream) run(ctx context.Context, client anthropic.Client, cfg RunConfig) {
	defer close(s.events)

	emit := func(evt Event) bool {
		select {
		case s.events <- evt:
			return true
		case <-ctx.Done():
			return false
		}
	}

	messages := historyToMessages(cfg.History)

	for {
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(cfg.Model),
			Messages:  messages,
			MaxTokens: defaultMaxTokens,
		}
		if len(cfg.Tools) > 0 {
			params.Tools = toolParams(cfg.Tools)
		}

		stream := client.Messages.NewStreaming(ctx, params)

		var msg anthropic.Message
		for stream.Next() {
			event := stream.Current()
			_ = msg.Accumulate(event)
		}
		if err := stream.Err(); err != nil {
			if ctx.Err() != nil {
				// Cancelled: stop quietly, the orchestrator owns the
				// session transition.
				return
			}
			emit(Event{Type: EventFailed, Reason: fmt.Sprintf("anthropic: %v", err)})
			return
		}

		var text string
		var toolCalls []ToolCall
		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				text += block.Text
			case "tool_use":
				toolCalls = append(toolCalls, ToolCall{
					ID:    block.ID,
					Name:  block.Name,
					Input: string(block.Input),
				})
			}
		}

		if text != "" || len(toolCalls) == 0 {
			if !emit(Event{
				Type:    EventTurn,
				Content: text,
				Usage: types.TokenUsage{
					Input:         msg.Usage.InputTokens,
					Output:        msg.Usage.OutputTokens,
					CacheCreation: msg.Usage.CacheCreationInputTokens,
					CacheRead:     msg.Usage.CacheReadInputTokens,
				},
			}) {
				return
			}
		}

		if msg.StopReason != anthropic.StopReasonToolUse {
			emit(Event{Type: EventCompleted})
			return
		}

		// Replay the assistant message, then gate each tool call and
		// append approved results before the next round.
		messages = append(messages, msg.ToParam())
		var results []anthropic.ContentBlockParamUnion
		for _, call := range toolCalls {
			if !emit(Event{Type: EventToolCall, ToolCall: &call}) {
				return
			}

			select {
			case ans := <-s.answers:
				if !ans.approved {
					// Denied: stop producing further events.
					return
				}
				results = append(results, anthropic.NewToolResultBlock(
					call.ID, "approved by operator", false))
			case <-ctx.Done():
				return
			}
		}
		messages = append(messages, anthropic.NewUserMessage(results...))
	}
}

// historyToMessages converts the stored transcript into API messages.
// System turns are folded into the human side so nothing is lost.
func historyToMessages(history []*types.ConversationTurn) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case types.RoleAgent:
			messages = append(messages, anthropic.NewAssistantMessage(
				anthropic.NewTextBlock(turn.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(turn.Content)))
		}
	}
	return messages
}

func toolParams(tools []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schemaBytes, err := json.Marshal(t.InputSchema)
		if err != nil {
			continue
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: param.NewOpt(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: json.RawMessage(schemaBytes),
				},
			},
		})
	}
	return out
}
