package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmarsh/overseer/internal/daemon"
	"github.com/dmarsh/overseer/internal/paths"
	"github.com/dmarsh/overseer/internal/types"
)

// WatchOptions configures the event watch loop.
type WatchOptions struct {
	SessionID string // empty watches all sessions
	JSON      bool   // emit raw event JSON, one object per line
	Out       io.Writer
}

// Watch connects to the daemon's WebSocket endpoint, subscribes to the
// event feed, and prints pushed events until ctx is cancelled. When the
// server reports a dropped frame, a gap notice is printed so the operator
// knows to replay the journal with events.since.
func Watch(ctx context.Context, opts WatchOptions) error {
	home, err := paths.Home()
	if err != nil {
		return err
	}
	port, err := daemon.ReadPortFile(paths.PortfilePath(home))
	if err != nil {
		return fmt.Errorf("daemon WebSocket port not available (is the daemon running?): %w", err)
	}

	url := fmt.Sprintf("ws://127.0.0.1:%d/ws", port)
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer func() { _ = conn.Close() }()

	subscribe := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "subscribe",
		"params":  map[string]any{"session_id": opts.SessionID},
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	// Unblock ReadMessage on cancellation.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		}

		var frame struct {
			Method string `json:"method"`
			Params struct {
				SubscriptionID int64       `json:"subscription_id"`
				Dropped        bool        `json:"dropped"`
				Event          types.Event `json:"event"`
			} `json:"params"`
			Result json.RawMessage `json:"result"`
			Error  *struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Error != nil {
			return fmt.Errorf("subscribe failed: %s (code %d)", frame.Error.Message, frame.Error.Code)
		}
		if frame.Method != "event" {
			continue // subscribe ack
		}

		if frame.Params.Dropped {
			fmt.Fprintf(opts.Out, "-- events dropped; replay with 'overseer events --since <seq>' --\n")
		}
		if opts.JSON {
			out, _ := json.Marshal(frame.Params.Event)
			fmt.Fprintln(opts.Out, string(out))
		} else {
			fmt.Fprintln(opts.Out, FormatEvent(frame.Params.Event))
		}
	}
}

// FormatEvent renders a single journal event for the watch stream.
func FormatEvent(e types.Event) string {
	ts := e.Timestamp.Format("15:04:05")
	detail := ""
	if len(e.Payload) > 0 {
		switch e.Type {
		case types.EventSessionCreated, types.EventSessionStatus:
			var p types.SessionStatusPayload
			if json.Unmarshal(e.Payload, &p) == nil {
				detail = string(p.Status)
				if p.Reason != "" {
					detail += " (" + p.Reason + ")"
				}
			}
		case types.EventTurnAppended:
			var p types.TurnAppendedPayload
			if json.Unmarshal(e.Payload, &p) == nil {
				detail = fmt.Sprintf("%s turn %d", p.Role, p.Seq)
			}
		case types.EventApprovalRequested:
			var p types.ApprovalPayload
			if json.Unmarshal(e.Payload, &p) == nil {
				detail = p.ToolName + " awaiting approval"
			}
		case types.EventApprovalResolved:
			var p types.ApprovalPayload
			if json.Unmarshal(e.Payload, &p) == nil {
				detail = string(p.Status)
				if p.DecidedBy != "" {
					detail += " by " + p.DecidedBy
				}
			}
		}
	}
	return fmt.Sprintf("%s  #%-6d %-20s %-14s %s",
		ts, e.Seq, e.Type, shortID(e.SessionID), detail)
}
