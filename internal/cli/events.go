package cli

import (
	"fmt"
	"strings"

	"github.com/dmarsh/overseer/internal/daemon"
	"github.com/dmarsh/overseer/internal/daemon/rpc"
	"github.com/dmarsh/overseer/internal/types"
)

// EventsSince replays journal events after the given sequence number.
func EventsSince(client *daemon.Client, sinceSeq int64, sessionID string, limit int) ([]types.Event, error) {
	req := rpc.EventsSinceRequest{
		SinceSeq:  sinceSeq,
		SessionID: sessionID,
		Limit:     limit,
	}

	var result rpc.EventsSinceResponse
	if err := client.CallInto("events.since", req, &result); err != nil {
		return nil, fmt.Errorf("events.since RPC failed: %w", err)
	}
	return result.Events, nil
}

// FormatEventList renders a journal slice, one event per line.
func FormatEventList(events []types.Event) string {
	if len(events) == 0 {
		return "No events.\n"
	}
	var b strings.Builder
	for _, e := range events {
		b.WriteString(FormatEvent(e))
		b.WriteString("\n")
	}
	return b.String()
}
