package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmarsh/overseer/internal/daemon"
	"github.com/dmarsh/overseer/internal/types"
)

// EventsSinceRequest represents the request for events.since. Clients
// whose push queue overflowed replay the journal from their last seen
// sequence number.
type EventsSinceRequest struct {
	SinceSeq  int64  `json:"since_seq"`
	SessionID string `json:"session_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// EventsSinceResponse represents the response from events.since.
type EventsSinceResponse struct {
	Events []types.Event `json:"events"`
}

// EventsHandler handles event journal RPC methods.
type EventsHandler struct {
	orch *daemon.Orchestrator
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(orch *daemon.Orchestrator) *EventsHandler {
	return &EventsHandler{orch: orch}
}

// HandleSince handles the events.since RPC method.
func (h *EventsHandler) HandleSince(ctx context.Context, params json.RawMessage) (any, error) {
	var req EventsSinceRequest
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
	}

	events, err := h.orch.Store.EventsSince(req.SinceSeq, req.SessionID, req.Limit)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []types.Event{}
	}
	return &EventsSinceResponse{Events: events}, nil
}
