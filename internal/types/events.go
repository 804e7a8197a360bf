package types

import (
	"encoding/json"
	"time"
)

// EventType classifies a state-change event in the journal.
type EventType string

const (
	EventSessionCreated   EventType = "session.created"
	EventSessionStatus    EventType = "session.status"
	EventTurnAppended     EventType = "turn.appended"
	EventApprovalRequested EventType = "approval.requested"
	EventApprovalResolved  EventType = "approval.resolved"
)

// Event is one durable state change. Seq is assigned by the store at
// commit time; subscribers observe a session's events in Seq order.
type Event struct {
	Seq       int64           `json:"seq"`
	ID        string          `json:"event_id"`
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SessionStatusPayload is the payload of session.created and
// session.status events.
type SessionStatusPayload struct {
	Status   SessionStatus `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	ParentID string        `json:"parent_id,omitempty"`
}

// TurnAppendedPayload is the payload of turn.appended events.
type TurnAppendedPayload struct {
	TurnID string     `json:"turn_id"`
	Seq    int64      `json:"seq"`
	Role   TurnRole   `json:"role"`
	Usage  TokenUsage `json:"usage"`
}

// ApprovalPayload is the payload of approval.requested and
// approval.resolved events.
type ApprovalPayload struct {
	ApprovalID string         `json:"approval_id"`
	ToolName   string         `json:"tool_name"`
	Status     ApprovalStatus `json:"status"`
	DecidedBy  string         `json:"decided_by,omitempty"`
}

// NewEvent builds an event with the payload marshaled in place. The Seq
// and ID fields are filled in by the store when the event is committed.
func NewEvent(typ EventType, sessionID string, payload any) (Event, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		raw = data
	}
	return Event{
		Type:      typ,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}
