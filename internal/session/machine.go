// Package session implements the session lifecycle state machine and the
// manager that serializes transitions per session while letting distinct
// sessions progress in parallel.
package session

import (
	"fmt"

	"github.com/dmarsh/overseer/internal/types"
)

// Trigger is a state-machine input that moves a session along one edge.
type Trigger string

const (
	TriggerStart           Trigger = "start"            // pending -> running
	TriggerRequestApproval Trigger = "request_approval" // running -> waiting_approval
	TriggerApprove         Trigger = "approve"          // waiting_approval -> running
	TriggerDeny            Trigger = "deny"             // waiting_approval -> failed
	TriggerExpire          Trigger = "expire"           // waiting_approval -> failed
	TriggerPause           Trigger = "pause"            // running -> paused
	TriggerResume          Trigger = "resume"           // paused -> running
	TriggerComplete        Trigger = "complete"         // running -> completed
	TriggerFail            Trigger = "fail"             // any non-terminal -> failed
	TriggerCancel          Trigger = "cancel"           // any non-terminal -> failed
)

// transitions is the full edge set. Anything absent is an invalid edge.
var transitions = map[types.SessionStatus]map[Trigger]types.SessionStatus{
	types.StatusPending: {
		TriggerStart:  types.StatusRunning,
		TriggerFail:   types.StatusFailed,
		TriggerCancel: types.StatusFailed,
	},
	types.StatusRunning: {
		TriggerRequestApproval: types.StatusWaitingApproval,
		TriggerPause:           types.StatusPaused,
		TriggerComplete:        types.StatusCompleted,
		TriggerFail:            types.StatusFailed,
		TriggerCancel:          types.StatusFailed,
	},
	types.StatusWaitingApproval: {
		TriggerApprove: types.StatusRunning,
		TriggerDeny:    types.StatusFailed,
		TriggerExpire:  types.StatusFailed,
		TriggerFail:    types.StatusFailed,
		TriggerCancel:  types.StatusFailed,
	},
	types.StatusPaused: {
		TriggerResume: types.StatusRunning,
		TriggerFail:   types.StatusFailed,
		TriggerCancel: types.StatusFailed,
	},
	// completed and failed are terminal: no outgoing edges.
	types.StatusCompleted: {},
	types.StatusFailed:    {},
}

// Next returns the status reached by applying trigger from the given
// status, or ErrInvalidTransition when no such edge exists.
func Next(from types.SessionStatus, trigger Trigger) (types.SessionStatus, error) {
	edges, ok := transitions[from]
	if !ok {
		return "", fmt.Errorf("unknown status %q: %w", from, types.ErrInvalidTransition)
	}
	next, ok := edges[trigger]
	if !ok {
		return "", fmt.Errorf("no edge %s --%s-->: %w", from, trigger, types.ErrInvalidTransition)
	}
	return next, nil
}

// CanApply reports whether trigger is legal from the given status.
func CanApply(from types.SessionStatus, trigger Trigger) bool {
	_, err := Next(from, trigger)
	return err == nil
}
