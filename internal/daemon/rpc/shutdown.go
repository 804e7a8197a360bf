package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmarsh/overseer/internal/transport"
)

// ShutdownResponse represents the response from daemon.shutdown.
type ShutdownResponse struct {
	Stopping bool `json:"stopping"`
}

// ShutdownHandler handles the daemon.shutdown RPC.
type ShutdownHandler struct {
	trigger func()
}

// NewShutdownHandler creates a shutdown handler. The trigger is invoked
// after the response is written, so the caller gets an acknowledgement.
func NewShutdownHandler(trigger func()) *ShutdownHandler {
	return &ShutdownHandler{trigger: trigger}
}

// Handle handles the daemon.shutdown request.
func (h *ShutdownHandler) Handle(ctx context.Context, params json.RawMessage) (any, error) {
	fmt.Fprintf(os.Stderr, "shutdown requested over %s\n", transport.FromContext(ctx))
	go h.trigger()
	return &ShutdownResponse{Stopping: true}, nil
}
