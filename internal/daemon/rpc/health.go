package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmarsh/overseer/internal/daemon"
	"github.com/dmarsh/overseer/internal/types"
)

// HealthResponse represents the response from the health check RPC.
type HealthResponse struct {
	Status         string `json:"status"` // "ok" or "degraded"
	Uptime         int64  `json:"uptime_ms"`
	Version        string `json:"version"`
	ActiveSessions int    `json:"active_sessions"`
	Subscribers    int    `json:"subscribers"`
	WSPort         int    `json:"ws_port,omitempty"`
}

// HealthHandler handles the health check RPC.
type HealthHandler struct {
	orch      *daemon.Orchestrator
	startTime time.Time
	version   string
	wsPort    int
	wsPortFn  func() int
}

// NewHealthHandler creates a new health check handler.
func NewHealthHandler(orch *daemon.Orchestrator, startTime time.Time, version string) *HealthHandler {
	return &HealthHandler{orch: orch, startTime: startTime, version: version}
}

// SetWSPort records the bound WebSocket port for the health report.
func (h *HealthHandler) SetWSPort(port int) {
	h.wsPort = port
}

// SetWSPortFunc installs a lazy port getter for servers that bind after
// handler registration (listen on port 0).
func (h *HealthHandler) SetWSPortFunc(fn func() int) {
	h.wsPortFn = fn
}

// Handle handles the health check request.
func (h *HealthHandler) Handle(ctx context.Context, params json.RawMessage) (any, error) {
	status := "ok"
	var active int
	sessions, err := h.orch.Sessions.List(types.SessionFilter{Active: true})
	if err != nil {
		status = "degraded"
	} else {
		active = len(sessions)
	}

	port := h.wsPort
	if port == 0 && h.wsPortFn != nil {
		port = h.wsPortFn()
	}

	return &HealthResponse{
		Status:         status,
		Uptime:         time.Since(h.startTime).Milliseconds(),
		Version:        h.version,
		ActiveSessions: active,
		Subscribers:    h.orch.Broker.Count(),
		WSPort:         port,
	}, nil
}
