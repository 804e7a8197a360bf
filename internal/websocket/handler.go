package websocket

import (
	"context"
	"encoding/json"
)

// Handler is a function that handles a JSON-RPC request. Matches the
// daemon.Handler signature so the unix-socket handlers can be reused
// over WebSocket unchanged.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// HandlerRegistry provides access to registered RPC handlers.
type HandlerRegistry interface {
	// GetHandler retrieves a handler by method name.
	GetHandler(method string) (Handler, bool)
}

// HandlerMap is a plain map-backed HandlerRegistry.
type HandlerMap map[string]Handler

// GetHandler implements HandlerRegistry.
func (m HandlerMap) GetHandler(method string) (Handler, bool) {
	h, ok := m[method]
	return h, ok
}
