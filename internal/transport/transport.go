// Package transport tags request contexts with the transport a call
// arrived over, so handlers and logs can distinguish unix-socket RPC
// from WebSocket traffic.
package transport

import "context"

// Kind identifies a connection transport.
type Kind int

const (
	// KindUnknown is the zero value for contexts with no transport set.
	KindUnknown Kind = iota
	// KindUnixSocket marks requests from the unix-socket RPC server.
	KindUnixSocket
	// KindWebSocket marks requests from the WebSocket server.
	KindWebSocket
)

// String returns the wire name of the transport kind.
func (k Kind) String() string {
	switch k {
	case KindUnixSocket:
		return "unix_socket"
	case KindWebSocket:
		return "websocket"
	default:
		return "unknown"
	}
}

type kindKey struct{}

// WithKind returns a context carrying the transport kind.
func WithKind(ctx context.Context, k Kind) context.Context {
	return context.WithValue(ctx, kindKey{}, k)
}

// FromContext retrieves the transport kind, KindUnknown when unset.
func FromContext(ctx context.Context) Kind {
	if k, ok := ctx.Value(kindKey{}).(Kind); ok {
		return k
	}
	return KindUnknown
}
