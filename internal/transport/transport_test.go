package transport

import (
	"context"
	"testing"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindUnixSocket, "unix_socket"},
		{KindWebSocket, "websocket"},
		{KindUnknown, "unknown"},
		{Kind(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := FromContext(ctx); got != KindUnknown {
		t.Errorf("empty context: got %v, want KindUnknown", got)
	}

	ctx = WithKind(ctx, KindWebSocket)
	if got := FromContext(ctx); got != KindWebSocket {
		t.Errorf("got %v, want KindWebSocket", got)
	}
}
