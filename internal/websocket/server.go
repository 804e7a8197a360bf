package websocket

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmarsh/overseer/internal/broker"
)

// Server is the WebSocket side of the control protocol: the same RPC
// methods as the unix socket, plus subscribe/unsubscribe and pushed
// event notifications.
type Server struct {
	addr        string
	listener    net.Listener
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	registry    HandlerRegistry
	broker      *broker.Broker
	connections *connSet
	mu          sync.RWMutex
	shutdown    bool
	wg          sync.WaitGroup
}

// NewServer creates a WebSocket server. Addr may use port 0 to bind any
// free port; the bound port is available from Port after Start.
func NewServer(addr string, registry HandlerRegistry, b *broker.Broker) *Server {
	s := &Server{
		addr:        addr,
		registry:    registry,
		broker:      b,
		connections: newConnSet(),
		upgrader: websocket.Upgrader{
			// Local daemon: accept any origin.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start binds the listener and begins serving. The bound address is
// known once Start returns.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return fmt.Errorf("server is shutting down")
	}
	s.mu.Unlock()

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "websocket server error: %v\n", err)
		}
	}()
	return nil
}

// Stop closes all client connections and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	s.connections.closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown websocket server: %w", err)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
	return nil
}

// Port returns the bound TCP port, 0 before Start.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	return s.connections.count()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Lock spans the shutdown check and wg.Add so Stop cannot slip its
	// Wait in between.
	s.mu.RLock()
	if s.shutdown {
		s.mu.RUnlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.wg.Done()
		fmt.Fprintf(os.Stderr, "websocket upgrade error: %v\n", err)
		return
	}

	go s.handleConnection(context.Background(), conn)
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()

	wsConn := NewConnection(conn, s)
	s.connections.add(wsConn)

	errCh := make(chan error, 2)
	go func() { errCh <- wsConn.ReadLoop(ctx) }()
	go func() { errCh <- wsConn.WriteLoop(ctx) }()

	<-errCh
	_ = wsConn.Close()
}

func (s *Server) getHandler(method string) (Handler, bool) {
	return s.registry.GetHandler(method)
}

// connSet tracks live connections so shutdown can close them all.
type connSet struct {
	mu    sync.Mutex
	conns map[*Connection]struct{}
}

func newConnSet() *connSet {
	return &connSet{conns: make(map[*Connection]struct{})}
}

func (cs *connSet) add(c *Connection) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.conns[c] = struct{}{}
}

func (cs *connSet) remove(c *Connection) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.conns, c)
}

func (cs *connSet) count() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.conns)
}

func (cs *connSet) closeAll() {
	cs.mu.Lock()
	conns := make([]*Connection, 0, len(cs.conns))
	for c := range cs.conns {
		conns = append(conns, c)
	}
	cs.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
